package entity

// Profile is the aggregate identity view for one canonical user, derived
// from the edge set at read time and never stored.
type Profile struct {
	CanonicalUserID    string   `json:"canonicalUserId"`
	AnonymousIDs       []string `json:"anonymousIds"`
	Emails             []string `json:"emails"`
	Phones             []string `json:"phones"`
	DeviceFingerprints []string `json:"deviceFingerprints"`
	Methods            []string `json:"methods"`
	EdgeCount          int64    `json:"edgeCount"`
	LastSeen           string   `json:"lastSeen"`
}
