package entity

import (
	"encoding/json"
	"sort"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/normalize"
)

// Set is a set of normalized identifier tokens.
type Set map[string]struct{}

// Add inserts v and reports whether the set grew. Empty values are ignored.
func (s Set) Add(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Has reports membership.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// IdentifierSets groups identifiers by kind. It is both the seed and the
// result of a closure over the identity graph.
type IdentifierSets struct {
	UserIDs            Set
	Emails             Set
	Phones             Set
	AnonymousIDs       Set
	DeviceFingerprints Set
}

// NewIdentifierSets returns empty, ready-to-use sets.
func NewIdentifierSets() IdentifierSets {
	return IdentifierSets{
		UserIDs:            Set{},
		Emails:             Set{},
		Phones:             Set{},
		AnonymousIDs:       Set{},
		DeviceFingerprints: Set{},
	}
}

// Seed holds raw caller-supplied identifiers before normalization.
type Seed struct {
	UserID            string
	Email             string
	Phone             string
	AnonymousID       string
	DeviceFingerprint string
}

// SetsFromSeed normalizes a seed into identifier sets.
func SetsFromSeed(seed Seed) IdentifierSets {
	s := NewIdentifierSets()
	s.UserIDs.Add(normalize.UserID(seed.UserID))
	s.Emails.Add(normalize.Email(seed.Email))
	s.Phones.Add(normalize.Phone(seed.Phone))
	s.AnonymousIDs.Add(normalize.AnonymousID(seed.AnonymousID))
	s.DeviceFingerprints.Add(normalize.DeviceFingerprint(seed.DeviceFingerprint))
	return s
}

// Clone returns an independent copy.
func (s IdentifierSets) Clone() IdentifierSets {
	c := NewIdentifierSets()
	for _, pair := range [][2]Set{
		{c.UserIDs, s.UserIDs},
		{c.Emails, s.Emails},
		{c.Phones, s.Phones},
		{c.AnonymousIDs, s.AnonymousIDs},
		{c.DeviceFingerprints, s.DeviceFingerprints},
	} {
		for v := range pair[1] {
			pair[0].Add(v)
		}
	}
	return c
}

// Len is the total number of identifiers across all kinds.
func (s IdentifierSets) Len() int {
	return len(s.UserIDs) + len(s.Emails) + len(s.Phones) + len(s.AnonymousIDs) + len(s.DeviceFingerprints)
}

// Empty reports whether no identifier of any kind is present.
func (s IdentifierSets) Empty() bool { return s.Len() == 0 }

// AddEdge folds every identifier of e into the sets and reports whether any
// set grew. Values are re-normalized so malformed storage rows cannot widen
// the closure with junk tokens.
func (s IdentifierSets) AddEdge(e Edge) bool {
	grew := s.UserIDs.Add(normalize.UserID(e.UserID))
	grew = s.Emails.Add(normalize.Email(e.Email)) || grew
	grew = s.Phones.Add(normalize.Phone(e.Phone)) || grew
	grew = s.AnonymousIDs.Add(normalize.AnonymousID(e.AnonymousID)) || grew
	grew = s.DeviceFingerprints.Add(normalize.DeviceFingerprint(e.DeviceFingerprint)) || grew
	return grew
}

// Matches reports whether e shares any identifier with s.
func (s IdentifierSets) Matches(e Edge) bool {
	return s.UserIDs.Has(e.UserID) ||
		s.Emails.Has(e.Email) ||
		s.Phones.Has(e.Phone) ||
		s.AnonymousIDs.Has(e.AnonymousID) ||
		s.DeviceFingerprints.Has(e.DeviceFingerprint)
}

type identifierSetsJSON struct {
	UserIDs            []string `json:"userIds"`
	Emails             []string `json:"emails"`
	Phones             []string `json:"phones"`
	AnonymousIDs       []string `json:"anonymousIds"`
	DeviceFingerprints []string `json:"deviceFingerprints"`
}

// MarshalJSON renders each kind as a sorted array.
func (s IdentifierSets) MarshalJSON() ([]byte, error) {
	return json.Marshal(identifierSetsJSON{
		UserIDs:            s.UserIDs.Sorted(),
		Emails:             s.Emails.Sorted(),
		Phones:             s.Phones.Sorted(),
		AnonymousIDs:       s.AnonymousIDs.Sorted(),
		DeviceFingerprints: s.DeviceFingerprints.Sorted(),
	})
}
