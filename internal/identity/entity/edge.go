package entity

import (
	"errors"
	"fmt"
)

// Method tags how an edge was observed.
type Method string

const (
	MethodLogin             Method = "deterministic_login"
	MethodUserID            Method = "deterministic_user_id"
	MethodEmail             Method = "deterministic_email"
	MethodPhone             Method = "deterministic_phone"
	MethodEmailPhone        Method = "deterministic_email_phone"
	MethodDeviceObservation Method = "probabilistic_device_fingerprint_observation"
)

const (
	// ConfidenceDeterministic is reserved for authoritative linkages.
	ConfidenceDeterministic = 1.0
	// ConfidenceDeviceFingerprint is used for shared-device observations without login.
	ConfidenceDeviceFingerprint = 0.8
)

// Deterministic reports whether m comes from an authoritative action.
func (m Method) Deterministic() bool {
	switch m {
	case MethodLogin, MethodUserID, MethodEmail, MethodPhone, MethodEmailPhone:
		return true
	}
	return false
}

// Edge is one immutable observation in the identity_graph table. An empty
// UserID marks an anonymous-only observation: raw signal for later merges,
// never a canonical identity on its own.
type Edge struct {
	AnonymousID       string  `json:"anonymous_id" db:"anonymous_id"`
	UserID            string  `json:"user_id" db:"user_id"`
	Email             string  `json:"email" db:"email"`
	Phone             string  `json:"phone" db:"phone"`
	DeviceFingerprint string  `json:"device_fingerprint" db:"device_fingerprint"`
	Method            Method  `json:"method" db:"method"`
	Confidence        float64 `json:"confidence" db:"confidence"`
	FirstSeen         string  `json:"first_seen" db:"first_seen"`
	LastSeen          string  `json:"last_seen" db:"last_seen"`
	LastEventID       string  `json:"last_event_id" db:"last_event_id"`
	Metadata          string  `json:"metadata" db:"metadata"`
}

var (
	ErrEdgeNoIdentifier  = errors.New("identity edge carries no identifier")
	ErrEdgeConfidence    = errors.New("identity edge confidence out of range")
	ErrEdgeDeterministic = errors.New("confidence 1.0 is reserved for deterministic methods")
)

// Validate checks the edge invariants before it is written.
func (e Edge) Validate() error {
	if e.AnonymousID == "" && e.UserID == "" && e.Email == "" && e.Phone == "" && e.DeviceFingerprint == "" {
		return ErrEdgeNoIdentifier
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrEdgeConfidence
	}
	if e.Confidence == ConfidenceDeterministic && !e.Method.Deterministic() {
		return ErrEdgeDeterministic
	}
	return nil
}

// ValidateEdges checks every edge of a batch and reports the first violation
// with its index. A batch is written whole or not at all.
func ValidateEdges(edges []Edge) error {
	for i, e := range edges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
	}
	return nil
}
