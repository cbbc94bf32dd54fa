// Package normalize canonicalizes raw identifiers into comparable tokens.
// Every function is total: bad input yields "" and nothing panics or errors.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	maxOpaqueLen = 200
	maxEmailLen  = 320
	minPhoneLen  = 7
	maxPhoneLen  = 20

	// TimestampLayout is the textual timestamp format of every storage field.
	TimestampLayout = "2006-01-02 15:04:05.000"
)

func opaque(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxOpaqueLen {
		return ""
	}
	return s
}

// UserID normalizes a canonical user id.
func UserID(s string) string { return opaque(s) }

// AnonymousID normalizes a client-generated anonymous id.
func AnonymousID(s string) string { return opaque(s) }

// DeviceFingerprint normalizes a device fingerprint token.
func DeviceFingerprint(s string) string { return opaque(s) }

// Email trims and lowercases. Values without "@" or longer than 320 are rejected.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > maxEmailLen || !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// Phone keeps only digits; 7 to 20 digits are accepted.
func Phone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) < minPhoneLen || len(d) > maxPhoneLen {
		return ""
	}
	return d
}

// Kind names one of the identifier families.
type Kind string

const (
	KindUserID            Kind = "user_id"
	KindAnonymousID       Kind = "anonymous_id"
	KindEmail             Kind = "email"
	KindPhone             Kind = "phone"
	KindDeviceFingerprint Kind = "device_fingerprint"
)

// Any coerces a loosely typed JSON value (string or finite number) and
// normalizes it as kind. Other types yield "".
func Any(kind Kind, v any) string {
	s, ok := Text(v)
	if !ok {
		return ""
	}
	switch kind {
	case KindUserID:
		return UserID(s)
	case KindAnonymousID:
		return AnonymousID(s)
	case KindEmail:
		return Email(s)
	case KindPhone:
		return Phone(s)
	case KindDeviceFingerprint:
		return DeviceFingerprint(s)
	}
	return ""
}

// Text renders strings and finite numbers as text.
func Text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var inputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	TimestampLayout,
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts ISO-8601 strings, the storage layout and epoch
// milliseconds. ok is false when nothing matched.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range inputLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
