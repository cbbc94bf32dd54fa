package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/normalize"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// Cookie names read as fallbacks for ids missing from the payload.
const (
	CookieAnonymousID    = "ajs_anonymous_id"
	CookieAnonymousIDAlt = "anonymous_id"
	CookieSessionID      = "session_id"
)

// wireFields is the loosely typed union of everything either payload shape
// can carry. Values stay as decoded JSON until resolution.
type wireFields struct {
	Name        any
	Type        any
	EventID     any
	AnonymousID any
	UserID      any
	SessionID   any
	Timestamp   any
	Properties  any
	Traits      any
	Context     any
}

// wireEvent is one element of an ingestion batch in either accepted shape.
type wireEvent interface {
	fields() wireFields
}

// internalShape is the first-party tracker payload (snake_case keys).
type internalShape struct {
	EventName   any `json:"event_name"`
	Event       any `json:"event"`
	Type        any `json:"type"`
	EventID     any `json:"event_id"`
	AnonymousID any `json:"anonymous_id"`
	UserID      any `json:"user_id"`
	SessionID   any `json:"session_id"`
	Timestamp   any `json:"timestamp"`
	Properties  any `json:"properties"`
	Traits      any `json:"traits"`
	Context     any `json:"context"`
}

func (s internalShape) fields() wireFields {
	name := s.EventName
	if text(name) == "" {
		name = s.Event
	}
	return wireFields{
		Name:        name,
		Type:        s.Type,
		EventID:     s.EventID,
		AnonymousID: s.AnonymousID,
		UserID:      s.UserID,
		SessionID:   s.SessionID,
		Timestamp:   s.Timestamp,
		Properties:  s.Properties,
		Traits:      s.Traits,
		Context:     s.Context,
	}
}

// analyticsJSShape is the analytics.js / Segment-compatible payload.
type analyticsJSShape struct {
	Type        any `json:"type"`
	Event       any `json:"event"`
	MessageID   any `json:"messageId"`
	AnonymousID any `json:"anonymousId"`
	UserID      any `json:"userId"`
	SessionID   any `json:"sessionId"`
	Timestamp   any `json:"timestamp"`
	Properties  any `json:"properties"`
	Traits      any `json:"traits"`
	Context     any `json:"context"`
}

func (s analyticsJSShape) fields() wireFields {
	return wireFields{
		Name:        s.Event,
		Type:        s.Type,
		EventID:     s.MessageID,
		AnonymousID: s.AnonymousID,
		UserID:      s.UserID,
		SessionID:   s.SessionID,
		Timestamp:   s.Timestamp,
		Properties:  s.Properties,
		Traits:      s.Traits,
		Context:     s.Context,
	}
}

var (
	// internalKeys are identity keys only the snake_case shape uses.
	internalKeys = []string{"event_name", "event_id", "anonymous_id", "user_id", "session_id"}
	// analyticsJSKeys are identity keys only the analytics.js shape uses.
	analyticsJSKeys = []string{"messageId", "anonymousId", "userId", "sessionId"}
)

func firstKey(keys map[string]json.RawMessage, names []string) string {
	for _, k := range names {
		if _, ok := keys[k]; ok {
			return k
		}
	}
	return ""
}

// classify picks the shape for one batch element. An element carrying
// identity keys of both shapes is rejected since one side would be dropped.
// Without identity keys a bare "type" selects the analytics.js shape.
func classify(keys map[string]json.RawMessage) (wireEvent, error) {
	snake := firstKey(keys, internalKeys)
	camel := firstKey(keys, analyticsJSKeys)
	switch {
	case snake != "" && camel != "":
		return nil, fmt.Errorf("mixes %s and %s; use one key style per event", snake, camel)
	case snake != "":
		return &internalShape{}, nil
	case camel != "":
		return &analyticsJSShape{}, nil
	}
	if _, ok := keys["type"]; ok {
		return &analyticsJSShape{}, nil
	}
	return &internalShape{}, nil
}

// parsedEvent is the canonical form of one ingested element: the event row
// plus the identity signals edge emission needs.
type parsedEvent struct {
	Row               entity.Event
	Email             string
	Phone             string
	DeviceFingerprint string
	Identify          bool
}

// parseBatch decodes a single object or an array of objects and resolves
// every element. Any failure rejects the whole batch.
func parseBatch(body []byte, cookies map[string]string, now time.Time, newID func() string) ([]parsedEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ValidationError{Field: "body", Message: "request body is required"}
	}
	var elems []json.RawMessage
	switch trimmed[0] {
	case '{':
		elems = []json.RawMessage{trimmed}
	case '[':
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, &ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
		}
		if len(elems) == 0 {
			return nil, &ValidationError{Field: "events", Message: "at least one event is required"}
		}
	default:
		if !json.Valid(trimmed) {
			return nil, &ValidationError{Field: "body", Message: "invalid JSON"}
		}
		return nil, &ValidationError{Field: "body", Message: "body must be a JSON object or array"}
	}

	out := make([]parsedEvent, 0, len(elems))
	for i, raw := range elems {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			return nil, &ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: fmt.Sprintf("events[%d] must be a JSON object", i)}
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: fmt.Sprintf("events[%d]: invalid JSON: %v", i, err)}
		}
		shape, err := classify(keys)
		if err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: fmt.Sprintf("events[%d]: %v", i, err)}
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(shape); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: fmt.Sprintf("events[%d]: %v", i, err)}
		}
		ev, err := resolve(i, shape.fields(), cookies, now, newID)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func resolve(i int, f wireFields, cookies map[string]string, now time.Time, newID func() string) (parsedEvent, error) {
	typ := strings.ToLower(text(f.Type))
	name := text(f.Name)
	if name == "" {
		switch typ {
		case "page":
			name = entity.EventPageView
		case "identify":
			name = entity.EventIdentify
		}
	}
	if name == "" {
		return parsedEvent{}, &ValidationError{Field: fmt.Sprintf("events[%d].event_name", i), Message: fmt.Sprintf("events[%d]: Missing event name", i)}
	}

	eventID, ok := utilities.CanonicalUUID(text(f.EventID))
	if !ok {
		eventID = newID()
	}

	anon := normalize.Any(normalize.KindAnonymousID, f.AnonymousID)
	if anon == "" {
		anon = normalize.AnonymousID(cookies[CookieAnonymousID])
	}
	if anon == "" {
		anon = normalize.AnonymousID(cookies[CookieAnonymousIDAlt])
	}

	ctxObj := object(f.Context)
	props := object(f.Properties)
	traits := object(f.Traits)

	session := text(f.SessionID)
	if session == "" {
		session = text(ctxObj["session_id"])
	}
	if session == "" {
		session = text(ctxObj["sessionId"])
	}
	if session == "" {
		session = strings.TrimSpace(cookies[CookieSessionID])
	}

	ts, ok := normalize.ParseTimestamp(f.Timestamp)
	if !ok {
		ts = now
	}

	merged := make(map[string]any, len(traits)+len(props))
	for k, v := range traits {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}

	ctxTraits := object(ctxObj["traits"])
	ev := parsedEvent{
		Row: entity.Event{
			EventID:     eventID,
			AnonymousID: anon,
			UserID:      normalize.Any(normalize.KindUserID, f.UserID),
			SessionID:   session,
			EventName:   name,
			Properties:  mustJSON(merged),
			Context:     mustJSON(ctxObj),
			Timestamp:   normalize.FormatTimestamp(ts),
		},
		Email:             firstNormalized(normalize.KindEmail, traits["email"], props["email"], ctxTraits["email"]),
		Phone:             firstNormalized(normalize.KindPhone, traits["phone"], props["phone"], ctxTraits["phone"]),
		DeviceFingerprint: deviceFingerprint(ctxObj, props),
		Identify:          name == entity.EventIdentify || typ == "identify",
	}
	return ev, nil
}

// deviceFingerprint applies the historical lookup order. The order itself
// carries no meaning but existing trackers depend on it.
func deviceFingerprint(ctxObj, props map[string]any) string {
	device := object(ctxObj["device"])
	return firstNormalized(normalize.KindDeviceFingerprint,
		device["id"],
		ctxObj["device_fingerprint"],
		ctxObj["deviceFingerprint"],
		props["device_fingerprint"],
	)
}

func firstNormalized(kind normalize.Kind, values ...any) string {
	for _, v := range values {
		if s := normalize.Any(kind, v); s != "" {
			return s
		}
	}
	return ""
}

// object returns v as a JSON object, or an empty one.
func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func text(v any) string {
	s, _ := normalize.Text(v)
	return strings.TrimSpace(s)
}

func mustJSON(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
