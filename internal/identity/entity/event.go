package entity

// Event is one row of the append-only events table. Properties and Context
// hold serialized JSON objects; Timestamp uses the storage text layout.
type Event struct {
	EventID     string `json:"event_id" db:"event_id"`
	AnonymousID string `json:"anonymous_id" db:"anonymous_id"`
	UserID      string `json:"user_id" db:"user_id"`
	SessionID   string `json:"session_id" db:"session_id"`
	EventName   string `json:"event_name" db:"event_name"`
	Properties  string `json:"properties" db:"properties"`
	Context     string `json:"context" db:"context"`
	Timestamp   string `json:"timestamp" db:"timestamp"`
}

// Well-known event names derived from analytics.js call types.
const (
	EventPageView = "page_view"
	EventIdentify = "identify"
)
