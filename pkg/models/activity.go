package models

import (
	"encoding/json"
	"time"
)

// ActivityEvent is one append-only audit row. Metadata is the typed
// payload for the event type, marshaled at write time.
type ActivityEvent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	EventType ActivityType    `json:"event_type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
