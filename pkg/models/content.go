package models

import "time"

// PlatformContent is one cached item pulled from a provider. Rows live in
// one of two lanes: TTL-bound (ExpiresAt set) or retained forever because a
// delivered version consumed them.
type PlatformContent struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Platform        Platform       `json:"platform"`
	ResourceID      string         `json:"resource_id"`
	SourceRef       string         `json:"source_ref"`
	Title           string         `json:"title,omitempty"`
	Body            string         `json:"body"`
	SourceTimestamp time.Time      `json:"source_timestamp"`
	FetchedAt       time.Time      `json:"fetched_at"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Retained        bool           `json:"retained"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Visible reports whether the row may be served from the cache.
func (c PlatformContent) Visible(now time.Time) bool {
	if c.Retained {
		return true
	}
	return c.ExpiresAt != nil && c.ExpiresAt.After(now)
}

// ContentQuery narrows a cache read. Zero-valued fields are ignored.
type ContentQuery struct {
	UserID      string
	Platform    Platform
	ResourceIDs []string
	Since       *time.Time // source_timestamp lower bound
	Until       *time.Time // source_timestamp upper bound
	Search      string     // full-text match against title and body
	Limit       int
}

// SyncStatus is the per-resource freshness row kept by the sync engine.
// Cursor carries provider continuation state, e.g. the calendar sync token.
type SyncStatus struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Platform      Platform  `json:"platform"`
	ResourceID    string    `json:"resource_id"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
	LastItemCount int       `json:"last_item_count"`
	Cursor        string    `json:"cursor,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Stale reports whether the resource has not synced within the given
// freshness window.
func (s SyncStatus) Stale(now time.Time, within time.Duration) bool {
	return s.LastSyncedAt.IsZero() || now.Sub(s.LastSyncedAt) > within
}
