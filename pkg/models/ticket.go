package models

import "time"

// WorkTicket tracks one generation run end to end. Exactly one ticket
// exists per version; there is no dependency graph between tickets.
type WorkTicket struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	DeliverableID string       `json:"deliverable_id"`
	VersionID     string       `json:"version_id"`
	Status        TicketStatus `json:"status"`
	Owner         string       `json:"owner,omitempty"` // pod that claimed the run
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	HeartbeatAt   *time.Time   `json:"heartbeat_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// Stuck reports whether a running ticket has gone silent long enough for
// the janitor to fail it. Tickets that never heartbeat are judged from
// their start time.
func (t WorkTicket) Stuck(now time.Time, threshold time.Duration) bool {
	if t.Status != TicketRunning {
		return false
	}
	last := t.StartedAt
	if t.HeartbeatAt != nil {
		last = t.HeartbeatAt
	}
	if last == nil {
		return now.Sub(t.CreatedAt) > threshold
	}
	return now.Sub(*last) > threshold
}
