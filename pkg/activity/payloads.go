// Package activity records orchestrator events to the per-user activity log.
// Writes are best-effort: a failed write warns and moves on, it never fails
// the flow that produced the event.
package activity

import "github.com/yarnnn/orchestrator/pkg/models"

// SystemUser owns events that belong to the scheduler itself rather than to
// any one user, e.g. heartbeats.
const SystemUser = "system"

// SyncedPayload is the payload for platform_synced events.
// Recorded after a platform sync pass completes for a user.
type SyncedPayload struct {
	Platform    models.Platform    `json:"platform"`
	Cadence     models.SyncCadence `json:"cadence,omitempty"`
	Resources   int                `json:"resources"`        // resources attempted
	Items       int                `json:"items"`            // content rows written
	Failed      int                `json:"failed,omitempty"` // resources that errored
	PerResource map[string]int     `json:"per_resource,omitempty"`
	DurationMS  int64              `json:"duration_ms,omitempty"`
}

// SyncFailedPayload is the payload for platform_sync_failed events.
// Recorded when a platform sync cannot run at all (auth, transport).
type SyncFailedPayload struct {
	Platform models.Platform `json:"platform"`
	Reason   string          `json:"reason"`
}

// SignalPayload is the payload for signal_processed events.
// Recorded after each signal pass, including skipped ones.
type SignalPayload struct {
	ContentItems int    `json:"content_items"`     // new items considered
	Actions      int    `json:"actions"`           // actions parsed from the response
	Created      int    `json:"created"`           // emergent deliverables created
	Triggered    int    `json:"triggered"`         // existing deliverables triggered
	Deduped      int    `json:"deduped,omitempty"` // dropped by the dedup window
	Skipped      string `json:"skipped,omitempty"` // reason the pass did not run
}

// RunPayload is the payload for deliverable_run events.
// Recorded when a generation run reaches a terminal state.
type RunPayload struct {
	DeliverableID string               `json:"deliverable_id"`
	VersionID     string               `json:"version_id,omitempty"`
	VersionNumber int                  `json:"version_number,omitempty"`
	Status        models.VersionStatus `json:"status"`
	Delivered     int                  `json:"delivered,omitempty"` // destinations that took it
	Failed        int                  `json:"failed,omitempty"`    // destinations that did not
	DurationMS    int64                `json:"duration_ms,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// HeartbeatPayload is the payload for scheduler_heartbeat events.
type HeartbeatPayload struct {
	Owner       string `json:"owner"` // pod identity
	Tick        int64  `json:"tick"`
	SyncQueue   int    `json:"sync_queue"`
	SignalQueue int    `json:"signal_queue"`
	RunQueue    int    `json:"run_queue"`
}

// DroppedPayload is the payload for scheduler_dropped events.
// Recorded when backpressure drops a work unit instead of blocking the tick.
type DroppedPayload struct {
	Phase string `json:"phase"` // sync, signal, deliverable
	Key   string `json:"key"`   // what was dropped, e.g. user:platform or deliverable ID
}

// MemoryPayload is the payload for memory_written events.
type MemoryPayload struct {
	Namespace string               `json:"namespace"`
	Key       string               `json:"key"`
	Source    models.ContextSource `json:"source"`
	Written   bool                 `json:"written"` // false when precedence blocked the write
}
