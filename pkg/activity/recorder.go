package activity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// Recorder writes typed activity events. Each public method accepts a
// specific payload struct — see payloads.go.
type Recorder struct {
	store *store.ActivityStore
}

// NewRecorder creates a new Recorder over the activity store
func NewRecorder(activityStore *store.ActivityStore) *Recorder {
	return &Recorder{store: activityStore}
}

// PlatformSynced records a completed platform sync pass
func (r *Recorder) PlatformSynced(ctx context.Context, userID string, payload SyncedPayload) {
	r.record(ctx, userID, models.ActivityPlatformSynced, payload)
}

// PlatformSyncFailed records a sync pass that could not run
func (r *Recorder) PlatformSyncFailed(ctx context.Context, userID string, payload SyncFailedPayload) {
	r.record(ctx, userID, models.ActivityPlatformSyncFailed, payload)
}

// SignalProcessed records the outcome of a signal pass
func (r *Recorder) SignalProcessed(ctx context.Context, userID string, payload SignalPayload) {
	r.record(ctx, userID, models.ActivitySignalProcessed, payload)
}

// DeliverableRun records a generation run reaching a terminal state
func (r *Recorder) DeliverableRun(ctx context.Context, userID string, payload RunPayload) {
	r.record(ctx, userID, models.ActivityDeliverableRun, payload)
}

// SchedulerHeartbeat records scheduler liveness under the system user
func (r *Recorder) SchedulerHeartbeat(ctx context.Context, payload HeartbeatPayload) {
	r.record(ctx, SystemUser, models.ActivitySchedulerHeartbeat, payload)
}

// SchedulerDropped records a work unit dropped by backpressure
func (r *Recorder) SchedulerDropped(ctx context.Context, userID string, payload DroppedPayload) {
	r.record(ctx, userID, models.ActivitySchedulerDropped, payload)
}

// MemoryWritten records a user context write attempt
func (r *Recorder) MemoryWritten(ctx context.Context, userID string, payload MemoryPayload) {
	r.record(ctx, userID, models.ActivityMemoryWritten, payload)
}

func (r *Recorder) record(ctx context.Context, userID string, eventType models.ActivityType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal activity payload",
			"event_type", eventType, "user_id", userID, "error", err)
		return
	}

	err = r.store.Insert(ctx, &models.ActivityEvent{
		UserID:    userID,
		EventType: eventType,
		Metadata:  json.RawMessage(data),
	})
	if err != nil {
		slog.Warn("Failed to record activity event",
			"event_type", eventType, "user_id", userID, "error", err)
	}
}
