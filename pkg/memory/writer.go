package memory

import (
	"context"
	"log/slog"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// ContextWriter is the trust-ranked upsert the writer fronts.
type ContextWriter interface {
	Upsert(ctx context.Context, entry models.ContextEntry) (bool, error)
}

// Events records memory writes in the activity log.
type Events interface {
	MemoryWritten(ctx context.Context, userID string, payload activity.MemoryPayload)
}

var (
	_ ContextWriter = (*store.UserContextStore)(nil)
	_ Events        = (*activity.Recorder)(nil)
)

// Writer is the single entry point for user-context writes. Every write
// goes through the store's source-rank precedence and leaves a
// memory_written activity trail, landed or not.
type Writer struct {
	store  ContextWriter
	events Events
	logger *slog.Logger
}

// NewWriter builds the memory writer.
func NewWriter(contextStore ContextWriter, events Events) *Writer {
	return &Writer{
		store:  contextStore,
		events: events,
		logger: slog.Default().With("component", "memory-writer"),
	}
}

// Write upserts one context entry. Returns whether the write landed; a
// lower-trust write losing to a higher-trust row is not an error.
func (w *Writer) Write(ctx context.Context, entry models.ContextEntry) (bool, error) {
	written, err := w.store.Upsert(ctx, entry)
	if err != nil {
		return false, err
	}

	w.events.MemoryWritten(ctx, entry.UserID, activity.MemoryPayload{
		Namespace: entry.Namespace,
		Key:       entry.Key,
		Source:    entry.Source,
		Written:   written,
	})
	if !written {
		w.logger.Debug("Context write yielded to higher-trust value",
			"user_id", entry.UserID, "namespace", entry.Namespace, "key", entry.Key, "source", entry.Source)
	}
	return written, nil
}
