package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// SignalStore manages the signal dedup history
type SignalStore struct {
	db *sql.DB
}

// NewSignalStore creates a new SignalStore
func NewSignalStore(db *sql.DB) *SignalStore {
	return &SignalStore{db: db}
}

// Record inserts a signal history row
func (s *SignalStore) Record(ctx context.Context, rec *models.SignalRecord) error {
	if rec.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if rec.DeliverableType == "" {
		return NewValidationError("deliverable_type", "required")
	}
	if rec.SignalRef == "" {
		return NewValidationError("signal_ref", "required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_history
			(signal_id, user_id, deliverable_type, signal_ref, deliverable_id, confidence, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.DeliverableType, rec.SignalRef,
		nullString(rec.DeliverableID), rec.Confidence, rec.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}
	return nil
}

// SeenRecently reports whether the same finding landed for this user inside
// the dedup window.
func (s *SignalStore) SeenRecently(ctx context.Context, userID, deliverableType, signalRef string, window time.Duration) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM signal_history
			WHERE user_id = $1
			  AND deliverable_type = $2
			  AND signal_ref = $3
			  AND created_at > $4
		)`,
		userID, deliverableType, signalRef, time.Now().Add(-window)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check signal history: %w", err)
	}
	return exists, nil
}

// ListRecent returns the user's newest signal rows, newest first
func (s *SignalStore) ListRecent(ctx context.Context, userID string, limit int) ([]*models.SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, user_id, deliverable_type, signal_ref,
		       COALESCE(deliverable_id, ''), confidence, reasoning, created_at
		FROM signal_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var out []*models.SignalRecord
	for rows.Next() {
		var rec models.SignalRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.DeliverableType, &rec.SignalRef,
			&rec.DeliverableID, &rec.Confidence, &rec.Reasoning, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Trim deletes signal rows older than the cutoff, returning the count
func (s *SignalStore) Trim(ctx context.Context, olderThan time.Time) (int, error) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(deleteCtx, `
		DELETE FROM signal_history WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to trim signal history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
