package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// ActivityStore manages the append-only activity log
type ActivityStore struct {
	db *sql.DB
}

// NewActivityStore creates a new ActivityStore
func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// Insert appends one activity event
func (s *ActivityStore) Insert(ctx context.Context, event *models.ActivityEvent) error {
	if event.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if event.EventType == "" {
		return NewValidationError("event_type", "required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	metadata := event.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (activity_id, user_id, event_type, metadata)
		VALUES ($1, $2, $3, $4)`,
		event.ID, event.UserID, event.EventType, []byte(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert activity event: %w", err)
	}
	return nil
}

// GetLast returns the newest event of one type for a user, or ErrNotFound
func (s *ActivityStore) GetLast(ctx context.Context, userID string, eventType models.ActivityType) (*models.ActivityEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT activity_id, user_id, event_type, metadata, created_at
		FROM activity_log
		WHERE user_id = $1 AND event_type = $2
		ORDER BY created_at DESC
		LIMIT 1`, userID, eventType)

	event, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last activity event: %w", err)
	}
	return event, nil
}

// ListRecent returns a user's newest events, optionally filtered by type
func (s *ActivityStore) ListRecent(ctx context.Context, userID string, eventType models.ActivityType, limit int) ([]*models.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT activity_id, user_id, event_type, metadata, created_at
		FROM activity_log
		WHERE user_id = $1`
	args := []any{userID}
	if eventType != "" {
		args = append(args, eventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity events: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityEvent
	for rows.Next() {
		event, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// CountSince counts events of one type for a user after the given time
func (s *ActivityStore) CountSince(ctx context.Context, userID string, eventType models.ActivityType, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM activity_log
		WHERE user_id = $1 AND event_type = $2 AND created_at > $3`,
		userID, eventType, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity events: %w", err)
	}
	return n, nil
}

// Trim deletes events older than the cutoff, returning the count
func (s *ActivityStore) Trim(ctx context.Context, olderThan time.Time) (int, error) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(deleteCtx, `
		DELETE FROM activity_log WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to trim activity log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func scanActivity(row rowScanner) (*models.ActivityEvent, error) {
	var event models.ActivityEvent
	var metadata []byte
	err := row.Scan(&event.ID, &event.UserID, &event.EventType, &metadata, &event.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		event.Metadata = json.RawMessage(metadata)
	}
	return &event, nil
}
