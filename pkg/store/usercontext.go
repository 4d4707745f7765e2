package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// UserContextStore manages namespaced user memory entries with source-rank
// precedence: a lower-trust write never clobbers a higher-trust value.
type UserContextStore struct {
	db *sql.DB
}

// NewUserContextStore creates a new UserContextStore
func NewUserContextStore(db *sql.DB) *UserContextStore {
	return &UserContextStore{db: db}
}

// Upsert writes an entry unless the existing row came from a more trusted
// source. Returns whether the write landed.
func (s *UserContextStore) Upsert(ctx context.Context, entry models.ContextEntry) (bool, error) {
	if entry.UserID == "" {
		return false, NewValidationError("user_id", "required")
	}
	if entry.Namespace == "" {
		return false, NewValidationError("namespace", "required")
	}
	if entry.Key == "" {
		return false, NewValidationError("key", "required")
	}
	if entry.Source.Rank() == 0 {
		return false, NewValidationError("source", fmt.Sprintf("unknown source %q", entry.Source))
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		return false, NewValidationError("confidence", "must be between 0 and 1")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(writeCtx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var existing models.ContextSource
	err = tx.QueryRowContext(writeCtx, `
		SELECT source FROM user_context
		WHERE user_id = $1 AND namespace = $2 AND context_key = $3
		FOR UPDATE`,
		entry.UserID, entry.Namespace, entry.Key).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No precedence to respect, insert below
	case err != nil:
		return false, fmt.Errorf("failed to read existing context entry: %w", err)
	default:
		// A lower-trust write never touches the value and never drags the
		// stored confidence down.
		if existing.Rank() > entry.Source.Rank() {
			return false, nil
		}
	}

	_, err = tx.ExecContext(writeCtx, `
		INSERT INTO user_context
			(context_id, user_id, namespace, context_key, context_value, source, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, namespace, context_key) DO UPDATE SET
			context_value = EXCLUDED.context_value,
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			updated_at = now()`,
		entry.ID, entry.UserID, entry.Namespace, entry.Key, entry.Value, entry.Source, entry.Confidence)
	if err != nil {
		return false, fmt.Errorf("failed to upsert context entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit context upsert: %w", err)
	}
	return true, nil
}

// GetNamespace returns all entries for a user in one namespace
func (s *UserContextStore) GetNamespace(ctx context.Context, userID, namespace string) ([]models.ContextEntry, error) {
	return s.list(ctx, `user_id = $1 AND namespace = $2`, userID, namespace)
}

// ListByUser returns every context entry a user has, ordered by namespace
func (s *UserContextStore) ListByUser(ctx context.Context, userID string) ([]models.ContextEntry, error) {
	return s.list(ctx, `user_id = $1`, userID)
}

func (s *UserContextStore) list(ctx context.Context, where string, args ...any) ([]models.ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT context_id, user_id, namespace, context_key, context_value,
		       source, confidence, created_at, updated_at
		FROM user_context
		WHERE `+where+`
		ORDER BY namespace, context_key`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list context entries: %w", err)
	}
	defer rows.Close()

	var out []models.ContextEntry
	for rows.Next() {
		var e models.ContextEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Namespace, &e.Key, &e.Value,
			&e.Source, &e.Confidence, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes one entry
func (s *UserContextStore) Delete(ctx context.Context, userID, namespace, key string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_context
		WHERE user_id = $1 AND namespace = $2 AND context_key = $3`,
		userID, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete context entry: %w", err)
	}
	return requireRow(res)
}
