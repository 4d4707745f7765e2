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

// SyncRegistryStore tracks per-resource sync freshness and provider cursors
type SyncRegistryStore struct {
	db *sql.DB
}

// NewSyncRegistryStore creates a new SyncRegistryStore
func NewSyncRegistryStore(db *sql.DB) *SyncRegistryStore {
	return &SyncRegistryStore{db: db}
}

// RecordSuccess upserts the registry row after a successful resource sync,
// clearing any previous error. An empty cursor preserves the stored one so
// providers without continuation state do not wipe it.
func (s *SyncRegistryStore) RecordSuccess(ctx context.Context, userID string, platform models.Platform, resourceID string, syncedAt time.Time, itemCount int, cursor string) error {
	if userID == "" {
		return NewValidationError("user_id", "required")
	}
	if resourceID == "" {
		return NewValidationError("resource_id", "required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_registry
			(registry_id, user_id, platform, resource_id, last_synced_at, last_item_count, sync_cursor)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (user_id, platform, resource_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_item_count = EXCLUDED.last_item_count,
			sync_cursor = COALESCE(EXCLUDED.sync_cursor, sync_registry.sync_cursor),
			last_error = NULL`,
		uuid.New().String(), userID, platform, resourceID, syncedAt, itemCount, cursor)
	if err != nil {
		return fmt.Errorf("failed to record sync success: %w", err)
	}
	return nil
}

// RecordFailure upserts the registry row with the failure message. The last
// successful sync time and cursor are left untouched.
func (s *SyncRegistryStore) RecordFailure(ctx context.Context, userID string, platform models.Platform, resourceID string, syncErr error) error {
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_registry
			(registry_id, user_id, platform, resource_id, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, platform, resource_id) DO UPDATE SET
			last_error = EXCLUDED.last_error`,
		uuid.New().String(), userID, platform, resourceID, msg)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return nil
}

// Get retrieves the registry row for one resource
func (s *SyncRegistryStore) Get(ctx context.Context, userID string, platform models.Platform, resourceID string) (*models.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT registry_id, user_id, platform, resource_id,
		       last_synced_at, last_item_count,
		       COALESCE(sync_cursor, ''), COALESCE(last_error, '')
		FROM sync_registry
		WHERE user_id = $1 AND platform = $2 AND resource_id = $3`,
		userID, platform, resourceID)

	st, err := scanSyncStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return st, nil
}

// ListByUserPlatform returns all registry rows for a user on one platform
func (s *SyncRegistryStore) ListByUserPlatform(ctx context.Context, userID string, platform models.Platform) ([]*models.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT registry_id, user_id, platform, resource_id,
		       last_synced_at, last_item_count,
		       COALESCE(sync_cursor, ''), COALESCE(last_error, '')
		FROM sync_registry
		WHERE user_id = $1 AND platform = $2
		ORDER BY resource_id`,
		userID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// LastSyncedAt returns the most recent successful sync across all of the
// user's resources on a platform; the zero time when none have synced.
func (s *SyncRegistryStore) LastSyncedAt(ctx context.Context, userID string, platform models.Platform) (time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(last_synced_at)
		FROM sync_registry
		WHERE user_id = $1 AND platform = $2`,
		userID, platform).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

// ClearCursor drops the stored provider cursor, forcing the next sync to
// start from a full window. Used when a provider invalidates its token.
func (s *SyncRegistryStore) ClearCursor(ctx context.Context, userID string, platform models.Platform, resourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_registry
		SET sync_cursor = NULL
		WHERE user_id = $1 AND platform = $2 AND resource_id = $3`,
		userID, platform, resourceID)
	if err != nil {
		return fmt.Errorf("failed to clear sync cursor: %w", err)
	}
	return nil
}

func scanSyncStatus(row rowScanner) (*models.SyncStatus, error) {
	var st models.SyncStatus
	var synced sql.NullTime
	err := row.Scan(&st.ID, &st.UserID, &st.Platform, &st.ResourceID,
		&synced, &st.LastItemCount, &st.Cursor, &st.LastError)
	if err != nil {
		return nil, err
	}
	if synced.Valid {
		st.LastSyncedAt = synced.Time
	}
	return &st, nil
}
