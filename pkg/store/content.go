package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// ContentStore manages the platform content cache. Rows are keyed by
// (user, platform, source_ref) so re-syncs update in place, and live in a
// TTL lane or a retained lane.
type ContentStore struct {
	db *sql.DB
}

// NewContentStore creates a new ContentStore
func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{db: db}
}

// UpsertBatch writes a batch of fetched items one row at a time so a single
// bad item cannot sink the rest. Re-fetched retained rows keep their
// retained flag and never regain an expiry. Returns the number of rows
// written and a joined error for any that failed.
func (s *ContentStore) UpsertBatch(ctx context.Context, items []models.PlatformContent) (int, error) {
	stored := 0
	var errs []error
	for i := range items {
		if err := s.upsertOne(ctx, &items[i]); err != nil {
			errs = append(errs, fmt.Errorf("item %s: %w", items[i].SourceRef, err))
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}

func (s *ContentStore) upsertOne(ctx context.Context, item *models.PlatformContent) error {
	if item.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if item.SourceRef == "" {
		return NewValidationError("source_ref", "required")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}

	metadata, err := marshalJSON(item.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO platform_content
			(content_id, user_id, platform, resource_id, source_ref, title, body,
			 source_timestamp, fetched_at, expires_at, retained, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, platform, source_ref) DO UPDATE SET
			resource_id = EXCLUDED.resource_id,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			source_timestamp = EXCLUDED.source_timestamp,
			fetched_at = EXCLUDED.fetched_at,
			metadata = EXCLUDED.metadata,
			expires_at = CASE WHEN platform_content.retained THEN NULL ELSE EXCLUDED.expires_at END`,
		item.ID, item.UserID, item.Platform, item.ResourceID, item.SourceRef,
		item.Title, item.Body, item.SourceTimestamp, item.FetchedAt,
		nullTime(item.ExpiresAt), item.Retained, metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert content: %w", err)
	}
	return nil
}

// Query reads live cache rows: retained ones plus TTL rows that have not
// expired. Zero-valued filter fields are ignored.
func (s *ContentStore) Query(ctx context.Context, q models.ContentQuery) ([]models.PlatformContent, error) {
	if q.UserID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	where := []string{
		"user_id = $1",
		"(retained OR expires_at > now())",
	}
	args := []any{q.UserID}

	if q.Platform != "" {
		args = append(args, q.Platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if len(q.ResourceIDs) > 0 {
		args = append(args, q.ResourceIDs)
		where = append(where, fmt.Sprintf("resource_id = ANY($%d)", len(args)))
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		where = append(where, fmt.Sprintf("source_timestamp >= $%d", len(args)))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		where = append(where, fmt.Sprintf("source_timestamp < $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, q.Search)
		where = append(where, fmt.Sprintf(
			"to_tsvector('english', title || ' ' || body) @@ plainto_tsquery('english', $%d)", len(args)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT content_id, user_id, platform, resource_id, source_ref, title, body,
		       source_timestamp, fetched_at, expires_at, retained, metadata
		FROM platform_content
		WHERE %s
		ORDER BY fetched_at DESC, source_timestamp DESC
		LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content: %w", err)
	}
	defer rows.Close()

	var out []models.PlatformContent
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// GetByIDs fetches specific rows by ID, limited to one user
func (s *ContentStore) GetByIDs(ctx context.Context, userID string, ids []string) ([]models.PlatformContent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_id, user_id, platform, resource_id, source_ref, title, body,
		       source_timestamp, fetched_at, expires_at, retained, metadata
		FROM platform_content
		WHERE user_id = $1 AND content_id = ANY($2)`,
		userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get content by IDs: %w", err)
	}
	defer rows.Close()

	var out []models.PlatformContent
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// Retain flips rows into the retained lane so expiry never removes them.
// Source material referenced by a delivered version goes through here.
func (s *ContentStore) Retain(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE platform_content
		SET retained = TRUE, expires_at = NULL
		WHERE user_id = $1 AND content_id = ANY($2)`,
		userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to retain content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// CountNewSince counts live rows fetched after the given time, the
// sufficiency input for the signal pass.
func (s *ContentStore) CountNewSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM platform_content
		WHERE user_id = $1
		  AND fetched_at > $2
		  AND (retained OR expires_at > now())`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count new content: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes TTL-lane rows whose expiry passed longer than the
// grace period ago. Retained rows are never touched.
func (s *ContentStore) PurgeExpired(ctx context.Context, grace time.Duration) (int, error) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(deleteCtx, `
		DELETE FROM platform_content
		WHERE NOT retained
		  AND expires_at IS NOT NULL
		  AND expires_at < $1`,
		time.Now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func scanContent(row rowScanner) (*models.PlatformContent, error) {
	var item models.PlatformContent
	var expires sql.NullTime
	var metadata []byte
	err := row.Scan(&item.ID, &item.UserID, &item.Platform, &item.ResourceID,
		&item.SourceRef, &item.Title, &item.Body, &item.SourceTimestamp,
		&item.FetchedAt, &expires, &item.Retained, &metadata)
	if err != nil {
		return nil, err
	}
	item.ExpiresAt = timePtr(expires)
	if err := unmarshalJSON(metadata, &item.Metadata); err != nil {
		return nil, err
	}
	return &item, nil
}
