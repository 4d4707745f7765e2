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

// ConnectionStore manages platform connection rows, including the per
// connection landscape catalog.
type ConnectionStore struct {
	db *sql.DB
}

// NewConnectionStore creates a new ConnectionStore
func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// Create inserts a new connection. One connection per (user, provider) is
// enforced by the schema; a second insert returns ErrAlreadyExists.
func (s *ConnectionStore) Create(ctx context.Context, conn *models.PlatformConnection) error {
	if conn.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if !conn.Provider.Valid() {
		return NewValidationError("provider", fmt.Sprintf("unknown platform %q", conn.Provider))
	}
	if conn.Credentials == "" {
		return NewValidationError("credentials", "required")
	}
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.Status == "" {
		conn.Status = models.ConnectionActive
	}

	scopes, err := marshalJSON(conn.Scopes)
	if err != nil {
		return err
	}
	landscape, err := marshalJSON(conn.Landscape)
	if err != nil {
		return err
	}

	// Background context with timeout for the critical write
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(writeCtx, `
		INSERT INTO platform_connections
			(connection_id, user_id, provider, credentials, scopes, status, status_detail, landscape)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		conn.ID, conn.UserID, conn.Provider, conn.Credentials, scopes,
		conn.Status, nullString(conn.StatusDetail), landscape)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// Get retrieves a connection by ID
func (s *ConnectionStore) Get(ctx context.Context, connectionID string) (*models.PlatformConnection, error) {
	return s.getWhere(ctx, s.db, "connection_id = $1", connectionID)
}

// GetByUserAndProvider retrieves a user's connection for one platform
func (s *ConnectionStore) GetByUserAndProvider(ctx context.Context, userID string, provider models.Platform) (*models.PlatformConnection, error) {
	return s.getWhere(ctx, s.db, "user_id = $1 AND provider = $2", userID, provider)
}

func (s *ConnectionStore) getWhere(ctx context.Context, q querier, where string, args ...any) (*models.PlatformConnection, error) {
	row := q.QueryRowContext(ctx, `
		SELECT connection_id, user_id, provider, credentials, scopes, status,
		       COALESCE(status_detail, ''), landscape, created_at, updated_at
		FROM platform_connections
		WHERE `+where, args...)

	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.PlatformConnection, error) {
	var conn models.PlatformConnection
	var scopes, landscape []byte
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Provider, &conn.Credentials,
		&scopes, &conn.Status, &conn.StatusDetail, &landscape,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(scopes, &conn.Scopes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(landscape, &conn.Landscape); err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListActiveByUser returns the user's active connections
func (s *ConnectionStore) ListActiveByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error) {
	return s.list(ctx, "user_id = $1 AND status = 'active'", userID)
}

// ListByUser returns all of the user's connections regardless of status
func (s *ConnectionStore) ListByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error) {
	return s.list(ctx, "user_id = $1", userID)
}

// ListAllActive returns every active connection across users, ordered for
// stable scheduling.
func (s *ConnectionStore) ListAllActive(ctx context.Context) ([]*models.PlatformConnection, error) {
	return s.list(ctx, "status = 'active'")
}

func (s *ConnectionStore) list(ctx context.Context, where string, args ...any) ([]*models.PlatformConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connection_id, user_id, provider, credentials, scopes, status,
		       COALESCE(status_detail, ''), landscape, created_at, updated_at
		FROM platform_connections
		WHERE `+where+`
		ORDER BY user_id, provider`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a connection's status, recording a detail message
// for expired and error states.
func (s *ConnectionStore) UpdateStatus(ctx context.Context, connectionID string, status models.ConnectionStatus, detail string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE platform_connections
		SET status = $2, status_detail = $3, updated_at = now()
		WHERE connection_id = $1`,
		connectionID, status, nullString(detail))
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return requireRow(res)
}

// UpdateCredentials replaces the encrypted credential blob, typically after
// a token refresh.
func (s *ConnectionStore) UpdateCredentials(ctx context.Context, connectionID, credentials string) error {
	if credentials == "" {
		return NewValidationError("credentials", "required")
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE platform_connections
		SET credentials = $2, status = 'active', status_detail = NULL, updated_at = now()
		WHERE connection_id = $1`,
		connectionID, credentials)
	if err != nil {
		return fmt.Errorf("failed to update connection credentials: %w", err)
	}
	return requireRow(res)
}

// UpdateSelectedSources replaces the user's source selection after dropping
// IDs that are not in the current catalog.
func (s *ConnectionStore) UpdateSelectedSources(ctx context.Context, connectionID string, sourceIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	conn, err := s.getWhere(ctx, tx, "connection_id = $1 FOR UPDATE", connectionID)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, ok := conn.Landscape.Resource(id); ok {
			kept = append(kept, id)
		}
	}
	conn.Landscape.SelectedSources = kept

	if err := writeLandscape(ctx, tx, connectionID, conn.Landscape); err != nil {
		return err
	}
	return tx.Commit()
}

// RefreshLandscape merges a freshly discovered resource catalog into the
// stored landscape. The row is re-read under the transaction so selections
// edited while discovery ran are preserved, then stale selections pruned.
func (s *ConnectionStore) RefreshLandscape(ctx context.Context, connectionID string, fresh []models.Resource, now time.Time) (*models.Landscape, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	conn, err := s.getWhere(ctx, tx, "connection_id = $1 FOR UPDATE", connectionID)
	if err != nil {
		return nil, err
	}

	merged := conn.Landscape.Merge(fresh, now)
	if err := writeLandscape(ctx, tx, connectionID, merged); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit landscape refresh: %w", err)
	}
	return &merged, nil
}

func writeLandscape(ctx context.Context, q querier, connectionID string, landscape models.Landscape) error {
	data, err := marshalJSON(landscape)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE platform_connections
		SET landscape = $2, updated_at = now()
		WHERE connection_id = $1`,
		connectionID, data)
	if err != nil {
		return fmt.Errorf("failed to write landscape: %w", err)
	}
	return requireRow(res)
}

// Delete removes a connection row entirely
func (s *ConnectionStore) Delete(ctx context.Context, connectionID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM platform_connections WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
