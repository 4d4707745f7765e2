package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store bundles the per-entity stores over a single database client.
type Store struct {
	Users        *UserSettingsStore
	Connections  *ConnectionStore
	SyncRegistry *SyncRegistryStore
	Content      *ContentStore
	UserContext  *UserContextStore
	Deliverables *DeliverableStore
	Versions     *VersionStore
	Tickets      *TicketStore
	Signals      *SignalStore
	Activity     *ActivityStore
	Locks        *LockStore
}

// New creates a Store backed by the given database client.
func New(client *Client) *Store {
	db := client.DB()
	return &Store{
		Users:        NewUserSettingsStore(db),
		Connections:  NewConnectionStore(db),
		SyncRegistry: NewSyncRegistryStore(db),
		Content:      NewContentStore(db),
		UserContext:  NewUserContextStore(db),
		Deliverables: NewDeliverableStore(db),
		Versions:     NewVersionStore(db),
		Tickets:      NewTicketStore(db),
		Signals:      NewSignalStore(db),
		Activity:     NewActivityStore(db),
		Locks:        NewLockStore(db),
	}
}

// querier abstracts over *sql.DB and *sql.Tx so row scanning helpers
// work inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// marshalJSON encodes v for a JSONB column.
func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return data, nil
}

// unmarshalJSON decodes a JSONB column into dst, treating NULL and empty
// values as the zero value.
func unmarshalJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
