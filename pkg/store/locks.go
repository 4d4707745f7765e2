package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LockStore provides keyed advisory locks with a TTL, backed by a table so
// they survive pod restarts and expire on their own when a holder dies.
type LockStore struct {
	db *sql.DB
}

// NewLockStore creates a new LockStore
func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db}
}

// Acquire takes the lock for (scope, key) if it is free, expired, or already
// held by this owner; holding it again extends the TTL. Returns ErrLockHeld
// when another live owner has it. The conflict clause makes the take-over
// atomic, there is no read-then-write window.
func (s *LockStore) Acquire(ctx context.Context, scope, key, owner string, ttl time.Duration) error {
	if owner == "" {
		return NewValidationError("owner", "required")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_locks (scope, lock_key, owner, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, lock_key) DO UPDATE SET
			owner = EXCLUDED.owner,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE scheduler_locks.expires_at < $4
		   OR scheduler_locks.owner = EXCLUDED.owner`,
		scope, key, owner, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s/%s: %w", scope, key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock if this owner still holds it. Releasing a lock
// that expired and moved to another owner is a no-op, not an error.
func (s *LockStore) Release(ctx context.Context, scope, key, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduler_locks
		WHERE scope = $1 AND lock_key = $2 AND owner = $3`,
		scope, key, owner)
	if err != nil {
		return fmt.Errorf("failed to release lock %s/%s: %w", scope, key, err)
	}
	return nil
}

// ReleaseOwnedBy drops every lock held by an owner or by any of the
// per-acquisition owners it prefixes ("pod-1" matches "pod-1:token").
// Used on startup to clear locks orphaned by a previous crash of this pod.
func (s *LockStore) ReleaseOwnedBy(ctx context.Context, owner string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduler_locks
		WHERE owner = $1 OR owner LIKE $1 || ':%'`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks for owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// ReapExpired deletes locks past their TTL, returning the count
func (s *LockStore) ReapExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduler_locks WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
