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

// TicketStore manages work tickets for generation runs. A partial unique
// index keeps at most one pending or running ticket per deliverable.
type TicketStore struct {
	db *sql.DB
}

// NewTicketStore creates a new TicketStore
func NewTicketStore(db *sql.DB) *TicketStore {
	return &TicketStore{db: db}
}

// Create inserts a pending ticket for a version. A second active ticket for
// the same deliverable returns ErrAlreadyExists.
func (s *TicketStore) Create(ctx context.Context, t *models.WorkTicket) error {
	if t.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if t.DeliverableID == "" {
		return NewValidationError("deliverable_id", "required")
	}
	if t.VersionID == "" {
		return NewValidationError("version_id", "required")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TicketPending
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(writeCtx, `
		INSERT INTO work_tickets
			(ticket_id, user_id, deliverable_id, version_id, status, owner)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.DeliverableID, t.VersionID, t.Status, nullString(t.Owner))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// Get retrieves a ticket by ID
func (s *TicketStore) Get(ctx context.Context, ticketID string) (*models.WorkTicket, error) {
	row := s.db.QueryRowContext(ctx, ticketSelect+` WHERE ticket_id = $1`, ticketID)

	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// Start claims a pending ticket for an owner. The conditional update means
// a ticket another pod already started returns ErrNotFound.
func (s *TicketStore) Start(ctx context.Context, ticketID, owner string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE work_tickets
		SET status = 'running', owner = $2, started_at = now(), heartbeat_at = now()
		WHERE ticket_id = $1 AND status = 'pending'`,
		ticketID, owner)
	if err != nil {
		return fmt.Errorf("failed to start ticket: %w", err)
	}
	return requireRow(res)
}

// Heartbeat refreshes a running ticket's liveness stamp
func (s *TicketStore) Heartbeat(ctx context.Context, ticketID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_tickets
		SET heartbeat_at = now()
		WHERE ticket_id = $1 AND status = 'running'`,
		ticketID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat ticket: %w", err)
	}
	return requireRow(res)
}

// Finish transitions a running ticket to a terminal status
func (s *TicketStore) Finish(ctx context.Context, ticketID string, status models.TicketStatus, errMsg string) error {
	if !status.IsTerminal() {
		return NewValidationError("status", fmt.Sprintf("%q is not terminal", status))
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE work_tickets
		SET status = $2, error_message = $3, finished_at = now()
		WHERE ticket_id = $1`,
		ticketID, status, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("failed to finish ticket: %w", err)
	}
	return requireRow(res)
}

// FindStuck returns running tickets whose heartbeat has gone silent past
// the threshold, judged from start time when no heartbeat landed.
func (s *TicketStore) FindStuck(ctx context.Context, threshold time.Duration) ([]*models.WorkTicket, error) {
	cutoff := time.Now().Add(-threshold)

	rows, err := s.db.QueryContext(ctx, ticketSelect+`
		WHERE status = 'running'
		  AND COALESCE(heartbeat_at, started_at, created_at) < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck tickets: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FailOwnedBy fails every pending or running ticket claimed by an owner,
// used on startup to clear work orphaned by a previous crash of this pod.
func (s *TicketStore) FailOwnedBy(ctx context.Context, owner, reason string) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE work_tickets
		SET status = 'failed', error_message = $2, finished_at = now()
		WHERE owner = $1 AND status IN ('pending', 'running')`,
		owner, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail owned tickets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

const ticketSelect = `
	SELECT ticket_id, user_id, deliverable_id, version_id, status,
	       COALESCE(owner, ''), COALESCE(error_message, ''),
	       created_at, started_at, heartbeat_at, finished_at
	FROM work_tickets`

func scanTicket(row rowScanner) (*models.WorkTicket, error) {
	var t models.WorkTicket
	var started, heartbeat, finished sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.DeliverableID, &t.VersionID, &t.Status,
		&t.Owner, &t.Error, &t.CreatedAt, &started, &heartbeat, &finished)
	if err != nil {
		return nil, err
	}
	t.StartedAt = timePtr(started)
	t.HeartbeatAt = timePtr(heartbeat)
	t.FinishedAt = timePtr(finished)
	return &t, nil
}
