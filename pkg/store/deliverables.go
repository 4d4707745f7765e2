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

// DeliverableStore manages standing deliverable definitions
type DeliverableStore struct {
	db *sql.DB
}

// NewDeliverableStore creates a new DeliverableStore
func NewDeliverableStore(db *sql.DB) *DeliverableStore {
	return &DeliverableStore{db: db}
}

// Create inserts a new deliverable
func (s *DeliverableStore) Create(ctx context.Context, d *models.Deliverable) error {
	if d.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if d.Title == "" {
		return NewValidationError("title", "required")
	}
	if d.Origin == "" {
		return NewValidationError("origin", "required")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = models.DeliverableActive
	}
	if d.Mode == "" {
		d.Mode = models.ModeAuto
	}
	if d.TriggerType == "" {
		d.TriggerType = models.TriggerScheduled
	}

	classification, err := marshalJSON(d.Type)
	if err != nil {
		return err
	}
	schedule, err := marshalJSON(d.Schedule)
	if err != nil {
		return err
	}
	destinations, err := marshalJSON(d.Destinations)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(writeCtx, `
		INSERT INTO deliverables
			(deliverable_id, user_id, title, prompt, type_classification, schedule,
			 destination, status, mode, origin, trigger_type, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.UserID, d.Title, d.Prompt, classification, schedule,
		destinations, d.Status, d.Mode, d.Origin, d.TriggerType, nullTime(d.NextRunAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create deliverable: %w", err)
	}
	return nil
}

// Get retrieves a deliverable by ID
func (s *DeliverableStore) Get(ctx context.Context, deliverableID string) (*models.Deliverable, error) {
	row := s.db.QueryRowContext(ctx, deliverableSelect+` WHERE deliverable_id = $1`, deliverableID)

	d, err := scanDeliverable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deliverable: %w", err)
	}
	return d, nil
}

// ListByUser returns a user's deliverables, optionally filtered by status
func (s *DeliverableStore) ListByUser(ctx context.Context, userID string, status models.DeliverableStatus) ([]*models.Deliverable, error) {
	query := deliverableSelect + ` WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	return s.queryMany(ctx, query, args...)
}

// ListDue returns active scheduled deliverables whose next run time has
// passed, oldest first so the longest-overdue run first.
func (s *DeliverableStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Deliverable, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMany(ctx, deliverableSelect+`
		WHERE status = 'active'
		  AND trigger_type = 'scheduled'
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2`, now, limit)
}

func (s *DeliverableStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.Deliverable, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliverables: %w", err)
	}
	defer rows.Close()

	var out []*models.Deliverable
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deliverable: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CompleteRun records a finished run: last_run_at moves to the run time and
// next_run_at advances to the computed next occurrence. The advance happens
// regardless of whether the run succeeded so a failing deliverable cannot
// wedge the schedule.
func (s *DeliverableStore) CompleteRun(ctx context.Context, deliverableID string, ranAt time.Time, nextRunAt *time.Time) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE deliverables
		SET last_run_at = $2, next_run_at = $3, updated_at = now()
		WHERE deliverable_id = $1`,
		deliverableID, ranAt, nullTime(nextRunAt))
	if err != nil {
		return fmt.Errorf("failed to record deliverable run: %w", err)
	}
	return requireRow(res)
}

// SetNextRun updates only the next run time, used when (re)activating or
// rescheduling a deliverable.
func (s *DeliverableStore) SetNextRun(ctx context.Context, deliverableID string, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliverables
		SET next_run_at = $2, updated_at = now()
		WHERE deliverable_id = $1`,
		deliverableID, nullTime(nextRunAt))
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}
	return requireRow(res)
}

// SetStatus transitions a deliverable between active, paused and archived
func (s *DeliverableStore) SetStatus(ctx context.Context, deliverableID string, status models.DeliverableStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliverables
		SET status = $2, updated_at = now()
		WHERE deliverable_id = $1`,
		deliverableID, status)
	if err != nil {
		return fmt.Errorf("failed to set deliverable status: %w", err)
	}
	return requireRow(res)
}

// Update rewrites the mutable definition fields
func (s *DeliverableStore) Update(ctx context.Context, d *models.Deliverable) error {
	classification, err := marshalJSON(d.Type)
	if err != nil {
		return err
	}
	schedule, err := marshalJSON(d.Schedule)
	if err != nil {
		return err
	}
	destinations, err := marshalJSON(d.Destinations)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE deliverables
		SET title = $2, prompt = $3, type_classification = $4, schedule = $5,
		    destination = $6, mode = $7, trigger_type = $8, updated_at = now()
		WHERE deliverable_id = $1`,
		d.ID, d.Title, d.Prompt, classification, schedule,
		destinations, d.Mode, d.TriggerType)
	if err != nil {
		return fmt.Errorf("failed to update deliverable: %w", err)
	}
	return requireRow(res)
}

const deliverableSelect = `
	SELECT deliverable_id, user_id, title, prompt, type_classification, schedule,
	       destination, status, mode, origin, trigger_type,
	       next_run_at, last_run_at, created_at, updated_at
	FROM deliverables`

func scanDeliverable(row rowScanner) (*models.Deliverable, error) {
	var d models.Deliverable
	var classification, schedule, destinations []byte
	var nextRun, lastRun sql.NullTime
	err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Prompt, &classification,
		&schedule, &destinations, &d.Status, &d.Mode, &d.Origin, &d.TriggerType,
		&nextRun, &lastRun, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(classification, &d.Type); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(schedule, &d.Schedule); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(destinations, &d.Destinations); err != nil {
		return nil, err
	}
	d.NextRunAt = timePtr(nextRun)
	d.LastRunAt = timePtr(lastRun)
	return &d, nil
}
