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

// VersionStore manages generated deliverable versions
type VersionStore struct {
	db *sql.DB
}

// NewVersionStore creates a new VersionStore
func NewVersionStore(db *sql.DB) *VersionStore {
	return &VersionStore{db: db}
}

// Create inserts a new version numbered one past the deliverable's current
// maximum. The (deliverable, number) uniqueness constraint turns a racing
// writer into ErrAlreadyExists rather than a duplicate edition.
func (s *VersionStore) Create(ctx context.Context, v *models.DeliverableVersion) error {
	if v.DeliverableID == "" {
		return NewValidationError("deliverable_id", "required")
	}
	if v.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = models.VersionGenerating
	}

	snapshots, err := marshalJSON(v.SourceSnapshots)
	if err != nil {
		return err
	}
	deliveryLog, err := marshalJSON(v.DeliveryLog)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(writeCtx, `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM deliverable_versions
		WHERE deliverable_id = $1`,
		v.DeliverableID).Scan(&v.VersionNumber); err != nil {
		return fmt.Errorf("failed to compute version number: %w", err)
	}

	_, err = tx.ExecContext(writeCtx, `
		INSERT INTO deliverable_versions
			(version_id, deliverable_id, user_id, version_number, status, content,
			 source_snapshots, delivery_log, error_message, trigger_context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.DeliverableID, v.UserID, v.VersionNumber, v.Status, v.Content,
		snapshots, deliveryLog, nullString(v.Error), v.TriggerContext)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version create: %w", err)
	}
	return nil
}

// Get retrieves a version by ID
func (s *VersionStore) Get(ctx context.Context, versionID string) (*models.DeliverableVersion, error) {
	row := s.db.QueryRowContext(ctx, versionSelect+` WHERE version_id = $1`, versionID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// GetLatest retrieves the most recent version of a deliverable regardless
// of status, or ErrNotFound when none exist yet.
func (s *VersionStore) GetLatest(ctx context.Context, deliverableID string) (*models.DeliverableVersion, error) {
	row := s.db.QueryRowContext(ctx, versionSelect+`
		WHERE deliverable_id = $1
		ORDER BY version_number DESC
		LIMIT 1`, deliverableID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	return v, nil
}

// ListByDeliverable returns recent versions, newest first
func (s *VersionStore) ListByDeliverable(ctx context.Context, deliverableID string, limit int) ([]*models.DeliverableVersion, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, versionSelect+`
		WHERE deliverable_id = $1
		ORDER BY version_number DESC
		LIMIT $2`, deliverableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*models.DeliverableVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetGenerated stores the agent's output on a version while it is still in
// flight: content plus what the gather step saw.
func (s *VersionStore) SetGenerated(ctx context.Context, versionID, content string, snapshots []models.SourceSnapshot) error {
	data, err := marshalJSON(snapshots)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE deliverable_versions
		SET content = $2, source_snapshots = $3, status = $4
		WHERE version_id = $1`,
		versionID, content, data, models.VersionCompleted)
	if err != nil {
		return fmt.Errorf("failed to store generated content: %w", err)
	}
	return requireRow(res)
}

// Finalize records the terminal outcome of a run: the delivery log, the
// final status and the delivery time when at least one destination took it.
func (s *VersionStore) Finalize(ctx context.Context, versionID string, status models.VersionStatus, deliveryLog []models.DeliveryRecord, errMsg string, deliveredAt *time.Time) error {
	data, err := marshalJSON(deliveryLog)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE deliverable_versions
		SET status = $2, delivery_log = $3, error_message = $4, delivered_at = $5
		WHERE version_id = $1`,
		versionID, status, data, nullString(errMsg), nullTime(deliveredAt))
	if err != nil {
		return fmt.Errorf("failed to finalize version: %w", err)
	}
	return requireRow(res)
}

// SetStatus transitions a version's status, recording an error message for
// failed outcomes.
func (s *VersionStore) SetStatus(ctx context.Context, versionID string, status models.VersionStatus, errMsg string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE deliverable_versions
		SET status = $2, error_message = $3
		WHERE version_id = $1`,
		versionID, status, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("failed to set version status: %w", err)
	}
	return requireRow(res)
}

// CountAwaitingReview counts draft versions waiting on the user, the queue
// a semi-automatic deliverable feeds.
func (s *VersionStore) CountAwaitingReview(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM deliverable_versions
		WHERE user_id = $1 AND status = 'draft'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count draft versions: %w", err)
	}
	return n, nil
}

const versionSelect = `
	SELECT version_id, deliverable_id, user_id, version_number, status, content,
	       source_snapshots, delivery_log, COALESCE(error_message, ''),
	       trigger_context, created_at, delivered_at
	FROM deliverable_versions`

func scanVersion(row rowScanner) (*models.DeliverableVersion, error) {
	var v models.DeliverableVersion
	var snapshots, deliveryLog []byte
	var delivered sql.NullTime
	err := row.Scan(&v.ID, &v.DeliverableID, &v.UserID, &v.VersionNumber,
		&v.Status, &v.Content, &snapshots, &deliveryLog, &v.Error,
		&v.TriggerContext, &v.CreatedAt, &delivered)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(snapshots, &v.SourceSnapshots); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(deliveryLog, &v.DeliveryLog); err != nil {
		return nil, err
	}
	v.DeliveredAt = timePtr(delivered)
	return &v, nil
}
