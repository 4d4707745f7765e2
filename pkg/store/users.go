package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// UserSettingsStore manages per-user settings rows
type UserSettingsStore struct {
	db *sql.DB
}

// NewUserSettingsStore creates a new UserSettingsStore
func NewUserSettingsStore(db *sql.DB) *UserSettingsStore {
	return &UserSettingsStore{db: db}
}

// Upsert inserts or updates a user's settings keyed by user ID
func (s *UserSettingsStore) Upsert(ctx context.Context, settings models.UserSettings) error {
	if settings.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if settings.Email == "" {
		return NewValidationError("email", "required")
	}
	if settings.Tier == "" {
		settings.Tier = models.TierFree
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, email, tier, timezone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			tier = EXCLUDED.tier,
			timezone = EXCLUDED.timezone,
			updated_at = now()`,
		settings.UserID, settings.Email, settings.Tier, settings.Timezone)
	if err != nil {
		return fmt.Errorf("failed to upsert user settings: %w", err)
	}
	return nil
}

// Get retrieves one user's settings
func (s *UserSettingsStore) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, tier, timezone, created_at, updated_at
		FROM user_settings
		WHERE user_id = $1`, userID)

	var u models.UserSettings
	err := row.Scan(&u.UserID, &u.Email, &u.Tier, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return &u, nil
}

// ListWithActiveConnections returns settings for every user holding at
// least one active platform connection. These are the users the scheduler
// considers on each tick.
func (s *UserSettingsStore) ListWithActiveConnections(ctx context.Context) ([]models.UserSettings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT us.user_id, us.email, us.tier, us.timezone, us.created_at, us.updated_at
		FROM user_settings us
		WHERE EXISTS (
			SELECT 1 FROM platform_connections pc
			WHERE pc.user_id = us.user_id AND pc.status = 'active'
		)
		ORDER BY us.user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with active connections: %w", err)
	}
	defer rows.Close()

	var out []models.UserSettings
	for rows.Next() {
		var u models.UserSettings
		if err := rows.Scan(&u.UserID, &u.Email, &u.Tier, &u.Timezone, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user settings: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
