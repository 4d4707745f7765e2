package models

import "time"

// UserSettings holds the per-user knobs the orchestrator reads: the tier
// drives sync cadence, the timezone anchors schedules, and the email is the
// fallback delivery address.
type UserSettings struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Tier      Tier      `json:"tier"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the user's timezone, defaulting to UTC when unset or
// unparseable.
func (u UserSettings) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
