package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleNextRun(t *testing.T) {
	// Wednesday 2026-03-04 15:30 UTC
	after := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule Schedule
		want     time.Time
	}{
		{
			name:     "daily before today's slot",
			schedule: Schedule{Frequency: FreqDaily, Time: "18:00", Timezone: "UTC"},
			want:     time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily after today's slot rolls to tomorrow",
			schedule: Schedule{Frequency: FreqDaily, Time: "09:00", Timezone: "UTC"},
			want:     time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "weekly later this week",
			schedule: Schedule{Frequency: FreqWeekly, Day: "friday", Time: "08:00", Timezone: "UTC"},
			want:     time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "weekly same day already passed rolls a week",
			schedule: Schedule{Frequency: FreqWeekly, Day: "Wednesday", Time: "09:00", Timezone: "UTC"},
			want:     time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly later this month",
			schedule: Schedule{Frequency: FreqMonthly, Day: "15", Time: "07:00", Timezone: "UTC"},
			want:     time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly day already passed rolls a month",
			schedule: Schedule{Frequency: FreqMonthly, Day: "1", Time: "07:00", Timezone: "UTC"},
			want:     time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly day 31 clamps to short month",
			schedule: Schedule{Frequency: FreqMonthly, Day: "31", Time: "07:00", Timezone: "UTC"},
			want:     time.Date(2026, 3, 31, 7, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.schedule.NextRun(after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(after), "next run must move forward")
		})
	}
}

func TestScheduleNextRunTimezone(t *testing.T) {
	// 14:00 UTC is 09:00 in New York (EST, winter): today's 10:00 local slot
	// is still ahead.
	after := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: FreqDaily, Time: "10:00", Timezone: "America/New_York"}

	got, err := s.NextRun(after)
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, loc).UTC(), got)
}

func TestScheduleNextRunClampsFebruary(t *testing.T) {
	after := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: FreqMonthly, Day: "31", Time: "06:00", Timezone: "UTC"}

	got, err := s.NextRun(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 6, 0, 0, 0, time.UTC), got)
}

func TestScheduleNextRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
	}{
		{"zero schedule", Schedule{}},
		{"bad frequency", Schedule{Frequency: "fortnightly", Time: "09:00"}},
		{"bad weekday", Schedule{Frequency: FreqWeekly, Day: "someday", Time: "09:00"}},
		{"bad day of month", Schedule{Frequency: FreqMonthly, Day: "32", Time: "09:00"}},
		{"bad time", Schedule{Frequency: FreqDaily, Time: "25:99"}},
		{"bad timezone", Schedule{Frequency: FreqDaily, Time: "09:00", Timezone: "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.schedule.NextRun(time.Now())
			assert.Error(t, err)
		})
	}
}
