package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule frequencies.
const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
)

// Schedule describes when a deliverable runs, in the user's local time.
// The zero Schedule never fires; signal-emergent deliverables carry it.
type Schedule struct {
	Frequency string `json:"frequency,omitempty"`
	Day       string `json:"day,omitempty"`  // weekly: weekday name; monthly: day of month
	Time      string `json:"time,omitempty"` // "HH:MM", 24-hour
	Timezone  string `json:"timezone,omitempty"`
}

// IsZero reports whether the schedule never fires.
func (s Schedule) IsZero() bool {
	return s.Frequency == ""
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NextRun computes the next occurrence strictly after the given instant.
// Results always move forward: for any valid schedule, NextRun(t) > t.
func (s Schedule) NextRun(after time.Time) (time.Time, error) {
	if s.IsZero() {
		return time.Time{}, fmt.Errorf("schedule has no frequency")
	}

	loc, err := s.location()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := s.clock()
	if err != nil {
		return time.Time{}, err
	}

	local := after.In(loc)

	switch s.Frequency {
	case FreqDaily:
		cand := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !cand.After(after) {
			cand = cand.AddDate(0, 0, 1)
		}
		return cand.UTC(), nil

	case FreqWeekly:
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s.Day))]
		if !ok {
			return time.Time{}, fmt.Errorf("invalid weekday %q", s.Day)
		}
		cand := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		offset := (int(wd) - int(cand.Weekday()) + 7) % 7
		cand = cand.AddDate(0, 0, offset)
		if !cand.After(after) {
			cand = cand.AddDate(0, 0, 7)
		}
		return cand.UTC(), nil

	case FreqMonthly:
		day, err := strconv.Atoi(strings.TrimSpace(s.Day))
		if err != nil || day < 1 || day > 31 {
			return time.Time{}, fmt.Errorf("invalid day of month %q", s.Day)
		}
		cand := monthlyOccurrence(local.Year(), local.Month(), day, hour, minute, loc)
		if !cand.After(after) {
			y, m := local.Year(), local.Month()+1
			cand = monthlyOccurrence(y, m, day, hour, minute, loc)
		}
		return cand.UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("invalid frequency %q", s.Frequency)
	}
}

// monthlyOccurrence clamps the requested day to the month's length, so
// "day 31" fires on Feb 28/29, Apr 30, and so on.
func monthlyOccurrence(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func (s Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

func (s Schedule) clock() (hour, minute int, err error) {
	raw := s.Time
	if raw == "" {
		raw = "09:00"
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", s.Time)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid time %q", s.Time)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s.Time)
	}
	return hour, minute, nil
}
