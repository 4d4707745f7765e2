package models

import "time"

// TypeClassification captures how a deliverable gathers its inputs.
type TypeClassification struct {
	Binding                   Binding    `json:"binding"`
	PrimaryPlatform           Platform   `json:"primary_platform,omitempty"`
	Platforms                 []Platform `json:"platforms,omitempty"`
	FreshnessRequirementHours int        `json:"freshness_requirement_hours,omitempty"`
	ResearchDirective         string     `json:"research_directive,omitempty"`
	TemporalScope             string     `json:"temporal_scope,omitempty"`
}

// SourcePlatforms lists the platforms a run must check freshness for.
// Research bindings gather nothing from platforms.
func (t TypeClassification) SourcePlatforms() []Platform {
	switch t.Binding {
	case BindingPlatformBound:
		if t.PrimaryPlatform != "" {
			return []Platform{t.PrimaryPlatform}
		}
		return nil
	case BindingCrossPlatform, BindingHybrid:
		if len(t.Platforms) > 0 {
			return t.Platforms
		}
		if t.PrimaryPlatform != "" {
			return []Platform{t.PrimaryPlatform}
		}
		return nil
	default:
		return nil
	}
}

// Destination says where a finished version goes. Platform selects the
// exporter; Target is exporter-specific (address, channel, parent page).
type Destination struct {
	Platform string `json:"platform"`
	Target   string `json:"target,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Deliverable is a standing instruction to produce something on a cadence.
type Deliverable struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Title        string             `json:"title"`
	Prompt       string             `json:"prompt"`
	Type         TypeClassification `json:"type_classification"`
	Schedule     Schedule           `json:"schedule"`
	Destinations []Destination      `json:"destination"`
	Status       DeliverableStatus  `json:"status"`
	Mode         DeliverableMode    `json:"mode"`
	Origin       DeliverableOrigin  `json:"origin"`
	TriggerType  TriggerType        `json:"trigger_type"`
	NextRunAt    *time.Time         `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time         `json:"last_run_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Due reports whether the scheduler should fire this deliverable now.
func (d Deliverable) Due(now time.Time) bool {
	return d.Status == DeliverableActive &&
		d.TriggerType == TriggerScheduled &&
		d.NextRunAt != nil && !d.NextRunAt.After(now)
}

// SourceSnapshot records what one gather step saw, including sources that
// stayed stale after the bounded re-sync.
type SourceSnapshot struct {
	Platform     Platform   `json:"platform"`
	ResourceIDs  []string   `json:"resource_ids,omitempty"`
	ItemCount    int        `json:"item_count"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Stale        bool       `json:"stale,omitempty"`
}

// DeliveryRecord is the outcome of one destination attempt.
type DeliveryRecord struct {
	Destination Destination    `json:"destination"`
	Status      DeliveryStatus `json:"status"`
	Detail      string         `json:"detail,omitempty"`
	DeliveredAt time.Time      `json:"delivered_at"`
}

// DeliverableVersion is one generated edition of a deliverable.
type DeliverableVersion struct {
	ID              string           `json:"id"`
	DeliverableID   string           `json:"deliverable_id"`
	UserID          string           `json:"user_id"`
	VersionNumber   int              `json:"version_number"`
	Status          VersionStatus    `json:"status"`
	Content         string           `json:"content,omitempty"`
	SourceSnapshots []SourceSnapshot `json:"source_snapshots,omitempty"`
	DeliveryLog     []DeliveryRecord `json:"delivery_log,omitempty"`
	Error           string           `json:"error,omitempty"`
	TriggerContext  string           `json:"trigger_context,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	DeliveredAt     *time.Time       `json:"delivered_at,omitempty"`
}
