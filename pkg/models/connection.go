package models

import (
	"time"

	"github.com/samber/lo"
)

// Resource is one syncable source discovered on a platform: a Slack
// channel, a Gmail label, a Notion page, a calendar.
type Resource struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Kind     string         `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Landscape is the catalog of resources available on a connection plus the
// subset the user chose to sync.
type Landscape struct {
	Resources       []Resource `json:"resources"`
	SelectedSources []string   `json:"selected_sources"`
	RefreshedAt     *time.Time `json:"refreshed_at,omitempty"`
}

// Merge replaces the resource catalog with a freshly discovered one and
// prunes selections that no longer resolve to a resource. Selections are
// taken from the receiver, so callers re-reading the row before a write
// keep edits made while discovery was running.
func (l Landscape) Merge(fresh []Resource, now time.Time) Landscape {
	known := lo.SliceToMap(fresh, func(r Resource) (string, struct{}) {
		return r.ID, struct{}{}
	})
	selected := lo.Filter(l.SelectedSources, func(id string, _ int) bool {
		_, ok := known[id]
		return ok
	})
	return Landscape{
		Resources:       fresh,
		SelectedSources: selected,
		RefreshedAt:     &now,
	}
}

// EffectiveSources returns the selected source IDs, or every catalog
// resource when the user has not narrowed the selection.
func (l Landscape) EffectiveSources() []string {
	if len(l.SelectedSources) > 0 {
		return l.SelectedSources
	}
	return lo.Map(l.Resources, func(r Resource, _ int) string { return r.ID })
}

// Resource looks up a catalog entry by ID.
func (l Landscape) Resource(id string) (Resource, bool) {
	return lo.Find(l.Resources, func(r Resource) bool { return r.ID == id })
}

// PlatformConnection is a user's authenticated link to one provider.
// Credentials hold the provider token material encrypted at rest; nothing
// in this struct is ever logged verbatim.
type PlatformConnection struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Provider     Platform         `json:"provider"`
	Credentials  string           `json:"-"`
	Scopes       []string         `json:"scopes,omitempty"`
	Status       ConnectionStatus `json:"status"`
	StatusDetail string           `json:"status_detail,omitempty"`
	Landscape    Landscape        `json:"landscape"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
