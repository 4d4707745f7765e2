// Package platform holds the typed provider clients the sync engine pulls
// content through, the token manager that guards their credentials, and the
// shared HTTP door every outbound call goes through.
package platform

import (
	"context"
	"time"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// Credentials is the decrypted token material for one connection. The
// sealed form lives on the connection row; this struct never persists.
type Credentials struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	TeamID       string     `json:"team_id,omitempty"`
	AuthedUserID string     `json:"authed_user_id,omitempty"`
	BotUserID    string     `json:"bot_user_id,omitempty"`
}

// ExpiresWithin reports whether the access token needs a refresh before a
// call that starts at now. Tokens without an expiry never refresh.
func (c *Credentials) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(margin))
}

// FetchOptions bounds one per-resource pull.
type FetchOptions struct {
	Limit  int
	Since  time.Time
	Until  time.Time
	Cursor string // provider continuation state, e.g. a calendar sync token
}

// FetchResult is the outcome of one per-resource pull. Items carry
// platform, resource, source ref, title, body, timestamp, and metadata;
// the sync engine fills in ownership and cache lifetimes.
type FetchResult struct {
	Items  []models.PlatformContent
	Cursor string // new continuation state, empty when the provider has none
}

// Client is one provider's typed surface. Discover catalogs the resources
// the connection can see; Fetch pulls one resource's recent items.
type Client interface {
	Platform() models.Platform
	Discover(ctx context.Context, creds *Credentials) ([]models.Resource, error)
	Fetch(ctx context.Context, creds *Credentials, resourceID string, opts FetchOptions) (*FetchResult, error)
}

// Registry maps providers to their clients. Built once at startup and
// injected wherever platform calls are made.
type Registry struct {
	clients map[models.Platform]Client
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[models.Platform]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

// Client returns the client for a provider, if one is registered.
func (r *Registry) Client(p models.Platform) (Client, bool) {
	c, ok := r.clients[p]
	return c, ok
}

// Platforms lists registered providers.
func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	return out
}
