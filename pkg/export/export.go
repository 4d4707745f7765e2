// Package export delivers generated deliverable content to its destinations.
// Each exporter owns one destination platform; the registry dispatches a
// version's destination list and aggregates per-destination outcomes.
package export

import (
	"context"
	"fmt"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// Request is the content a run wants delivered. Content is markdown;
// exporters render it for their medium.
type Request struct {
	UserID   string
	Title    string
	Content  string
	Metadata map[string]string // per-run hints, e.g. thread ids for replies
}

// Result is one successful delivery.
type Result struct {
	ExternalID  string
	ExternalURL string
}

// Exporter is one destination platform's delivery surface.
type Exporter interface {
	Platform() string
	RequiresAuth() bool
	SupportedFormats() []string
	// ValidateDestination checks shape only; no network.
	ValidateDestination(dest models.Destination) error
	// VerifyDestinationAccess checks the destination is reachable with the
	// user's current credentials.
	VerifyDestinationAccess(ctx context.Context, userID string, dest models.Destination) error
	Deliver(ctx context.Context, dest models.Destination, req Request) (*Result, error)
	// StyleContext names the prose register generation should target.
	StyleContext() string
}

// CredentialSource yields live credentials for exporters that ride the
// user's platform connections.
type CredentialSource interface {
	ConnectionCredentials(ctx context.Context, userID string, provider models.Platform) (*platform.Credentials, error)
}

// Connections is the slice of the connection store the auth broker reads.
type Connections interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider models.Platform) (*models.PlatformConnection, error)
}

// Tokens decrypts and refreshes connection credentials.
type Tokens interface {
	Credentials(ctx context.Context, conn *models.PlatformConnection) (*platform.Credentials, error)
}

var _ Connections = (*store.ConnectionStore)(nil)

// Auth resolves a user's connection into live credentials for delivery.
type Auth struct {
	connections Connections
	tokens      Tokens
}

// NewAuth builds the exporter credential broker.
func NewAuth(connections Connections, tokens Tokens) *Auth {
	return &Auth{connections: connections, tokens: tokens}
}

var _ CredentialSource = (*Auth)(nil)

// ConnectionCredentials loads the user's connection for a provider and
// returns usable token material, refreshing if needed.
func (a *Auth) ConnectionCredentials(ctx context.Context, userID string, provider models.Platform) (*platform.Credentials, error) {
	conn, err := a.connections.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("no %s connection for delivery: %w", provider, err)
	}
	if conn.Status != models.ConnectionActive {
		return nil, &platform.AuthError{Platform: provider, Reason: fmt.Sprintf("connection is %s", conn.Status)}
	}
	return a.tokens.Credentials(ctx, conn)
}

func unsupportedFormat(exporter, format string) error {
	return store.NewValidationError("format", fmt.Sprintf("%s exporter does not support %q", exporter, format))
}
