package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/secrets"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// refreshMargin refreshes access tokens this long before they expire so a
// token cannot die mid-call.
const refreshMargin = 60 * time.Second

// ConnectionWriter is the slice of the connection store the token manager
// writes through: re-sealed credentials after a refresh, and error status
// when the provider rejects the grant.
type ConnectionWriter interface {
	UpdateCredentials(ctx context.Context, connectionID, credentials string) error
	UpdateStatus(ctx context.Context, connectionID string, status models.ConnectionStatus, detail string) error
}

// TokenManager decrypts connection credentials and keeps Google access
// tokens fresh. It is the only component that sees token plaintext.
type TokenManager struct {
	box     *secrets.Box
	writer  ConnectionWriter
	door    *Door
	cfg     *config.PlatformConfig
	cache   *gocache.Cache // connection_id → *Credentials with a live access token
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewTokenManager builds a token manager over the given connection writer.
func NewTokenManager(box *secrets.Box, writer ConnectionWriter, door *Door, cfg *config.PlatformConfig) *TokenManager {
	return &TokenManager{
		box:     box,
		writer:  writer,
		door:    door,
		cfg:     cfg,
		cache:   gocache.New(30*time.Minute, 10*time.Minute),
		nowFunc: time.Now,
		logger:  slog.Default().With("component", "token-manager"),
	}
}

// Seal encrypts credentials for storage on a connection row.
func (m *TokenManager) Seal(creds *Credentials) (string, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}
	return m.box.Seal(data)
}

// Credentials returns live token material for a connection, refreshing
// Google access tokens that expire within the margin. A refresh the
// provider rejects with invalid_grant marks the connection expired and
// returns an AuthError.
func (m *TokenManager) Credentials(ctx context.Context, conn *models.PlatformConnection) (*Credentials, error) {
	if cached, ok := m.cache.Get(conn.ID); ok {
		creds := cached.(*Credentials)
		if !creds.ExpiresWithin(m.nowFunc(), refreshMargin) {
			return creds, nil
		}
		m.cache.Delete(conn.ID)
	}

	data, err := m.box.Open(conn.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for connection %s: %w", conn.ID, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials for connection %s: %w", conn.ID, err)
	}

	if creds.ExpiresWithin(m.nowFunc(), refreshMargin) {
		if creds.RefreshToken == "" {
			return nil, &AuthError{Platform: conn.Provider, Reason: "access token expired and no refresh token held"}
		}
		refreshed, err := m.refreshGoogle(ctx, conn, &creds)
		if err != nil {
			return nil, err
		}
		creds = *refreshed
	}

	if creds.ExpiresAt != nil {
		m.cache.Set(conn.ID, &creds, time.Until(creds.ExpiresAt.Add(-refreshMargin)))
	} else {
		m.cache.Set(conn.ID, &creds, gocache.DefaultExpiration)
	}
	return &creds, nil
}

// Invalidate drops any cached token for a connection, forcing the next
// call to decrypt fresh state. Used after a 401 mid-sync.
func (m *TokenManager) Invalidate(connectionID string) {
	m.cache.Delete(connectionID)
}

func (m *TokenManager) refreshGoogle(ctx context.Context, conn *models.PlatformConnection, creds *Credentials) (*Credentials, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	err := m.door.DoJSON(ctx, &Request{
		Method: http.MethodPost,
		URL:    m.cfg.GoogleTokenURL,
		Form: url.Values{
			"client_id":     {m.cfg.GoogleClientID},
			"client_secret": {m.cfg.GoogleClientSecret},
			"refresh_token": {creds.RefreshToken},
			"grant_type":    {"refresh_token"},
		},
	}, &resp)
	if err != nil {
		if isInvalidGrant(err) {
			m.markExpired(conn, "refresh token rejected (invalid_grant)")
			return nil, &AuthError{Platform: conn.Provider, Reason: "invalid_grant"}
		}
		return nil, fmt.Errorf("token refresh failed for connection %s: %w", conn.ID, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token refresh for connection %s returned no access token", conn.ID)
	}

	expiry := m.nowFunc().Add(time.Duration(resp.ExpiresIn) * time.Second)
	refreshed := *creds
	refreshed.AccessToken = resp.AccessToken
	refreshed.ExpiresAt = &expiry

	sealed, err := m.Seal(&refreshed)
	if err != nil {
		return nil, err
	}
	// Best effort: a failed persist means the next pull refreshes again.
	if err := m.writer.UpdateCredentials(ctx, conn.ID, sealed); err != nil {
		m.logger.Warn("Failed to persist refreshed credentials",
			"connection_id", conn.ID, "error", err)
	}
	return &refreshed, nil
}

func (m *TokenManager) markExpired(conn *models.PlatformConnection, detail string) {
	// The connection row must reflect the dead grant even if the caller's
	// context is already gone.
	if err := m.writer.UpdateStatus(context.Background(), conn.ID, models.ConnectionExpired, detail); err != nil {
		m.logger.Error("Failed to mark connection expired",
			"connection_id", conn.ID, "error", err)
	}
	m.cache.Delete(conn.ID)
}

func isInvalidGrant(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "invalid_grant" {
		return true
	}
	return apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, "invalid_grant")
}

var _ ConnectionWriter = (*store.ConnectionStore)(nil)
