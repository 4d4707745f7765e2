package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// APIError is a provider HTTP failure with enough shape for callers to
// classify it: transient errors retry, auth errors mark the connection,
// gone errors reset cursors.
type APIError struct {
	Platform   models.Platform
	StatusCode int
	Code       string // provider error code, e.g. "not_in_channel", "invalid_grant"
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error %d (%s): %s", e.Platform, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Platform, e.StatusCode, e.Message)
}

// Transient reports whether the call is worth retrying.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AuthError marks credentials the provider no longer accepts. The sync
// engine flips the connection to error state when it sees one.
type AuthError struct {
	Platform models.Platform
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth error: %s", e.Platform, e.Reason)
}

// IsAuthError reports whether err is a permanent credential failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// IsTransient reports whether err should go back through the retry budget.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	// Transport-level failures (timeouts, resets) arrive as plain errors.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && !isAPIError(err)
}

// IsGone reports whether the provider invalidated our continuation state
// (calendar sync token expiry). Callers fall back to a full-window pull.
func IsGone(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGone
}

// IsNotFound reports whether the resource no longer exists. Landscape
// refresh prunes these instead of failing the sync.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func isAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
