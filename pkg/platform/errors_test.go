package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yarnnn/orchestrator/pkg/models"
)

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		auth      bool
		gone      bool
		notFound  bool
	}{
		{
			name:      "rate limit is transient",
			err:       &APIError{Platform: models.PlatformGmail, StatusCode: 429},
			transient: true,
		},
		{
			name:      "server error is transient",
			err:       &APIError{Platform: models.PlatformSlack, StatusCode: 502},
			transient: true,
		},
		{
			name: "unauthorized is auth",
			err:  &APIError{Platform: models.PlatformGmail, StatusCode: 401},
			auth: true,
		},
		{
			name: "forbidden is auth",
			err:  &APIError{Platform: models.PlatformSlack, StatusCode: 403, Code: "missing_scope"},
			auth: true,
		},
		{
			name: "typed auth error",
			err:  &AuthError{Platform: models.PlatformGmail, Reason: "invalid_grant"},
			auth: true,
		},
		{
			name: "gone resets cursors",
			err:  &APIError{Platform: models.PlatformCalendar, StatusCode: 410},
			gone: true,
		},
		{
			name:     "not found prunes",
			err:      &APIError{Platform: models.PlatformNotion, StatusCode: 404},
			notFound: true,
		},
		{
			name:      "wrapped api error still classifies",
			err:       fmt.Errorf("fetching: %w", &APIError{Platform: models.PlatformGmail, StatusCode: 500}),
			transient: true,
		},
		{
			name:      "plain transport error is transient",
			err:       errors.New("connection reset by peer"),
			transient: true,
		},
		{
			name: "cancellation is not transient",
			err:  context.Canceled,
		},
		{
			name: "deadline is not transient",
			err:  context.DeadlineExceeded,
		},
		{
			name: "client error is terminal",
			err:  &APIError{Platform: models.PlatformNotion, StatusCode: 400},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
			assert.Equal(t, tt.auth, IsAuthError(tt.err), "IsAuthError")
			assert.Equal(t, tt.gone, IsGone(tt.err), "IsGone")
			assert.Equal(t, tt.notFound, IsNotFound(tt.err), "IsNotFound")
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Platform: models.PlatformSlack, StatusCode: 403, Code: "not_in_channel", Message: "conversations.history failed"}
	assert.Contains(t, err.Error(), "not_in_channel")
	assert.Contains(t, err.Error(), "slack")

	bare := &APIError{Platform: models.PlatformGmail, StatusCode: 500, Message: "boom"}
	assert.Contains(t, bare.Error(), "500")
}

func TestCredentialsExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	t.Run("no expiry never refreshes", func(t *testing.T) {
		creds := &Credentials{AccessToken: "tok"}
		assert.False(t, creds.ExpiresWithin(now, refreshMargin))
	})

	t.Run("inside margin refreshes", func(t *testing.T) {
		expiry := now.Add(30 * time.Second)
		creds := &Credentials{AccessToken: "tok", ExpiresAt: &expiry}
		assert.True(t, creds.ExpiresWithin(now, refreshMargin))
	})

	t.Run("outside margin holds", func(t *testing.T) {
		expiry := now.Add(10 * time.Minute)
		creds := &Credentials{AccessToken: "tok", ExpiresAt: &expiry}
		assert.False(t, creds.ExpiresWithin(now, refreshMargin))
	})
}
