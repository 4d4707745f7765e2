package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
)

type scriptedExporter struct {
	platform string
	style    string
	err      error
	result   Result
	requests []Request
}

func (s *scriptedExporter) Platform() string           { return s.platform }
func (s *scriptedExporter) RequiresAuth() bool         { return false }
func (s *scriptedExporter) SupportedFormats() []string { return []string{"message"} }
func (s *scriptedExporter) StyleContext() string       { return s.style }

func (s *scriptedExporter) ValidateDestination(dest models.Destination) error {
	if dest.Target == "" {
		return errors.New("target required")
	}
	return nil
}

func (s *scriptedExporter) VerifyDestinationAccess(context.Context, string, models.Destination) error {
	return nil
}

func (s *scriptedExporter) Deliver(_ context.Context, _ models.Destination, req Request) (*Result, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &s.result, nil
}

func TestDispatchAggregatesMixedOutcomes(t *testing.T) {
	slack := &scriptedExporter{platform: "slack", err: errors.New("channel_not_found")}
	email := &scriptedExporter{platform: "resend", result: Result{ExternalID: "em-1"}}
	r := NewRegistry(slack, email)

	records, status := r.Dispatch(context.Background(), []models.Destination{
		{Platform: "slack", Target: "C123"},
		{Platform: "resend", Target: "user@example.com"},
	}, Request{UserID: "user-1", Title: "Digest", Content: "hello"})

	assert.Equal(t, models.VersionPartial, status)
	require.Len(t, records, 2)
	assert.Equal(t, models.DeliveryFailed, records[0].Status)
	assert.Contains(t, records[0].Detail, "channel_not_found")
	assert.Equal(t, models.DeliverySent, records[1].Status)
	assert.Equal(t, "em-1", records[1].Detail)
}

func TestDispatchAllDeliveredAndAllFailed(t *testing.T) {
	ok := &scriptedExporter{platform: "resend"}
	r := NewRegistry(ok)

	_, status := r.Dispatch(context.Background(), []models.Destination{
		{Platform: "resend", Target: "a@example.com"},
	}, Request{})
	assert.Equal(t, models.VersionDelivered, status)

	ok.err = errors.New("quota exceeded")
	_, status = r.Dispatch(context.Background(), []models.Destination{
		{Platform: "resend", Target: "a@example.com"},
	}, Request{})
	assert.Equal(t, models.VersionFailed, status)
}

func TestDispatchUnknownPlatformAndBadTarget(t *testing.T) {
	r := NewRegistry(&scriptedExporter{platform: "slack"})

	records, status := r.Dispatch(context.Background(), []models.Destination{
		{Platform: "carrier_pigeon", Target: "roof"},
		{Platform: "slack"}, // fails shape validation, Deliver never runs
	}, Request{})

	assert.Equal(t, models.VersionFailed, status)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Detail, "no exporter")
	assert.Contains(t, records[1].Detail, "target required")
}

func TestStyleContextFollowsFirstDestination(t *testing.T) {
	r := NewRegistry(
		&scriptedExporter{platform: "slack", style: "slack"},
		&scriptedExporter{platform: "notion", style: "notion"},
	)

	assert.Equal(t, "slack", r.StyleContext([]models.Destination{
		{Platform: "slack", Target: "C1"},
		{Platform: "notion", Target: "page"},
	}))
	assert.Equal(t, "email", r.StyleContext(nil))
}

func TestDownloadExporterWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	e := NewDownloadExporter(&config.ExportConfig{ArtifactsDir: dir})
	e.nowFunc = func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
	req := Request{UserID: "user-1", Title: "Weekly Update!", Content: "# Heading\n\nbody text"}

	tests := []struct {
		format   string
		wantFile string
		contains string
	}{
		{"md", "weekly-update-20260310-120000.md", "# Heading"},
		{"html", "weekly-update-20260310-120000.html", "<h1"},
		{"pdf", "weekly-update-20260310-120000.pdf.html", "<!DOCTYPE html>"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			result, err := e.Deliver(context.Background(), models.Destination{Platform: "download", Format: tt.format}, req)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "user-1", tt.wantFile), result.ExternalURL)

			data, err := os.ReadFile(result.ExternalURL)
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.contains)
		})
	}
}

func TestValidateDestinationShapes(t *testing.T) {
	gmail := NewGmailExporter(nil, nil)
	slack := NewSlackExporter(nil, nil)
	notion := NewNotionExporter(nil, nil)
	email := NewResendExporter(&config.ExportConfig{})

	assert.Error(t, gmail.ValidateDestination(models.Destination{Target: "not-an-email"}))
	assert.NoError(t, gmail.ValidateDestination(models.Destination{Target: "a@b.com", Format: "draft"}))
	assert.Error(t, gmail.ValidateDestination(models.Destination{Target: "a@b.com", Format: "page"}))

	assert.Error(t, slack.ValidateDestination(models.Destination{Format: "message"}))
	assert.Error(t, slack.ValidateDestination(models.Destination{Target: "C123", Format: "dm_draft"}))
	assert.NoError(t, slack.ValidateDestination(models.Destination{Target: "a@b.com", Format: "dm_draft"}))

	assert.Error(t, notion.ValidateDestination(models.Destination{Format: "page"}))
	assert.NoError(t, notion.ValidateDestination(models.Destination{Target: "db-id", Format: "draft"}))

	assert.Error(t, email.ValidateDestination(models.Destination{Target: "C123"}))
	assert.NoError(t, email.ValidateDestination(models.Destination{Target: "a@b.com"}))
}

type fakeBrokerConnections struct {
	conn *models.PlatformConnection
	err  error
}

func (f *fakeBrokerConnections) GetByUserAndProvider(context.Context, string, models.Platform) (*models.PlatformConnection, error) {
	return f.conn, f.err
}

type fakeBrokerTokens struct{ creds *platform.Credentials }

func (f *fakeBrokerTokens) Credentials(context.Context, *models.PlatformConnection) (*platform.Credentials, error) {
	return f.creds, nil
}

func TestAuthRefusesInactiveConnections(t *testing.T) {
	auth := NewAuth(
		&fakeBrokerConnections{conn: &models.PlatformConnection{Provider: models.PlatformSlack, Status: models.ConnectionRevoked}},
		&fakeBrokerTokens{},
	)
	_, err := auth.ConnectionCredentials(context.Background(), "user-1", models.PlatformSlack)
	require.Error(t, err)
	assert.True(t, platform.IsAuthError(err))

	auth = NewAuth(
		&fakeBrokerConnections{conn: &models.PlatformConnection{Provider: models.PlatformSlack, Status: models.ConnectionActive}},
		&fakeBrokerTokens{creds: &platform.Credentials{AccessToken: "tok"}},
	)
	creds, err := auth.ConnectionCredentials(context.Background(), "user-1", models.PlatformSlack)
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)
}

func TestSlugifyAndParagraphs(t *testing.T) {
	assert.Equal(t, "q2-board-deck-v2", slugify("Q2 Board Deck (v2)"))
	assert.Equal(t, "deliverable", slugify("!!!"))

	parts := splitParagraphs("one\n\n\n\ntwo\n\n  \n\nthree")
	assert.Equal(t, []string{"one", "two", "three"}, parts)

	long := strings.Repeat("p\n\n", 200)
	assert.Len(t, splitParagraphs(long), 90)
}
