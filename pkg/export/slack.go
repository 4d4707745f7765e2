package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// SlackExporter posts into channels, threads, or a DM opened from the
// recipient's email.
type SlackExporter struct {
	client *platform.SlackClient
	auth   CredentialSource
}

// NewSlackExporter builds the Slack delivery lane.
func NewSlackExporter(client *platform.SlackClient, auth CredentialSource) *SlackExporter {
	return &SlackExporter{client: client, auth: auth}
}

func (e *SlackExporter) Platform() string   { return "slack" }
func (e *SlackExporter) RequiresAuth() bool { return true }
func (e *SlackExporter) SupportedFormats() []string {
	return []string{"message", "thread", "blocks", "dm_draft"}
}
func (e *SlackExporter) StyleContext() string { return "slack" }

func (e *SlackExporter) ValidateDestination(dest models.Destination) error {
	if dest.Target == "" {
		return store.NewValidationError("target", "slack destination needs a channel or email")
	}
	switch dest.Format {
	case "", "message", "thread", "blocks", "dm_draft":
	default:
		return unsupportedFormat("slack", dest.Format)
	}
	if dest.Format == "dm_draft" && !strings.Contains(dest.Target, "@") {
		return store.NewValidationError("target", "dm_draft destination must be the recipient's email")
	}
	return nil
}

func (e *SlackExporter) VerifyDestinationAccess(ctx context.Context, userID string, dest models.Destination) error {
	if err := e.ValidateDestination(dest); err != nil {
		return err
	}
	_, err := e.auth.ConnectionCredentials(ctx, userID, models.PlatformSlack)
	return err
}

func (e *SlackExporter) Deliver(ctx context.Context, dest models.Destination, req Request) (*Result, error) {
	creds, err := e.auth.ConnectionCredentials(ctx, req.UserID, models.PlatformSlack)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("*%s*\n\n%s", req.Title, req.Content)

	channelID := dest.Target
	threadTS := ""
	switch dest.Format {
	case "thread":
		threadTS = req.Metadata["thread_ts"]
		if threadTS == "" {
			return nil, store.NewValidationError("thread_ts", "thread delivery needs a parent timestamp")
		}
	case "dm_draft":
		channelID, err = e.client.OpenDMByEmail(ctx, creds, dest.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to open DM for %s: %w", dest.Target, err)
		}
	}

	ts, err := e.client.PostMessage(ctx, creds, channelID, text, threadTS)
	if err != nil {
		return nil, fmt.Errorf("slack post failed: %w", err)
	}
	return &Result{ExternalID: ts}, nil
}

var _ Exporter = (*SlackExporter)(nil)
var _ Exporter = (*GmailExporter)(nil)
var _ Exporter = (*ResendExporter)(nil)
