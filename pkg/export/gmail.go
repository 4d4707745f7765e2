package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// GmailExporter sends through the user's own mailbox, so replies and
// drafts land where the user already works.
type GmailExporter struct {
	client *platform.GmailClient
	auth   CredentialSource
}

// NewGmailExporter builds the Gmail delivery lane.
func NewGmailExporter(client *platform.GmailClient, auth CredentialSource) *GmailExporter {
	return &GmailExporter{client: client, auth: auth}
}

func (e *GmailExporter) Platform() string   { return "gmail" }
func (e *GmailExporter) RequiresAuth() bool { return true }
func (e *GmailExporter) SupportedFormats() []string {
	return []string{"send", "draft", "reply", "html"}
}
func (e *GmailExporter) StyleContext() string { return "email" }

func (e *GmailExporter) ValidateDestination(dest models.Destination) error {
	if !strings.Contains(dest.Target, "@") {
		return store.NewValidationError("target", "gmail destination must be an email address")
	}
	switch dest.Format {
	case "", "send", "draft", "reply", "html":
		return nil
	default:
		return unsupportedFormat("gmail", dest.Format)
	}
}

func (e *GmailExporter) VerifyDestinationAccess(ctx context.Context, userID string, dest models.Destination) error {
	if err := e.ValidateDestination(dest); err != nil {
		return err
	}
	_, err := e.auth.ConnectionCredentials(ctx, userID, models.PlatformGmail)
	return err
}

func (e *GmailExporter) Deliver(ctx context.Context, dest models.Destination, req Request) (*Result, error) {
	creds, err := e.auth.ConnectionCredentials(ctx, req.UserID, models.PlatformGmail)
	if err != nil {
		return nil, err
	}
	html := renderHTML(req.Content)

	var id string
	switch dest.Format {
	case "draft":
		id, err = e.client.CreateDraft(ctx, creds, dest.Target, req.Title, html)
	case "reply":
		threadID := req.Metadata["thread_id"]
		if threadID == "" {
			return nil, store.NewValidationError("thread_id", "reply delivery needs a thread to reply into")
		}
		id, err = e.client.ReplyInThread(ctx, creds, threadID, dest.Target, req.Title, html)
	default: // send and html are both a plain send of the rendered draft
		id, err = e.client.SendEmail(ctx, creds, dest.Target, req.Title, html)
	}
	if err != nil {
		return nil, fmt.Errorf("gmail %s failed: %w", formatOrDefault(dest.Format, "send"), err)
	}
	return &Result{ExternalID: id}, nil
}

func formatOrDefault(format, fallback string) string {
	if format == "" {
		return fallback
	}
	return format
}
