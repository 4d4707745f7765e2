package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// ResendExporter is the default email lane: server-side API key, no user
// OAuth. Every user can receive here, so it is also the fallback when a
// deliverable has no usable destination.
type ResendExporter struct {
	client *resend.Client
	cfg    *config.ExportConfig
}

// NewResendExporter builds the default email exporter.
func NewResendExporter(cfg *config.ExportConfig) *ResendExporter {
	return &ResendExporter{client: resend.NewClient(cfg.ResendAPIKey), cfg: cfg}
}

func (e *ResendExporter) Platform() string           { return "resend" }
func (e *ResendExporter) RequiresAuth() bool         { return false }
func (e *ResendExporter) SupportedFormats() []string { return []string{"html"} }
func (e *ResendExporter) StyleContext() string       { return "email" }

func (e *ResendExporter) ValidateDestination(dest models.Destination) error {
	if !strings.Contains(dest.Target, "@") {
		return store.NewValidationError("target", "resend destination must be an email address")
	}
	if dest.Format != "" && dest.Format != "html" {
		return unsupportedFormat("resend", dest.Format)
	}
	return nil
}

// VerifyDestinationAccess is shape-only for resend; there is no per-user
// credential to probe.
func (e *ResendExporter) VerifyDestinationAccess(_ context.Context, _ string, dest models.Destination) error {
	return e.ValidateDestination(dest)
}

func (e *ResendExporter) Deliver(ctx context.Context, dest models.Destination, req Request) (*Result, error) {
	sent, err := e.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.from(),
		To:      []string{dest.Target},
		Subject: req.Title,
		Html:    renderHTML(req.Content),
	})
	if err != nil {
		return nil, fmt.Errorf("resend send failed: %w", err)
	}
	return &Result{ExternalID: sent.Id}, nil
}

// SendFailureNotice tells the user a semi-auto delivery did not land, so
// the artifact is not silently lost.
func (e *ResendExporter) SendFailureNotice(ctx context.Context, to, deliverableTitle, reason string) error {
	body := fmt.Sprintf(
		"## Delivery failed\n\nYour deliverable %q was generated but could not be delivered.\n\n> %s\n\nThe next scheduled run will try again.",
		deliverableTitle, reason)
	_, err := e.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.from(),
		To:      []string{to},
		Subject: fmt.Sprintf("Delivery failed: %s", deliverableTitle),
		Html:    renderHTML(body),
	})
	if err != nil {
		return fmt.Errorf("failure notice send failed: %w", err)
	}
	return nil
}

func (e *ResendExporter) from() string {
	if e.cfg.FromName == "" {
		return e.cfg.FromAddress
	}
	return fmt.Sprintf("%s <%s>", e.cfg.FromName, e.cfg.FromAddress)
}
