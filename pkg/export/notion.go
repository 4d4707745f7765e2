package export

import (
	"context"
	"fmt"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// NotionExporter writes pages, database rows, or entries in the user's
// Drafts database.
type NotionExporter struct {
	client *platform.NotionClient
	auth   CredentialSource
}

// NewNotionExporter builds the Notion delivery lane.
func NewNotionExporter(client *platform.NotionClient, auth CredentialSource) *NotionExporter {
	return &NotionExporter{client: client, auth: auth}
}

func (e *NotionExporter) Platform() string   { return "notion" }
func (e *NotionExporter) RequiresAuth() bool { return true }
func (e *NotionExporter) SupportedFormats() []string {
	return []string{"page", "database_item", "draft"}
}
func (e *NotionExporter) StyleContext() string { return "notion" }

func (e *NotionExporter) ValidateDestination(dest models.Destination) error {
	if dest.Target == "" {
		return store.NewValidationError("target", "notion destination needs a parent page or database id")
	}
	switch dest.Format {
	case "", "page", "database_item", "draft":
		return nil
	default:
		return unsupportedFormat("notion", dest.Format)
	}
}

func (e *NotionExporter) VerifyDestinationAccess(ctx context.Context, userID string, dest models.Destination) error {
	if err := e.ValidateDestination(dest); err != nil {
		return err
	}
	_, err := e.auth.ConnectionCredentials(ctx, userID, models.PlatformNotion)
	return err
}

func (e *NotionExporter) Deliver(ctx context.Context, dest models.Destination, req Request) (*Result, error) {
	creds, err := e.auth.ConnectionCredentials(ctx, req.UserID, models.PlatformNotion)
	if err != nil {
		return nil, err
	}
	paragraphs := splitParagraphs(req.Content)

	var id, url string
	switch dest.Format {
	case "database_item":
		id, url, err = e.client.CreateDatabaseItem(ctx, creds, dest.Target, map[string]any{
			"Name": platform.TitleProperty(req.Title),
		}, paragraphs)
	case "draft":
		// Drafts land as rows in the user's Drafts database, flagged for
		// review with where the content was headed.
		id, url, err = e.client.CreateDatabaseItem(ctx, creds, dest.Target, map[string]any{
			"Name":            platform.TitleProperty(req.Title),
			"Status":          platform.SelectProperty("Draft"),
			"Target Name":     platform.TextProperty(req.Title),
			"Target Location": platform.TextProperty(req.Metadata["target_location"]),
		}, paragraphs)
	default:
		id, url, err = e.client.CreatePage(ctx, creds, dest.Target, req.Title, paragraphs)
	}
	if err != nil {
		return nil, fmt.Errorf("notion %s failed: %w", formatOrDefault(dest.Format, "page"), err)
	}
	return &Result{ExternalID: id, ExternalURL: url}, nil
}

var _ Exporter = (*NotionExporter)(nil)
