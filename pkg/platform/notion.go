package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/models"
)

const defaultNotionBaseURL = "https://api.notion.com/v1"

// NotionClient fetches pages through the Notion REST API. Resources are
// page IDs; a page's children blocks are flattened into one text body.
type NotionClient struct {
	door    *Door
	baseURL string
	version string // Notion-Version header
}

// NewNotionClient creates the Notion platform client.
func NewNotionClient(door *Door, version string) *NotionClient {
	return &NotionClient{door: door, baseURL: defaultNotionBaseURL, version: version}
}

// WithBaseURL points the client at a mock server for tests.
func (c *NotionClient) WithBaseURL(base string) *NotionClient {
	c.baseURL = base
	return c
}

// Platform implements Client.
func (c *NotionClient) Platform() models.Platform { return models.PlatformNotion }

func (c *NotionClient) headers() map[string]string {
	return map[string]string{"Notion-Version": c.version}
}

type notionObject struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	LastEditedTime time.Time       `json:"last_edited_time"`
	URL            string          `json:"url"`
	Properties     json.RawMessage `json:"properties"`
	Title          json.RawMessage `json:"title"` // databases carry title at the top level
}

// Discover catalogs the pages and databases shared with the integration.
func (c *NotionClient) Discover(ctx context.Context, creds *Credentials) ([]models.Resource, error) {
	var resources []models.Resource
	cursor := ""
	for {
		body := map[string]any{"page_size": 100}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp struct {
			Results    []notionObject `json:"results"`
			HasMore    bool           `json:"has_more"`
			NextCursor string         `json:"next_cursor"`
		}
		err := c.door.DoJSON(ctx, &Request{
			Method:  http.MethodPost,
			URL:     c.baseURL + "/search",
			Headers: c.headers(),
			Body:    body,
			Token:   creds.AccessToken,
		}, &resp)
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Results {
			resources = append(resources, models.Resource{
				ID:   obj.ID,
				Name: notionTitle(obj),
				Kind: obj.Object, // "page" or "database"
				Metadata: map[string]any{
					"url":              obj.URL,
					"last_edited_time": obj.LastEditedTime.Format(time.RFC3339),
				},
			})
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return resources, nil
		}
		cursor = resp.NextCursor
	}
}

// Fetch pulls one page directly by ID and flattens its children blocks
// into a single text body.
func (c *NotionClient) Fetch(ctx context.Context, creds *Credentials, pageID string, _ FetchOptions) (*FetchResult, error) {
	var page notionObject
	err := c.door.DoJSON(ctx, &Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/pages/" + pageID,
		Headers: c.headers(),
		Token:   creds.AccessToken,
	}, &page)
	if err != nil {
		return nil, err
	}

	body, err := c.flattenChildren(ctx, creds, pageID)
	if err != nil {
		return nil, err
	}

	item := models.PlatformContent{
		Platform:        models.PlatformNotion,
		ResourceID:      pageID,
		SourceRef:       pageID,
		Title:           notionTitle(page),
		Body:            body,
		SourceTimestamp: page.LastEditedTime,
		Metadata:        map[string]any{"url": page.URL},
	}
	return &FetchResult{Items: []models.PlatformContent{item}}, nil
}

type notionBlock struct {
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
	ID          string `json:"id"`
}

// flattenChildren walks a page's block tree one level deep and joins the
// rich text into plain lines. Nested blocks past the first level are
// summarized by their top-level text, which is enough signal for context.
func (c *NotionClient) flattenChildren(ctx context.Context, creds *Credentials, blockID string) (string, error) {
	var lines []string
	cursor := ""
	for {
		query := url.Values{"page_size": {"100"}}
		if cursor != "" {
			query.Set("start_cursor", cursor)
		}
		var resp struct {
			Results    []json.RawMessage `json:"results"`
			HasMore    bool              `json:"has_more"`
			NextCursor string            `json:"next_cursor"`
		}
		err := c.door.DoJSON(ctx, &Request{
			Method:  http.MethodGet,
			URL:     c.baseURL + "/blocks/" + blockID + "/children",
			Query:   query,
			Headers: c.headers(),
			Token:   creds.AccessToken,
		}, &resp)
		if err != nil {
			return "", err
		}
		for _, raw := range resp.Results {
			if text := blockText(raw); text != "" {
				lines = append(lines, text)
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return strings.Join(lines, "\n"), nil
}

// CreatePage writes content as a new child page under a parent page.
// Returns the page ID and URL.
func (c *NotionClient) CreatePage(ctx context.Context, creds *Credentials, parentPageID, title string, paragraphs []string) (string, string, error) {
	body := map[string]any{
		"parent": map[string]any{"page_id": parentPageID},
		"properties": map[string]any{
			"title": map[string]any{"title": richText(title)},
		},
		"children": paragraphBlocks(paragraphs),
	}
	return c.createObject(ctx, creds, body)
}

// CreateDatabaseItem writes a row into a database with the given
// properties plus the content as page children.
func (c *NotionClient) CreateDatabaseItem(ctx context.Context, creds *Credentials, databaseID string, properties map[string]any, paragraphs []string) (string, string, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
		"children":   paragraphBlocks(paragraphs),
	}
	return c.createObject(ctx, creds, body)
}

func (c *NotionClient) createObject(ctx context.Context, creds *Credentials, body map[string]any) (string, string, error) {
	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	err := c.door.DoJSON(ctx, &Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/pages",
		Headers: c.headers(),
		Body:    body,
		Token:   creds.AccessToken,
	}, &resp)
	if err != nil {
		return "", "", err
	}
	return resp.ID, resp.URL, nil
}

// TitleProperty builds the title property value for a database item.
func TitleProperty(text string) map[string]any {
	return map[string]any{"title": richText(text)}
}

// SelectProperty builds a select property value.
func SelectProperty(name string) map[string]any {
	return map[string]any{"select": map[string]any{"name": name}}
}

// TextProperty builds a rich_text property value.
func TextProperty(text string) map[string]any {
	return map[string]any{"rich_text": richText(text)}
}

func richText(text string) []map[string]any {
	return []map[string]any{{"text": map[string]any{"content": text}}}
}

func paragraphBlocks(paragraphs []string) []map[string]any {
	blocks := make([]map[string]any, 0, len(paragraphs))
	for _, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		blocks = append(blocks, map[string]any{
			"object":    "block",
			"type":      "paragraph",
			"paragraph": map[string]any{"rich_text": richText(p)},
		})
	}
	return blocks
}

// blockText pulls the joined plain_text out of one block's rich_text,
// whatever its type.
func blockText(raw json.RawMessage) string {
	var block map[string]json.RawMessage
	if json.Unmarshal(raw, &block) != nil {
		return ""
	}
	var blockType string
	if json.Unmarshal(block["type"], &blockType) != nil {
		return ""
	}
	var payload struct {
		RichText []struct {
			PlainText string `json:"plain_text"`
		} `json:"rich_text"`
	}
	if json.Unmarshal(block[blockType], &payload) != nil {
		return ""
	}
	var parts []string
	for _, rt := range payload.RichText {
		parts = append(parts, rt.PlainText)
	}
	return strings.Join(parts, "")
}

// notionTitle extracts the display title from a page or database object.
func notionTitle(obj notionObject) string {
	// Databases: top-level title array.
	if title := plainText(obj.Title); title != "" {
		return title
	}
	// Pages: scan properties for the one of type "title".
	var props map[string]struct {
		Type  string          `json:"type"`
		Title json.RawMessage `json:"title"`
	}
	if json.Unmarshal(obj.Properties, &props) != nil {
		return ""
	}
	for _, p := range props {
		if p.Type == "title" {
			if title := plainText(p.Title); title != "" {
				return title
			}
		}
	}
	return ""
}

func plainText(raw json.RawMessage) string {
	var parts []struct {
		PlainText string `json:"plain_text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var out []string
	for _, p := range parts {
		out = append(out, p.PlainText)
	}
	return strings.TrimSpace(strings.Join(out, ""))
}
