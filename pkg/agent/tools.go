// Package agent runs the bounded headless generation loop: a short
// tool-calling conversation with the model over a read-only tool set, with
// hard caps on rounds and wall-clock time.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/models"
)

// Tool is one read-only capability exposed to the model. Execution is
// always scoped to the requesting user.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, userID string, input json.RawMessage) (string, error)
}

// Tool names. The set is closed; there are no write or execute tools.
const (
	ToolReadContent    = "read_content"
	ToolSearchContent  = "search_content"
	ToolListResources  = "list_resources"
	ToolWebSearch      = "web_search"
	ToolGetSystemState = "get_system_state"
)

const maxToolResultChars = 12000

// readContentTool loads specific cached rows by ID.
type readContentTool struct {
	cache *content.Cache
}

func (t *readContentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolReadContent,
		Description: "Read full cached content items by their IDs.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "IDs of cached content items to read",
				},
			},
			"required": []string{"content_ids"},
		},
	}
}

func (t *readContentTool) Execute(ctx context.Context, userID string, input json.RawMessage) (string, error) {
	var args struct {
		ContentIDs []string `json:"content_ids"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid read_content input: %w", err)
	}
	if len(args.ContentIDs) == 0 {
		return "", fmt.Errorf("content_ids is required")
	}

	items, err := t.cache.GetByIDs(ctx, userID, args.ContentIDs)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No content found for the given IDs.", nil
	}
	return renderItems(items), nil
}

// searchContentTool queries the cache by text, platform, and window.
type searchContentTool struct {
	cache   *content.Cache
	nowFunc func() time.Time
}

func (t *searchContentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolSearchContent,
		Description: "Search the user's cached platform content by text.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "text to search for"},
				"platform":    map[string]any{"type": "string", "description": "optional platform filter: slack, gmail, notion, google_calendar"},
				"since_hours": map[string]any{"type": "integer", "description": "only items newer than this many hours"},
				"limit":       map[string]any{"type": "integer", "description": "max items to return, default 20"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *searchContentTool) Execute(ctx context.Context, userID string, input json.RawMessage) (string, error) {
	var args struct {
		Query      string `json:"query"`
		Platform   string `json:"platform"`
		SinceHours int    `json:"since_hours"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid search_content input: %w", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if args.Limit <= 0 || args.Limit > 50 {
		args.Limit = 20
	}

	q := models.ContentQuery{
		UserID:   userID,
		Platform: models.Platform(args.Platform),
		Search:   args.Query,
		Limit:    args.Limit,
	}
	if args.SinceHours > 0 {
		since := t.nowFunc().UTC().Add(-time.Duration(args.SinceHours) * time.Hour)
		q.Since = &since
	}

	items, err := t.cache.Query(ctx, q)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No matching content.", nil
	}
	return renderItems(items), nil
}

// listResourcesTool reports the user's connected platforms and synced
// sources.
type listResourcesTool struct {
	connections Connections
}

// Connections is the slice of the connection store the tools read.
type Connections interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error)
}

func (t *listResourcesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolListResources,
		Description: "List the user's connected platforms and which resources are being synced.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *listResourcesTool) Execute(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
	conns, err := t.connections.ListActiveByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(conns) == 0 {
		return "No connected platforms.", nil
	}

	var b strings.Builder
	for _, conn := range conns {
		fmt.Fprintf(&b, "%s:\n", conn.Provider)
		selected := make(map[string]bool, len(conn.Landscape.SelectedSources))
		for _, id := range conn.Landscape.SelectedSources {
			selected[id] = true
		}
		for _, r := range conn.Landscape.Resources {
			marker := " "
			if len(selected) == 0 || selected[r.ID] {
				marker = "*"
			}
			fmt.Fprintf(&b, "  %s %s (%s)\n", marker, r.Name, r.ID)
		}
	}
	b.WriteString("\nResources marked * are being synced.")
	return b.String(), nil
}

// systemStateTool surfaces the working-memory block.
type systemStateTool struct {
	memory MemorySource
}

// MemorySource assembles the working-memory block.
type MemorySource interface {
	Assemble(ctx context.Context, userID string) (string, error)
}

func (t *systemStateTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetSystemState,
		Description: "Get the current working-memory summary: profile, preferences, deliverables, sync freshness.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *systemStateTool) Execute(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
	block, err := t.memory.Assemble(ctx, userID)
	if err != nil {
		return "", err
	}
	if block == "" {
		return "No memory recorded for this user yet.", nil
	}
	return block, nil
}

func renderItems(items []models.PlatformContent) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "--- [%s] %s (%s, %s)\n",
			item.ID, item.Title, item.Platform, item.SourceTimestamp.UTC().Format("Jan 2 15:04"))
		b.WriteString(item.Body)
		b.WriteString("\n")
		if b.Len() > maxToolResultChars {
			b.WriteString("... (truncated)\n")
			break
		}
	}
	return b.String()
}
