package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/platform"
)

const defaultSearchBaseURL = "https://api.search.brave.com/res/v1/web/search"

// webSearchTool grounds research deliverables in current web results.
// Only registered when a search API key is configured.
type webSearchTool struct {
	door    *platform.Door
	baseURL string
	apiKey  string
}

func newWebSearchTool(cfg *config.AgentConfig) *webSearchTool {
	base := cfg.SearchBaseURL
	if base == "" {
		base = defaultSearchBaseURL
	}
	return &webSearchTool{
		door:    platform.NewDoor("web_search", 30*time.Second, 10*time.Second),
		baseURL: base,
		apiKey:  cfg.SearchAPIKey,
	}
}

func (t *webSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolWebSearch,
		Description: "Search the web for current information.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "search query"},
				"count": map[string]any{"type": "integer", "description": "number of results, default 5, max 10"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *webSearchTool) Execute(ctx context.Context, _ string, input json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid web_search input: %w", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if args.Count <= 0 || args.Count > 10 {
		args.Count = 5
	}

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	err := t.door.DoJSON(ctx, &platform.Request{
		Method: "GET",
		URL:    t.baseURL,
		Query: url.Values{
			"q":     {args.Query},
			"count": {strconv.Itoa(args.Count)},
		},
		Headers: map[string]string{
			"X-Subscription-Token": t.apiKey,
			"Accept":               "application/json",
		},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}
	if len(resp.Web.Results) == 0 {
		return "No results.", nil
	}

	var b strings.Builder
	for _, r := range resp.Web.Results {
		fmt.Fprintf(&b, "- %s\n  %s\n  %s\n", r.Title, r.URL, r.Description)
	}
	return b.String(), nil
}
