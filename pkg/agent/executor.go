package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/masking"
)

// ToolExecutor owns the closed tool set and runs model-requested calls.
// Tool failures come back as error results the model can react to, never
// as loop failures. Every result passes the masking service before it
// reaches the model.
type ToolExecutor struct {
	tools  map[string]Tool
	masker *masking.Service
	logger *slog.Logger
}

// NewToolExecutor wires the standard read-only tool set. web_search is
// only registered when a search key is configured.
func NewToolExecutor(
	cache *content.Cache,
	connections Connections,
	memorySource MemorySource,
	masker *masking.Service,
	cfg *config.AgentConfig,
) *ToolExecutor {
	tools := []Tool{
		&readContentTool{cache: cache},
		&searchContentTool{cache: cache, nowFunc: time.Now},
		&listResourcesTool{connections: connections},
		&systemStateTool{memory: memorySource},
	}
	if cfg.SearchAPIKey != "" {
		tools = append(tools, newWebSearchTool(cfg))
	}

	e := &ToolExecutor{
		tools:  make(map[string]Tool, len(tools)),
		masker: masker,
		logger: slog.Default().With("component", "tool-executor"),
	}
	for _, t := range tools {
		e.tools[t.Definition().Name] = t
	}
	return e
}

// Definitions returns the tool schemas for the named subset, or the whole
// set when names is empty.
func (e *ToolExecutor) Definitions(names ...string) []llm.ToolDefinition {
	if len(names) == 0 {
		names = lo.Keys(e.tools)
	}
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := e.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Execute runs one model-requested call, masking the output.
func (e *ToolExecutor) Execute(ctx context.Context, userID string, call llm.ToolCall) llm.ToolResult {
	tool, ok := e.tools[call.Name]
	if !ok {
		return llm.ToolResult{
			ToolCallID: call.ID,
			Content:    "unknown tool: " + call.Name,
			IsError:    true,
		}
	}

	output, err := tool.Execute(ctx, userID, call.Input)
	if err != nil {
		e.logger.Warn("Tool execution failed", "tool", call.Name, "user_id", userID, "error", err)
		return llm.ToolResult{
			ToolCallID: call.ID,
			Content:    "tool error: " + err.Error(),
			IsError:    true,
		}
	}

	return llm.ToolResult{
		ToolCallID: call.ID,
		Content:    e.masker.MaskToolResult(output),
	}
}
