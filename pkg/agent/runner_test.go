package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/masking"
	"github.com/yarnnn/orchestrator/pkg/models"
)

type scriptedLLM struct {
	responses []*llm.ChatResponse
	errs      []error
	requests  []*llm.ChatRequest
}

func (s *scriptedLLM) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return nil, errors.New("scripted LLM ran out of responses")
	}
	return s.responses[idx], nil
}

type agentRows struct {
	items     []models.PlatformContent
	lastQuery models.ContentQuery
}

func (r *agentRows) UpsertBatch(_ context.Context, items []models.PlatformContent) (int, error) {
	r.items = append(r.items, items...)
	return len(items), nil
}

func (r *agentRows) Query(_ context.Context, q models.ContentQuery) ([]models.PlatformContent, error) {
	r.lastQuery = q
	var out []models.PlatformContent
	for _, item := range r.items {
		if q.Platform != "" && item.Platform != q.Platform {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *agentRows) GetByIDs(_ context.Context, _ string, ids []string) ([]models.PlatformContent, error) {
	var out []models.PlatformContent
	for _, item := range r.items {
		for _, id := range ids {
			if item.ID == id {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func (r *agentRows) Retain(context.Context, string, []string) (int, error)           { return 0, nil }
func (r *agentRows) CountNewSince(context.Context, string, time.Time) (int, error)   { return 0, nil }
func (r *agentRows) PurgeExpired(context.Context, time.Duration) (int, error)        { return 0, nil }

type agentConnections struct {
	conns []*models.PlatformConnection
}

func (c *agentConnections) ListActiveByUser(context.Context, string) ([]*models.PlatformConnection, error) {
	return c.conns, nil
}

type agentMemory struct{ block string }

func (m *agentMemory) Assemble(context.Context, string) (string, error) { return m.block, nil }

func testExecutor(rows *agentRows, conns *agentConnections) *ToolExecutor {
	return NewToolExecutor(
		content.NewCache(rows, config.DefaultSyncConfig()),
		conns,
		&agentMemory{block: "## User profile\n- role: founder"},
		masking.NewService(),
		&config.AgentConfig{},
	)
}

func testRunner(scripted *scriptedLLM, executor *ToolExecutor) *Runner {
	return NewRunner(scripted, executor, &config.AgentConfig{
		MaxToolRounds:     3,
		GenerationTimeout: config.Duration(90 * time.Second),
		LLMTimeout:        config.Duration(30 * time.Second),
	})
}

func toolCall(id, name, input string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestGenerateStopsWhenModelConcludes(t *testing.T) {
	scripted := &scriptedLLM{responses: []*llm.ChatResponse{
		{Text: "Final draft.", StopReason: llm.StopEndTurn, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	runner := testRunner(scripted, testExecutor(&agentRows{}, &agentConnections{}))

	result, err := runner.Generate(context.Background(), &GenerateRequest{UserID: "user-1", Prompt: "write it"})
	require.NoError(t, err)

	assert.Equal(t, "Final draft.", result.Text)
	assert.Equal(t, 1, result.Rounds)
	assert.Zero(t, result.ToolCalls)
	assert.False(t, result.HitCap)
	assert.Equal(t, int64(10), result.Usage.InputTokens)
}

func TestGenerateRunsToolsBetweenRounds(t *testing.T) {
	rows := &agentRows{items: []models.PlatformContent{
		{ID: "c-1", Platform: models.PlatformSlack, Title: "standup", Body: "shipped the thing"},
	}}
	scripted := &scriptedLLM{responses: []*llm.ChatResponse{
		{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{toolCall("t1", ToolReadContent, `{"content_ids":["c-1"]}`)},
		},
		{Text: "Summary: shipped the thing.", StopReason: llm.StopEndTurn},
	}}
	runner := testRunner(scripted, testExecutor(rows, &agentConnections{}))

	result, err := runner.Generate(context.Background(), &GenerateRequest{UserID: "user-1", Prompt: "summarize"})
	require.NoError(t, err)

	assert.Equal(t, "Summary: shipped the thing.", result.Text)
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, 1, result.ToolCalls)

	// The second request must replay the assistant turn and carry the
	// tool output back.
	require.Len(t, scripted.requests, 2)
	second := scripted.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	require.Len(t, second[2].ToolResults, 1)
	assert.False(t, second[2].ToolResults[0].IsError)
	assert.Contains(t, second[2].ToolResults[0].Content, "shipped the thing")
}

func TestGenerateForcesConclusionAfterRoundBudget(t *testing.T) {
	call := toolCall("t1", ToolGetSystemState, `{}`)
	scripted := &scriptedLLM{responses: []*llm.ChatResponse{
		{StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{call}},
		{StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{call}},
		{Text: "Concluded with what I had.", StopReason: llm.StopEndTurn},
	}}
	runner := testRunner(scripted, testExecutor(&agentRows{}, &agentConnections{}))

	result, err := runner.Generate(context.Background(), &GenerateRequest{UserID: "user-1", Prompt: "go"})
	require.NoError(t, err)

	assert.Equal(t, "Concluded with what I had.", result.Text)
	assert.Equal(t, 3, result.Rounds)
	assert.True(t, result.HitCap)

	// The model call count never exceeds the configured round budget.
	assert.Len(t, scripted.requests, runner.cfg.MaxToolRounds)

	// The conclusion round must strip tools so the model cannot keep digging.
	last := scripted.requests[len(scripted.requests)-1]
	assert.Empty(t, last.Tools)
	assert.Contains(t, last.Messages[len(last.Messages)-1].Text, "final deliverable")
}

func TestGenerateEmptyFinalTextFails(t *testing.T) {
	scripted := &scriptedLLM{responses: []*llm.ChatResponse{
		{Text: "   ", StopReason: llm.StopEndTurn},
	}}
	runner := testRunner(scripted, testExecutor(&agentRows{}, &agentConnections{}))

	_, err := runner.Generate(context.Background(), &GenerateRequest{UserID: "user-1", Prompt: "go"})
	assert.ErrorIs(t, err, ErrEmptyGeneration)
}

func TestGenerateSurfacesRoundErrors(t *testing.T) {
	scripted := &scriptedLLM{errs: []error{errors.New("provider down")}}
	runner := testRunner(scripted, testExecutor(&agentRows{}, &agentConnections{}))

	_, err := runner.Generate(context.Background(), &GenerateRequest{UserID: "user-1", Prompt: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestExecutorToolErrorsStayInBand(t *testing.T) {
	executor := testExecutor(&agentRows{}, &agentConnections{})

	result := executor.Execute(context.Background(), "user-1", toolCall("t1", "delete_everything", `{}`))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")

	result = executor.Execute(context.Background(), "user-1", toolCall("t2", ToolReadContent, `{"content_ids":[]}`))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "content_ids is required")
}

func TestSearchContentAppliesSinceWindow(t *testing.T) {
	rows := &agentRows{}
	executor := testExecutor(rows, &agentConnections{})

	result := executor.Execute(context.Background(), "user-1",
		toolCall("t1", ToolSearchContent, `{"query":"deploy","since_hours":6}`))
	assert.False(t, result.IsError)

	require.NotNil(t, rows.lastQuery.Since)
	assert.WithinDuration(t, time.Now().UTC().Add(-6*time.Hour), *rows.lastQuery.Since, time.Minute)
}

func TestExecutorMasksSecretsInToolResults(t *testing.T) {
	rows := &agentRows{items: []models.PlatformContent{
		{ID: "c-1", Platform: models.PlatformSlack, Title: "deploy notes", Body: "use api_key=sk-abc123supersecretvalue99 for staging"},
	}}
	executor := testExecutor(rows, &agentConnections{})

	result := executor.Execute(context.Background(), "user-1", toolCall("t1", ToolReadContent, `{"content_ids":["c-1"]}`))
	require.False(t, result.IsError)
	assert.NotContains(t, result.Content, "sk-abc123supersecretvalue99")
}

func TestExecutorGatesToolSubset(t *testing.T) {
	executor := testExecutor(&agentRows{}, &agentConnections{})

	defs := executor.Definitions(ToolReadContent, ToolSearchContent)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{ToolReadContent, ToolSearchContent}, names)

	// No key configured, so web_search is absent even from the full set.
	all := executor.Definitions()
	for _, d := range all {
		assert.NotEqual(t, ToolWebSearch, d.Name)
	}
}

func TestListResourcesMarksSelection(t *testing.T) {
	conns := &agentConnections{conns: []*models.PlatformConnection{{
		Provider: models.PlatformSlack,
		Landscape: models.Landscape{
			Resources: []models.Resource{
				{ID: "C1", Name: "#general"},
				{ID: "C2", Name: "#random"},
			},
			SelectedSources: []string{"C1"},
		},
	}}}
	executor := testExecutor(&agentRows{}, conns)

	result := executor.Execute(context.Background(), "user-1", toolCall("t1", ToolListResources, `{}`))
	require.False(t, result.IsError)
	assert.Contains(t, result.Content, "* #general")
	assert.Contains(t, result.Content, "  #random")
}
