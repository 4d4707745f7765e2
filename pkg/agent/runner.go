package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/llm"
)

// ErrEmptyGeneration means the loop finished cleanly but the model
// produced no prose. The enclosing run must fail; there is nothing to
// deliver.
var ErrEmptyGeneration = errors.New("generation produced no content")

const forcedConclusionPrompt = "You have used all available tool rounds. " +
	"Write the final deliverable now using what you have gathered. " +
	"Respond with the finished content only."

// GenerateRequest is one generation job.
type GenerateRequest struct {
	UserID string
	System string
	Prompt string
	Model  llm.ModelClass // zero value falls back to the generation class
	Tools  []string       // tool-name subset; nil exposes the full set
}

// GenerateResult is the finished draft plus loop accounting.
type GenerateResult struct {
	Text      string
	Rounds    int
	ToolCalls int
	Usage     llm.Usage
	HitCap    bool // wall clock or round budget forced the exit
}

// Runner drives the bounded tool-calling conversation. Hard limits: at
// most MaxToolRounds tool iterations, one LLMTimeout per round, one
// GenerationTimeout across the whole job. When the wall clock runs out
// the loop exits with whatever text the model produced last.
type Runner struct {
	completions llm.Completions
	executor    *ToolExecutor
	cfg         *config.AgentConfig
	logger      *slog.Logger
}

// NewRunner builds the generation runner.
func NewRunner(completions llm.Completions, executor *ToolExecutor, cfg *config.AgentConfig) *Runner {
	return &Runner{
		completions: completions,
		executor:    executor,
		cfg:         cfg,
		logger:      slog.Default().With("component", "agent-runner"),
	}
}

// Generate runs one job to a final text.
func (r *Runner) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.GenerationTimeout))
	defer cancel()

	model := req.Model
	if model == "" {
		model = llm.ModelGeneration
	}
	tools := r.executor.Definitions(req.Tools...)
	messages := []llm.Message{llm.UserText(req.Prompt)}
	result := &GenerateResult{}
	lastText := ""

	// MaxToolRounds bounds total model calls. The last round runs without
	// tools so the reply is text, not another tool request.
	maxRounds := r.cfg.MaxToolRounds
	if maxRounds < 1 {
		maxRounds = 1
	}
	for round := 0; round < maxRounds; round++ {
		result.Rounds = round + 1
		concluding := round == maxRounds-1

		chatTools := tools
		if concluding {
			chatTools = nil
			messages = append(messages, llm.UserText(forcedConclusionPrompt))
			result.HitCap = true
		}

		resp, err := r.chatRound(genCtx, &llm.ChatRequest{
			Model:    model,
			System:   req.System,
			Messages: messages,
			Tools:    chatTools,
		})
		if err != nil {
			if genCtx.Err() != nil && lastText != "" {
				// Wall clock ran out mid-round; ship what we have.
				r.logger.Warn("Generation hit wall-clock cap, using last text",
					"user_id", req.UserID, "rounds", result.Rounds)
				result.Text = lastText
				result.HitCap = true
				return result, nil
			}
			return nil, fmt.Errorf("generation round %d failed: %w", round+1, err)
		}

		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		if strings.TrimSpace(resp.Text) != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 || concluding {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return nil, ErrEmptyGeneration
			}
			result.Text = text
			return result, nil
		}

		messages = append(messages, llm.AssistantTurn(resp))
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result.ToolCalls++
			results = append(results, r.executor.Execute(genCtx, req.UserID, call))
		}
		messages = append(messages, llm.ToolResultTurn(results...))
	}

	// Unreachable: the concluding round always returns.
	return nil, ErrEmptyGeneration
}

// chatRound runs one model call under the per-round timeout.
func (r *Runner) chatRound(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	roundCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.LLMTimeout))
	defer cancel()
	return r.completions.Chat(roundCtx, req)
}
