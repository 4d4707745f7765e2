package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/avast/retry-go"

	"github.com/yarnnn/orchestrator/pkg/config"
)

// MessagesClient captures the subset of the Anthropic SDK used by Client.
// *sdk.MessageService satisfies it; tests substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements Completions on the Anthropic Messages API. Transient
// provider failures are retried with backoff; the SDK's own retry layer is
// disabled so the policy lives in one place.
type Client struct {
	msg         MessagesClient
	reasoning   string
	generation  string
	extraction  string
	maxTokens   int64
	temperature float64
	logger      *slog.Logger
}

const (
	defaultMaxTokens = 4096

	retryAttempts = 3
	retryDelay    = 2 * time.Second
	retryMaxDelay = 30 * time.Second
)

// NewClient builds a Client from configuration, constructing the underlying
// SDK client.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	ac := sdk.NewClient(opts...)
	return NewClientWithMessages(&ac.Messages, cfg)
}

// NewClientWithMessages builds a Client on an existing MessagesClient.
func NewClientWithMessages(msg MessagesClient, cfg *config.LLMConfig) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		msg:         msg,
		reasoning:   cfg.ReasoningModel,
		generation:  cfg.GenerationModel,
		extraction:  cfg.ExtractionModel,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      slog.Default().With("component", "llm"),
	}, nil
}

// Chat issues one Messages.New round and translates the response.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	var msg *sdk.Message
	err = retry.Do(
		func() error {
			var callErr error
			msg, callErr = c.msg.New(ctx, *params)
			return callErr
		},
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying model call", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("failed to call model: %w", err)
	}
	return decodeResponse(msg)
}

func (c *Client) encodeRequest(req *ChatRequest) (*sdk.MessageNewParams, error) {
	model := c.resolveModel(req.Model)
	if model == "" {
		return nil, fmt.Errorf("anthropic: no model configured for class %q", req.Model)
	}
	conversation, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := &sdk.MessageNewParams{
		MaxTokens: maxTokens,
		Messages:  conversation,
		Model:     sdk.Model(model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	return params, nil
}

func (c *Client) resolveModel(class ModelClass) string {
	switch class {
	case ModelGeneration:
		return c.generation
	case ModelExtraction:
		return c.extraction
	case ModelReasoning, "":
		return c.reasoning
	default:
		return ""
	}
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	for i, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls)+len(m.ToolResults))
		// Tool results lead the turn; the API rejects user messages where
		// prose precedes a tool_result block.
		for _, r := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
		}
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, tc := range m.ToolCalls {
			if tc.Name == "" {
				return nil, fmt.Errorf("anthropic: tool call %q is missing a name", tc.ID)
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}
		if len(blocks) == 0 {
			return nil, fmt.Errorf("anthropic: message %d has no content", i)
		}
		switch m.Role {
		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	return conversation, nil
}

func encodeTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("anthropic: tool definition is missing a name")
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("anthropic: duplicate tool %q", def.Name)
		}
		seen[def.Name] = true
		if def.Description == "" {
			return nil, fmt.Errorf("anthropic: tool %q is missing a description", def.Name)
		}
		schema := sdk.ToolInputSchemaParam{}
		if len(def.InputSchema) > 0 {
			schema.ExtraFields = def.InputSchema
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, nil
}

func decodeResponse(msg *sdk.Message) (*ChatResponse, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &ChatResponse{StopReason: string(msg.StopReason)}
	var texts []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: tool_use input for %q: %w", block.Name, err)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	resp.Text = strings.Join(texts, "\n\n")
	resp.Usage = Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	return resp, nil
}

func isRateLimited(err error) bool {
	var apierr *sdk.Error
	return errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests
}

// isRetryable covers throttling, provider 5xx, and transport failures.
// Auth and request validation errors fail fast.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests ||
			apierr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
