// Package llm provides the completions port the orchestrator reasons
// through. Signal detection, deliverable generation, and structure
// extraction all speak the same Chat contract; the Anthropic-backed
// Client in this package is the production implementation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ModelClass selects which configured model serves a request.
type ModelClass string

const (
	// ModelReasoning drives signal detection and the generation tool loop.
	ModelReasoning ModelClass = "reasoning"
	// ModelGeneration writes deliverable content.
	ModelGeneration ModelClass = "generation"
	// ModelExtraction pulls strict-JSON structure out of prose.
	ModelExtraction ModelClass = "extraction"
)

// Role identifies a conversation turn's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stop reasons surfaced on ChatResponse.StopReason.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ErrRateLimited marks provider throttling that survived the retry budget.
// Callers back off and reschedule rather than failing the user's work.
var ErrRateLimited = errors.New("llm rate limited")

// Message is one conversation turn. Text carries prose, ToolCalls carries
// the assistant's tool invocations, and ToolResults feeds their outputs
// back on the following user turn.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDefinition advertises a tool the model may invoke. InputSchema is a
// JSON Schema object body ("properties", "required"); the object type is
// implied.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult carries one tool's output back to the model. IsError tells the
// model the invocation failed without failing the conversation.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ChatRequest is one model round. Zero MaxTokens and Temperature fall back
// to the configured defaults.
type ChatRequest struct {
	Model       ModelClass
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int64
	Temperature float64
}

// ChatResponse is the translated model reply. Text joins all prose blocks;
// ToolCalls preserves invocation order.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Usage reports token consumption for one round.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Completions is the port the rest of the system depends on.
type Completions interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// UserText builds a plain user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantTurn replays a model response into the conversation so the next
// round carries the tool_use blocks its results refer to.
func AssistantTurn(resp *ChatResponse) Message {
	return Message{Role: RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls}
}

// ToolResultTurn feeds tool outputs back as the user turn the API expects.
func ToolResultTurn(results ...ToolResult) Message {
	return Message{Role: RoleUser, ToolResults: results}
}
