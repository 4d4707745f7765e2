package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/models"
)

const (
	maxContextEntries      = 15
	maxActivityEvents      = 8
	maxExistingForPrompt   = 10
	versionPreviewChars    = 200
	signalReasoningMessage = `Respond with a single JSON object, no prose and no code fences:
{"actions": [{"action": "create_signal_emergent|trigger_existing|no_action", "deliverable_type": "...", "deliverable_id": "...", "title": "...", "prompt": "...", "signal_ref": "...", "confidence": 0.0, "reasoning": "..."}], "reasoning": "..."}

Rules:
- create_signal_emergent proposes a new standing deliverable: give it a
  deliverable_type slug, a title, a generation prompt, and when it stems
  from one identifiable item (a calendar event id, a mail thread id) set
  signal_ref to that id.
- trigger_existing asks for an existing deliverable to run early: set
  deliverable_id to its exact id from the list above.
- Use no_action when nothing warrants attention. Confidence is 0..1.`
)

// decision is the parsed reasoning response.
type decision struct {
	Actions   []models.SignalAction `json:"actions"`
	Reasoning string                `json:"reasoning,omitempty"`
}

// reason makes the single reasoning-model call and parses its strict-JSON
// reply. Any parse failure fails the pass; partial results never execute.
func (o *Orchestrator) reason(ctx context.Context, userID string, summary *Summary, existing []*models.Deliverable) (*decision, error) {
	resp, err := o.llm.Chat(ctx, &llm.ChatRequest{
		Model:  llm.ModelReasoning,
		System: signalSystemPrompt,
		Messages: []llm.Message{
			llm.UserText(o.reasoningPrompt(ctx, userID, summary, existing)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}

	var d decision
	if err := json.Unmarshal([]byte(stripFences(resp.Text)), &d); err != nil {
		return nil, fmt.Errorf("malformed reasoning response: %w", err)
	}
	return &d, nil
}

const signalSystemPrompt = `You watch a user's synced work content and decide whether anything
deserves proactive attention: an upcoming event that needs preparation,
a thread that needs a summary, a deadline approaching. You only propose
actions the orchestrator can take; you never write the deliverable
itself here.`

func (o *Orchestrator) reasoningPrompt(ctx context.Context, userID string, summary *Summary, existing []*models.Deliverable) string {
	var b strings.Builder

	b.WriteString("# Recent content\n")
	b.WriteString(summary.Text())
	b.WriteString("\n")

	if len(existing) > 0 {
		b.WriteString("\n# Existing active deliverables\n")
		for i, d := range existing {
			if i >= maxExistingForPrompt {
				break
			}
			fmt.Fprintf(&b, "- %s: %q — %s", d.ID, d.Title, d.Prompt)
			if preview := o.latestPreview(ctx, d.ID); preview != "" {
				fmt.Fprintf(&b, " (latest: %s)", preview)
			}
			b.WriteString("\n")
		}
	}

	if entries, err := o.contexts.ListByUser(ctx, userID); err == nil && len(entries) > 0 {
		b.WriteString("\n# What we know about the user\n")
		for i, e := range entries {
			if i >= maxContextEntries {
				break
			}
			fmt.Fprintf(&b, "- %s/%s: %s\n", e.Namespace, e.Key, e.Value)
		}
	}

	if events, err := o.activities.ListRecent(ctx, userID, "", maxActivityEvents); err == nil && len(events) > 0 {
		b.WriteString("\n# Recent system activity\n")
		for _, ev := range events {
			fmt.Fprintf(&b, "- %s %s\n", ev.CreatedAt.UTC().Format("Jan 2 15:04"), ev.EventType)
		}
	}

	b.WriteString("\n")
	b.WriteString(signalReasoningMessage)
	return b.String()
}

func (o *Orchestrator) latestPreview(ctx context.Context, deliverableID string) string {
	v, err := o.versions.GetLatest(ctx, deliverableID)
	if err != nil || v.Content == "" {
		return ""
	}
	preview := strings.Join(strings.Fields(v.Content), " ")
	if len(preview) > versionPreviewChars {
		preview = trimRunes(preview, versionPreviewChars) + "…"
	}
	return preview
}

// stripFences tolerates a fenced reply despite the instructions; anything
// else malformed still fails the pass.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// trimRunes cuts s to at most max bytes without splitting a UTF-8 rune.
func trimRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
