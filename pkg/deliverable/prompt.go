package deliverable

import (
	"context"
	"fmt"
	"strings"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// systemPrompt frames the generation: role, output style for the
// destinations, the user's working memory, and any research directive or
// signal reasoning this run carries.
func (e *Engine) systemPrompt(ctx context.Context, d *models.Deliverable, user *models.UserSettings, destinations []models.Destination, triggerContext string) string {
	var b strings.Builder

	b.WriteString("You are an assistant that produces a recurring deliverable for a user. ")
	b.WriteString("Write the complete deliverable as your final message. Use the provided ")
	b.WriteString("source material; tools are read-only and exist to fill gaps, not to act.\n\n")

	style := e.exports.StyleContext(destinations)
	fmt.Fprintf(&b, "Output register: %s. %s\n", style, styleGuidance(style))

	switch d.Type.Binding {
	case models.BindingResearch:
		b.WriteString("\nThis is a research deliverable. No platform content was gathered; ")
		b.WriteString("use web_search to investigate the directive below and cite what you find.\n")
	case models.BindingHybrid:
		b.WriteString("\nThis deliverable combines the user's platform content with outside ")
		b.WriteString("research. Ground claims in the gathered material first, then extend ")
		b.WriteString("with web_search where the directive asks for it.\n")
	}
	if d.Type.ResearchDirective != "" {
		fmt.Fprintf(&b, "\nResearch directive: %s\n", d.Type.ResearchDirective)
	}
	if d.Type.TemporalScope != "" {
		fmt.Fprintf(&b, "Temporal scope: %s\n", d.Type.TemporalScope)
	}

	if triggerContext != "" {
		fmt.Fprintf(&b, "\nThis run was triggered by a detected signal, not the regular schedule:\n%s\n", triggerContext)
	}

	if memory, err := e.memory.Assemble(ctx, d.UserID); err != nil {
		e.logger.Warn("Working memory unavailable for generation",
			"user_id", d.UserID, "error", err)
	} else if memory != "" {
		b.WriteString("\n")
		b.WriteString(memory)
	}

	if user.Timezone != "" {
		fmt.Fprintf(&b, "\nThe user's timezone is %s.\n", user.Timezone)
	}
	return b.String()
}

// userPrompt is the brief plus whatever the gathering pass assembled.
func userPrompt(d *models.Deliverable, gathered *GatheredContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce %q.\n\nBrief:\n%s\n", d.Title, d.Prompt)
	if gathered.Content != "" {
		b.WriteString("\n## Gathered source material\n")
		b.WriteString(gathered.Content)
	} else {
		b.WriteString("\nNo source material was gathered for this run. ")
		b.WriteString("Use the available tools if the brief needs the user's content.\n")
	}
	return b.String()
}

func styleGuidance(style string) string {
	switch style {
	case "slack":
		return "Short paragraphs, Slack mrkdwn emphasis, no top-level heading."
	case "notion":
		return "Structured markdown with headings suitable for a Notion page."
	case "document":
		return "Self-contained markdown document with a title heading."
	default: // email
		return "Clear markdown that renders well as an email body."
	}
}
