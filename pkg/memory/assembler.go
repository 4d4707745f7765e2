// Package memory assembles the compact working-memory block injected into
// LLM prompts and funnels user-context writes through the trust-ranked
// upsert.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

const (
	maxRecentDeliverables = 5
	maxEntryValueChars    = 200
	maxBlockChars         = 8000
	failedRunLookback     = 24 * time.Hour
	recentRunsScanned     = 50
)

// ContextReader lists a user's memory entries.
type ContextReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.ContextEntry, error)
}

// Deliverables lists a user's deliverables for the recent-work slice.
type Deliverables interface {
	ListByUser(ctx context.Context, userID string, status models.DeliverableStatus) ([]*models.Deliverable, error)
}

// Connections lists the platforms a user has live.
type Connections interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error)
}

// Syncs reports per-platform freshness.
type Syncs interface {
	LastSyncedAt(ctx context.Context, userID string, platform models.Platform) (time.Time, error)
}

// Reviews counts versions waiting on the user.
type Reviews interface {
	CountAwaitingReview(ctx context.Context, userID string) (int, error)
}

// Activities reads the activity log for the system-state summary.
type Activities interface {
	GetLast(ctx context.Context, userID string, eventType models.ActivityType) (*models.ActivityEvent, error)
	ListRecent(ctx context.Context, userID string, eventType models.ActivityType, limit int) ([]*models.ActivityEvent, error)
}

var (
	_ ContextReader = (*store.UserContextStore)(nil)
	_ Deliverables  = (*store.DeliverableStore)(nil)
	_ Connections   = (*store.ConnectionStore)(nil)
	_ Syncs         = (*store.SyncRegistryStore)(nil)
	_ Reviews       = (*store.VersionStore)(nil)
	_ Activities    = (*store.ActivityStore)(nil)
)

// Assembler builds the working-memory block: profile, per-platform tone,
// facts and instructions, recent deliverables, sync freshness, and a
// system-state summary. Every section degrades independently; a failed
// read logs and drops the section rather than sinking the prompt.
type Assembler struct {
	contexts     ContextReader
	deliverables Deliverables
	connections  Connections
	syncs        Syncs
	reviews      Reviews
	activities   Activities
	nowFunc      func() time.Time
	logger       *slog.Logger
}

// NewAssembler builds an Assembler over the given reads.
func NewAssembler(
	contexts ContextReader,
	deliverables Deliverables,
	connections Connections,
	syncs Syncs,
	reviews Reviews,
	activities Activities,
) *Assembler {
	return &Assembler{
		contexts:     contexts,
		deliverables: deliverables,
		connections:  connections,
		syncs:        syncs,
		reviews:      reviews,
		activities:   activities,
		nowFunc:      time.Now,
		logger:       slog.Default().With("component", "memory-assembler"),
	}
}

// Assemble renders the working-memory block for one user.
func (a *Assembler) Assemble(ctx context.Context, userID string) (string, error) {
	entries, err := a.contexts.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read user context: %w", err)
	}

	var b strings.Builder
	a.writeContextSections(&b, entries)
	a.writeDeliverables(ctx, &b, userID)
	a.writeFreshness(ctx, &b, userID)
	a.writeSystemState(ctx, &b, userID)

	block := strings.TrimRight(b.String(), "\n")
	if len(block) > maxBlockChars {
		block = trimRunes(block, maxBlockChars)
	}
	return block, nil
}

func (a *Assembler) writeContextSections(b *strings.Builder, entries []models.ContextEntry) {
	byNamespace := make(map[string][]models.ContextEntry)
	for _, e := range entries {
		byNamespace[e.Namespace] = append(byNamespace[e.Namespace], e)
	}

	sections := []struct {
		namespace string
		heading   string
	}{
		{models.NamespaceProfile, "User profile"},
		{models.NamespaceTone, "Tone & verbosity"},
		{models.NamespaceFacts, "Facts"},
		{models.NamespaceInstructions, "Instructions"},
		{models.NamespacePreferences, "Preferences"},
	}
	for _, s := range sections {
		rows := byNamespace[s.namespace]
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(b, "## %s\n", s.heading)
		for _, e := range rows {
			fmt.Fprintf(b, "- %s: %s\n", e.Key, clip(e.Value, maxEntryValueChars))
		}
		b.WriteString("\n")
	}
}

func (a *Assembler) writeDeliverables(ctx context.Context, b *strings.Builder, userID string) {
	list, err := a.deliverables.ListByUser(ctx, userID, models.DeliverableActive)
	if err != nil {
		a.logger.Warn("Failed to list deliverables for memory block", "user_id", userID, "error", err)
		return
	}
	if len(list) == 0 {
		return
	}
	if len(list) > maxRecentDeliverables {
		list = list[:maxRecentDeliverables]
	}
	b.WriteString("## Active deliverables\n")
	for _, d := range list {
		line := fmt.Sprintf("- %q (%s", d.Title, d.Type.Binding)
		if d.Schedule.Frequency != "" {
			line += ", " + d.Schedule.Frequency
		}
		if d.NextRunAt != nil {
			line += ", next run " + d.NextRunAt.UTC().Format("Jan 2 15:04")
		}
		b.WriteString(line + ")\n")
	}
	b.WriteString("\n")
}

func (a *Assembler) writeFreshness(ctx context.Context, b *strings.Builder, userID string) {
	conns, err := a.connections.ListActiveByUser(ctx, userID)
	if err != nil {
		a.logger.Warn("Failed to list connections for memory block", "user_id", userID, "error", err)
		return
	}
	if len(conns) == 0 {
		return
	}
	now := a.nowFunc().UTC()
	b.WriteString("## Sync freshness\n")
	for _, conn := range conns {
		last, err := a.syncs.LastSyncedAt(ctx, userID, conn.Provider)
		switch {
		case err != nil:
			a.logger.Warn("Failed to read sync freshness", "user_id", userID, "platform", conn.Provider, "error", err)
			continue
		case last.IsZero():
			fmt.Fprintf(b, "- %s: never synced\n", conn.Provider)
		default:
			fmt.Fprintf(b, "- %s: synced %s ago\n", conn.Provider, ago(now.Sub(last)))
		}
	}
	b.WriteString("\n")
}

func (a *Assembler) writeSystemState(ctx context.Context, b *strings.Builder, userID string) {
	b.WriteString("## System state\n")

	if last, err := a.activities.GetLast(ctx, userID, models.ActivitySignalProcessed); err == nil && last != nil {
		fmt.Fprintf(b, "- last signal pass: %s ago\n", ago(a.nowFunc().UTC().Sub(last.CreatedAt)))
	} else {
		b.WriteString("- last signal pass: none\n")
	}

	if pending, err := a.reviews.CountAwaitingReview(ctx, userID); err == nil {
		fmt.Fprintf(b, "- versions awaiting review: %d\n", pending)
	} else {
		a.logger.Warn("Failed to count pending reviews", "user_id", userID, "error", err)
	}

	fmt.Fprintf(b, "- failed runs (24h): %d\n", a.failedRuns(ctx, userID))
}

// failedRuns counts deliverable runs that ended failed or partial inside
// the lookback window.
func (a *Assembler) failedRuns(ctx context.Context, userID string) int {
	events, err := a.activities.ListRecent(ctx, userID, models.ActivityDeliverableRun, recentRunsScanned)
	if err != nil {
		a.logger.Warn("Failed to list recent runs", "user_id", userID, "error", err)
		return 0
	}
	cutoff := a.nowFunc().UTC().Add(-failedRunLookback)
	failed := 0
	for _, ev := range events {
		if ev.CreatedAt.Before(cutoff) {
			continue
		}
		var run struct {
			Status models.VersionStatus `json:"status"`
		}
		if err := json.Unmarshal(ev.Metadata, &run); err != nil {
			continue
		}
		if run.Status == models.VersionFailed || run.Status == models.VersionPartial {
			failed++
		}
	}
	return failed
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return trimRunes(s, max-1) + "…"
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

func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "under a minute"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
