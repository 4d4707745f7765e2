package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/models"
)

const (
	digestMaxItems = 30
	digestMaxChars = 3000

	mailboxWindow = 7 * 24 * time.Hour
	notionWindow  = 14 * 24 * time.Hour
)

// Summary is the bounded per-platform view a signal pass reasons over.
type Summary struct {
	Digests    []*content.Digest
	TotalItems int
}

// Text joins the platform digests into one prompt-ready block, secrets
// already masked.
func (s *Summary) Text() string {
	var b strings.Builder
	for _, d := range s.Digests {
		if d.ItemCount == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s (%d items)\n%s\n\n", d.Platform, d.ItemCount, d.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildSummary reads each connected platform's slice of the cache:
// calendar looks ahead, mailboxes look back a week, notion carries the
// latest edits. A platform read failure skips that platform only.
func (o *Orchestrator) buildSummary(ctx context.Context, userID string, platforms []models.Platform) *Summary {
	now := o.nowFunc().UTC()
	summary := &Summary{}

	for _, p := range platforms {
		opts := content.DigestOptions{MaxItems: digestMaxItems, MaxChars: digestMaxChars}
		switch p {
		case models.PlatformCalendar:
			opts.Since = now
			opts.Until = now.Add(time.Duration(o.syncCfg.CalendarLookahead))
		case models.PlatformNotion:
			opts.Since = now.Add(-notionWindow)
		default:
			opts.Since = now.Add(-mailboxWindow)
		}

		digest, err := o.cache.BuildDigest(ctx, userID, p, opts)
		if err != nil {
			o.logger.Warn("Digest build failed", "user_id", userID, "platform", p, "error", err)
			continue
		}
		digest.Text = o.masker.MaskSummaryInput(digest.Text)
		summary.Digests = append(summary.Digests, digest)
		summary.TotalItems += digest.ItemCount
	}
	return summary
}
