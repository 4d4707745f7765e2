package deliverable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/yarnnn/orchestrator/pkg/models"
)

const (
	gatherItemsPerPlatform = 30
	gatherMaxChars         = 16000
	pastVersionsCarried    = 2
	pastVersionMaxChars    = 2000
)

// GatheredContext is everything a generation starts from: the assembled
// platform content, which sources contributed, and the cache rows that
// must be retained if the run delivers.
type GatheredContext struct {
	Content      string
	SourcesUsed  []string
	ItemsFetched int
	ContentIDs   []string
}

// gather assembles context per the deliverable's binding. platform_bound
// reads one platform, cross_platform fans out over all of them, research
// rides the directive alone, hybrid does both. Platform read failures
// degrade to whatever the other platforms returned.
func (e *Engine) gather(ctx context.Context, d *models.Deliverable) (*GatheredContext, error) {
	gathered := &GatheredContext{}

	platforms := d.Type.SourcePlatforms()
	if len(platforms) == 1 {
		if err := e.gatherPlatform(ctx, d, platforms[0], gathered); err != nil {
			return nil, err
		}
	} else if len(platforms) > 1 {
		if err := e.gatherParallel(ctx, d, platforms, gathered); err != nil {
			return nil, err
		}
	}

	e.appendPastVersions(ctx, d, gathered)
	return gathered, nil
}

// gatherParallel fans the per-platform reads out and joins the slices in
// platform order so output stays deterministic.
func (e *Engine) gatherParallel(ctx context.Context, d *models.Deliverable, platforms []models.Platform, gathered *GatheredContext) error {
	parts := make([]*GatheredContext, len(platforms))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, p := range platforms {
		g.Go(func() error {
			part := &GatheredContext{}
			if err := e.gatherPlatform(gctx, d, p, part); err != nil {
				// One silent platform should not empty the whole brief.
				e.logger.Warn("Platform gather failed",
					"deliverable_id", d.ID, "platform", p, "error", err)
				return nil
			}
			mu.Lock()
			parts[i] = part
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, part := range parts {
		if part == nil {
			continue
		}
		gathered.Content += part.Content
		gathered.SourcesUsed = append(gathered.SourcesUsed, part.SourcesUsed...)
		gathered.ItemsFetched += part.ItemsFetched
		gathered.ContentIDs = append(gathered.ContentIDs, part.ContentIDs...)
	}
	if gathered.ItemsFetched == 0 {
		return fmt.Errorf("no platform produced any context")
	}
	return nil
}

func (e *Engine) gatherPlatform(ctx context.Context, d *models.Deliverable, p models.Platform, gathered *GatheredContext) error {
	q := models.ContentQuery{
		UserID:   d.UserID,
		Platform: p,
		Limit:    gatherItemsPerPlatform,
	}
	if hours := d.Type.FreshnessRequirementHours; hours > 0 {
		since := e.nowFunc().UTC().Add(-time.Duration(hours) * time.Hour)
		q.Since = &since
	}

	items, err := e.cache.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to query %s content: %w", p, err)
	}
	if len(items) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", p)
	for _, item := range items {
		fmt.Fprintf(&b, "[%s] %s (%s)\n%s\n\n",
			item.SourceTimestamp.UTC().Format("Jan 2 15:04"), item.Title, item.ResourceID, item.Body)
		gathered.ContentIDs = append(gathered.ContentIDs, item.ID)
		if b.Len() > gatherMaxChars {
			b.WriteString("... (truncated)\n")
			break
		}
	}

	gathered.Content += b.String()
	gathered.SourcesUsed = append(gathered.SourcesUsed, string(p))
	gathered.ItemsFetched += len(items)
	return nil
}

// appendPastVersions carries the last drafts forward so edits and tone
// survive between runs.
func (e *Engine) appendPastVersions(ctx context.Context, d *models.Deliverable, gathered *GatheredContext) {
	versions, err := e.versions.ListByDeliverable(ctx, d.ID, pastVersionsCarried)
	if err != nil {
		e.logger.Warn("Failed to load past versions", "deliverable_id", d.ID, "error", err)
		return
	}

	var b strings.Builder
	for _, v := range versions {
		if v.Content == "" || !v.Status.IsTerminal() {
			continue
		}
		content := v.Content
		if len(content) > pastVersionMaxChars {
			content = trimRunes(content, pastVersionMaxChars) + "…"
		}
		fmt.Fprintf(&b, "### Previous edition (v%d, %s)\n%s\n\n", v.VersionNumber, v.Status, content)
	}
	if b.Len() > 0 {
		gathered.Content += "\n## Past versions\n" + b.String()
	}
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
