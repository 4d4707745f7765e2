// Package content is the unified content cache: every synced item lands
// here with a per-platform TTL, deliverable runs read their context out of
// it, and rows a delivered version consumed get promoted to the retained
// lane so the exact inputs survive the TTL.
package content

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// Rows is the slice of the content store the cache writes through.
type Rows interface {
	UpsertBatch(ctx context.Context, items []models.PlatformContent) (int, error)
	Query(ctx context.Context, q models.ContentQuery) ([]models.PlatformContent, error)
	GetByIDs(ctx context.Context, userID string, ids []string) ([]models.PlatformContent, error)
	Retain(ctx context.Context, userID string, ids []string) (int, error)
	CountNewSince(ctx context.Context, userID string, since time.Time) (int, error)
	PurgeExpired(ctx context.Context, grace time.Duration) (int, error)
}

var _ Rows = (*store.ContentStore)(nil)

// Cache fronts the content rows with the lifetime policy: fetched items
// enter the TTL lane per their platform's configured lifetime, retention
// moves them to the permanent lane.
type Cache struct {
	rows    Rows
	cfg     *config.SyncConfig
	nowFunc func() time.Time
}

// NewCache builds the cache over the given row store.
func NewCache(rows Rows, cfg *config.SyncConfig) *Cache {
	return &Cache{rows: rows, cfg: cfg, nowFunc: time.Now}
}

// TTL returns the configured cache lifetime for a platform's content.
func (c *Cache) TTL(p models.Platform) time.Duration {
	if d, ok := c.cfg.ContentTTL[string(p)]; ok {
		return time.Duration(d)
	}
	return 7 * 24 * time.Hour
}

// StoreFetched writes freshly pulled items into the TTL lane for their
// platform, stamping ownership and fetch time. Partial failures are
// reported, not fatal: the count of stored rows comes back alongside any
// per-row errors.
func (c *Cache) StoreFetched(ctx context.Context, userID string, items []models.PlatformContent) (int, error) {
	now := c.nowFunc().UTC()
	for i := range items {
		items[i].UserID = userID
		items[i].FetchedAt = now
		if !items[i].Retained && items[i].ExpiresAt == nil {
			expires := now.Add(c.TTL(items[i].Platform))
			items[i].ExpiresAt = &expires
		}
	}
	return c.rows.UpsertBatch(ctx, items)
}

// Query returns live rows matching the filters, newest fetch first.
func (c *Cache) Query(ctx context.Context, q models.ContentQuery) ([]models.PlatformContent, error) {
	return c.rows.Query(ctx, q)
}

// GetByIDs loads specific rows a user owns, live or retained.
func (c *Cache) GetByIDs(ctx context.Context, userID string, ids []string) ([]models.PlatformContent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.rows.GetByIDs(ctx, userID, ids)
}

// Retain promotes rows to the permanent lane. Idempotent: retaining
// already-retained rows changes nothing. Must succeed before a version
// that consumed the rows may be marked delivered.
func (c *Cache) Retain(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := c.rows.Retain(ctx, userID, ids)
	if err != nil {
		return n, fmt.Errorf("failed to retain %d content rows: %w", len(ids), err)
	}
	return n, nil
}

// CountNewSince counts rows fetched after the given instant, the signal
// pass sufficiency input.
func (c *Cache) CountNewSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return c.rows.CountNewSince(ctx, userID, since)
}

// PurgeExpired physically deletes unretained rows past expiry plus the
// grace window.
func (c *Cache) PurgeExpired(ctx context.Context, grace time.Duration) (int, error) {
	return c.rows.PurgeExpired(ctx, grace)
}

// Digest is a bounded per-platform slice of recent content, used to build
// signal summaries and prompt context without dragging whole mailboxes
// into the model.
type Digest struct {
	Platform  models.Platform
	ItemCount int
	From      time.Time
	To        time.Time
	Text      string
}

// DigestOptions bounds one digest build.
type DigestOptions struct {
	Since    time.Time
	Until    time.Time
	MaxItems int
	MaxChars int
}

// BuildDigest reads one platform's live rows and formats them into a
// bounded textual digest, newest first.
func (c *Cache) BuildDigest(ctx context.Context, userID string, p models.Platform, opts DigestOptions) (*Digest, error) {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = 50
	}
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = 4000
	}

	q := models.ContentQuery{UserID: userID, Platform: p, Limit: maxItems}
	if !opts.Since.IsZero() {
		q.Since = &opts.Since
	}
	if !opts.Until.IsZero() {
		q.Until = &opts.Until
	}
	items, err := c.rows.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s content for digest: %w", p, err)
	}

	d := &Digest{Platform: p, ItemCount: len(items)}
	var b strings.Builder
	for _, item := range items {
		if d.From.IsZero() || item.SourceTimestamp.Before(d.From) {
			d.From = item.SourceTimestamp
		}
		if item.SourceTimestamp.After(d.To) {
			d.To = item.SourceTimestamp
		}
		line := formatItem(item)
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	d.Text = strings.TrimRight(b.String(), "\n")
	return d, nil
}

const itemBodyLimit = 280

func formatItem(item models.PlatformContent) string {
	body := strings.Join(strings.Fields(item.Body), " ")
	if len(body) > itemBodyLimit {
		body = trimRunes(body, itemBodyLimit) + "…"
	}
	stamp := ""
	if !item.SourceTimestamp.IsZero() {
		stamp = item.SourceTimestamp.Format("Jan 2 15:04") + " "
	}
	if item.Title != "" {
		return fmt.Sprintf("- %s[%s] %s: %s", stamp, item.ResourceID, item.Title, body)
	}
	return fmt.Sprintf("- %s[%s] %s", stamp, item.ResourceID, body)
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
