package content

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
)

// fakeRows records writes and serves canned query results.
type fakeRows struct {
	stored   []models.PlatformContent
	retained map[string]bool
	results  []models.PlatformContent
	lastQ    models.ContentQuery
}

func newFakeRows() *fakeRows {
	return &fakeRows{retained: make(map[string]bool)}
}

func (f *fakeRows) UpsertBatch(_ context.Context, items []models.PlatformContent) (int, error) {
	f.stored = append(f.stored, items...)
	return len(items), nil
}

func (f *fakeRows) Query(_ context.Context, q models.ContentQuery) ([]models.PlatformContent, error) {
	f.lastQ = q
	if q.Limit > 0 && len(f.results) > q.Limit {
		return f.results[:q.Limit], nil
	}
	return f.results, nil
}

func (f *fakeRows) GetByIDs(_ context.Context, _ string, ids []string) ([]models.PlatformContent, error) {
	var out []models.PlatformContent
	for _, item := range f.results {
		for _, id := range ids {
			if item.ID == id {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func (f *fakeRows) Retain(_ context.Context, _ string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if !f.retained[id] {
			f.retained[id] = true
			n++
		}
	}
	return n, nil
}

func (f *fakeRows) CountNewSince(context.Context, string, time.Time) (int, error) {
	return len(f.results), nil
}

func (f *fakeRows) PurgeExpired(context.Context, time.Duration) (int, error) { return 0, nil }

func testCache(rows *fakeRows) *Cache {
	cache := NewCache(rows, config.DefaultSyncConfig())
	cache.nowFunc = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return cache
}

func TestStoreFetchedStampsTTLLane(t *testing.T) {
	rows := newFakeRows()
	cache := testCache(rows)

	stored, err := cache.StoreFetched(context.Background(), "user-1", []models.PlatformContent{
		{Platform: models.PlatformSlack, ResourceID: "C1", SourceRef: "1.0", Body: "hello"},
		{Platform: models.PlatformGmail, ResourceID: "INBOX", SourceRef: "m1", Body: "mail"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	slackRow := rows.stored[0]
	assert.Equal(t, "user-1", slackRow.UserID)
	assert.False(t, slackRow.Retained)
	require.NotNil(t, slackRow.ExpiresAt)
	assert.Equal(t, cache.nowFunc().Add(72*time.Hour), *slackRow.ExpiresAt, "slack TTL is 72h")

	gmailRow := rows.stored[1]
	require.NotNil(t, gmailRow.ExpiresAt)
	assert.Equal(t, cache.nowFunc().Add(7*24*time.Hour), *gmailRow.ExpiresAt, "gmail TTL is 7d")
}

func TestStoreFetchedKeepsRetainedLane(t *testing.T) {
	rows := newFakeRows()
	cache := testCache(rows)

	_, err := cache.StoreFetched(context.Background(), "user-1", []models.PlatformContent{
		{Platform: models.PlatformNotion, ResourceID: "p1", SourceRef: "p1", Retained: true},
	})
	require.NoError(t, err)
	assert.Nil(t, rows.stored[0].ExpiresAt, "retained rows never get an expiry")
}

func TestRetainIsIdempotent(t *testing.T) {
	rows := newFakeRows()
	cache := testCache(rows)

	n, err := cache.Retain(context.Background(), "user-1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	again, err := cache.Retain(context.Background(), "user-1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, again, "second retain changes nothing")

	none, err := cache.Retain(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, none)
}

func TestBuildDigestBoundsAndWindows(t *testing.T) {
	rows := newFakeRows()
	rows.results = []models.PlatformContent{
		{
			ResourceID:      "C-eng",
			Body:            "deploy is out, watching error rates",
			SourceTimestamp: time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC),
		},
		{
			ResourceID:      "C-eng",
			Title:           "incident",
			Body:            strings.Repeat("very long body ", 100),
			SourceTimestamp: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		},
	}
	cache := testCache(rows)

	d, err := cache.BuildDigest(context.Background(), "user-1", models.PlatformSlack, DigestOptions{
		Since:    time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC),
		MaxItems: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, d.ItemCount)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), d.From)
	assert.Equal(t, time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC), d.To)
	assert.Contains(t, d.Text, "[C-eng] deploy is out")
	assert.Contains(t, d.Text, "…", "long bodies are truncated")
	assert.Equal(t, models.PlatformSlack, rows.lastQ.Platform)
	require.NotNil(t, rows.lastQ.Since)
}

func TestBuildDigestCharBudget(t *testing.T) {
	rows := newFakeRows()
	for i := 0; i < 40; i++ {
		rows.results = append(rows.results, models.PlatformContent{
			ResourceID:      "INBOX",
			Body:            strings.Repeat("x", 200),
			SourceTimestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		})
	}
	cache := testCache(rows)

	d, err := cache.BuildDigest(context.Background(), "user-1", models.PlatformGmail, DigestOptions{MaxChars: 1000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(d.Text), 1000)
	assert.Equal(t, 40, d.ItemCount, "count reflects what exists, not what fit")
}
