package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/models"
)

func calendarEventJSON(id, summary, start string) map[string]any {
	return map[string]any{
		"id":      id,
		"status":  "confirmed",
		"summary": summary,
		"start":   map[string]any{"dateTime": start},
	}
}

func TestCalendarFetchFullWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("timeMin"))
		assert.NotEmpty(t, r.URL.Query().Get("timeMax"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				calendarEventJSON("E123", "Meeting with Acme CEO", "2026-09-02T15:00:00Z"),
				{"id": "E124", "status": "cancelled", "summary": "dropped"},
			},
			"nextSyncToken": "sync-token-1",
		})
	}))
	defer srv.Close()

	client := NewCalendarClient(testDoor(models.PlatformCalendar), 7*24*time.Hour).WithBaseURL(srv.URL)
	result, err := client.Fetch(context.Background(), &Credentials{AccessToken: "tok"}, "primary", FetchOptions{})
	require.NoError(t, err)

	require.Len(t, result.Items, 1, "cancelled events are dropped")
	assert.Equal(t, "E123", result.Items[0].SourceRef)
	assert.Equal(t, "Meeting with Acme CEO", result.Items[0].Title)
	assert.Equal(t, "E123", result.Items[0].Metadata["event_id"])
	assert.Equal(t, "sync-token-1", result.Cursor, "fresh sync token returned for incremental mode")
}

func TestCalendarIncrementalSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sync-token-1", r.URL.Query().Get("syncToken"))
		assert.Empty(t, r.URL.Query().Get("timeMin"), "incremental pulls carry no window")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":         []map[string]any{calendarEventJSON("E200", "New standup", "2026-09-03T09:00:00Z")},
			"nextSyncToken": "sync-token-2",
		})
	}))
	defer srv.Close()

	client := NewCalendarClient(testDoor(models.PlatformCalendar), 7*24*time.Hour).WithBaseURL(srv.URL)
	result, err := client.Fetch(context.Background(), &Credentials{AccessToken: "tok"}, "primary", FetchOptions{Cursor: "sync-token-1"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "sync-token-2", result.Cursor)
}

func TestCalendarGoneFallsBackToFullWindow(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("syncToken") != "" {
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"error": {"status": "GONE", "message": "Sync token is no longer valid"}}`))
			return
		}
		assert.NotEmpty(t, r.URL.Query().Get("timeMin"), "fallback uses the full window")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":         []map[string]any{calendarEventJSON("E300", "Replanned sync", "2026-09-04T10:00:00Z")},
			"nextSyncToken": "sync-token-fresh",
		})
	}))
	defer srv.Close()

	client := NewCalendarClient(testDoor(models.PlatformCalendar), 7*24*time.Hour).WithBaseURL(srv.URL)
	result, err := client.Fetch(context.Background(), &Credentials{AccessToken: "tok"}, "primary", FetchOptions{Cursor: "expired-token"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "sync-token-fresh", result.Cursor, "subsequent syncs return to incremental mode")
	assert.Equal(t, 2, calls)
}

func TestCalendarDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "primary", "summary": "Work", "primary": true},
				{"id": "team@group.calendar.google.com", "summary": "Team"},
			},
		})
	}))
	defer srv.Close()

	client := NewCalendarClient(testDoor(models.PlatformCalendar), 7*24*time.Hour).WithBaseURL(srv.URL)
	resources, err := client.Discover(context.Background(), &Credentials{AccessToken: "tok"})
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "calendar", resources[0].Kind)
	assert.Equal(t, true, resources[0].Metadata["primary"])
}
