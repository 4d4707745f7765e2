package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// slackMock routes slack-go API calls to canned JSON responses.
type slackMock struct {
	mux     *http.ServeMux
	server  *httptest.Server
	joined  atomic.Int32
	history atomic.Int32
}

func newSlackMock(t *testing.T) *slackMock {
	t.Helper()
	m := &slackMock{mux: http.NewServeMux()}
	m.server = httptest.NewServer(m.mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *slackMock) apiURL() string { return m.server.URL + "/" }

func (m *slackMock) respond(path string, body any) {
	m.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

func TestSlackFetchChannelHistory(t *testing.T) {
	mock := newSlackMock(t)
	mock.respond("/conversations.history", map[string]any{
		"ok": true,
		"messages": []map[string]any{
			{"type": "message", "user": "U1", "text": "deploy went out", "ts": "1757400000.000100"},
			{"type": "message", "subtype": "channel_join", "user": "U2", "text": "joined", "ts": "1757400001.000100"},
			{"type": "message", "user": "U3", "text": "retro notes posted", "ts": "1757400002.000100", "thread_ts": "1757400000.000100"},
		},
	})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	result, err := client.Fetch(context.Background(), &Credentials{AccessToken: "xoxb-test"}, "C123", FetchOptions{})
	require.NoError(t, err)

	require.Len(t, result.Items, 2, "channel_join noise is dropped")
	assert.Equal(t, models.PlatformSlack, result.Items[0].Platform)
	assert.Equal(t, "C123", result.Items[0].ResourceID)
	assert.Equal(t, "1757400000.000100", result.Items[0].SourceRef)
	assert.Equal(t, "deploy went out", result.Items[0].Body)
	assert.Equal(t, time.Unix(1757400000, 0).UTC(), result.Items[0].SourceTimestamp)
	assert.Equal(t, "1757400000.000100", result.Items[1].Metadata["thread_ts"])
}

func TestSlackFetchAutoJoinsPublicChannel(t *testing.T) {
	mock := newSlackMock(t)
	mock.mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if mock.history.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "not_in_channel"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"type": "message", "user": "U1", "text": "hello", "ts": "1757400000.000100"},
			},
		})
	})
	mock.mux.HandleFunc("/conversations.join", func(w http.ResponseWriter, _ *http.Request) {
		mock.joined.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": map[string]any{"id": "C123"}})
	})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	result, err := client.Fetch(context.Background(), &Credentials{AccessToken: "xoxb-test"}, "C123", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), mock.joined.Load())
	require.Len(t, result.Items, 1)
}

func TestSlackFetchPrivateChannelPermissionError(t *testing.T) {
	mock := newSlackMock(t)
	mock.respond("/conversations.history", map[string]any{"ok": false, "error": "missing_scope"})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	_, err := client.Fetch(context.Background(), &Credentials{AccessToken: "xoxb-test"}, "C999", FetchOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "missing_scope", apiErr.Code)
	assert.False(t, IsTransient(err))
}

func TestSlackFetchRevokedToken(t *testing.T) {
	mock := newSlackMock(t)
	mock.respond("/conversations.history", map[string]any{"ok": false, "error": "token_revoked"})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	_, err := client.Fetch(context.Background(), &Credentials{AccessToken: "xoxb-dead"}, "C123", FetchOptions{})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestSlackDiscoverChannels(t *testing.T) {
	mock := newSlackMock(t)
	mock.respond("/conversations.list", map[string]any{
		"ok": true,
		"channels": []map[string]any{
			{"id": "C1", "name": "eng", "is_private": false, "is_member": true},
			{"id": "C2", "name": "leadership", "is_private": true, "is_member": false},
		},
		"response_metadata": map[string]any{"next_cursor": ""},
	})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	resources, err := client.Discover(context.Background(), &Credentials{AccessToken: "xoxb-test"})
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "#eng", resources[0].Name)
	assert.Equal(t, "channel", resources[0].Kind)
	assert.Equal(t, true, resources[1].Metadata["is_private"])
}

func TestSlackPostMessage(t *testing.T) {
	mock := newSlackMock(t)
	mock.respond("/chat.postMessage", map[string]any{"ok": true, "channel": "C123", "ts": "1757400010.000200"})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	ts, err := client.PostMessage(context.Background(), &Credentials{AccessToken: "xoxb-test"}, "C123", "*weekly status*", "")
	require.NoError(t, err)
	assert.Equal(t, "1757400010.000200", ts)
}

func TestSlackOpenDMByEmail(t *testing.T) {
	mock := newSlackMock(t)
	mock.respond("/users.lookupByEmail", map[string]any{
		"ok":   true,
		"user": map[string]any{"id": "U42"},
	})
	mock.respond("/conversations.open", map[string]any{
		"ok":      true,
		"channel": map[string]any{"id": "D42"},
	})

	client := NewSlackClientWithAPIURL(50, mock.apiURL())
	dm, err := client.OpenDMByEmail(context.Background(), &Credentials{AccessToken: "xoxb-test"}, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "D42", dm)
}
