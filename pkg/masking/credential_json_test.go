package masking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialJSONMasker_AppliesTo(t *testing.T) {
	m := &CredentialJSONMasker{}

	tests := []struct {
		name    string
		data    string
		applies bool
	}{
		{"oauth payload", `{"access_token":"abc"}`, true},
		{"nested secret", `[{"config":{"client_secret":"x"}}]`, true},
		{"plain prose", "rotate the access_token tomorrow", false},
		{"json without credentials", `{"channel":"C1","text":"hello"}`, false},
		{"empty", "", false},
		{"whitespace json", "  {\"api_key\":\"k\"}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.applies, m.AppliesTo(tt.data))
		})
	}
}

func TestCredentialJSONMasker_MasksNestedFields(t *testing.T) {
	m := &CredentialJSONMasker{}

	input := `{
		"workspace": "acme",
		"integrations": [
			{"name": "gmail", "credentials": {"access_token": "tok-1", "refresh_token": "tok-2", "expiry": "2026-01-01"}},
			{"name": "slack", "bot_token": "xoxb-fake", "channel": "C042"}
		]
	}`

	masked := m.Mask(input)
	require.NotEqual(t, input, masked)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(masked), &doc))

	integrations := doc["integrations"].([]any)
	gmail := integrations[0].(map[string]any)
	creds := gmail["credentials"].(map[string]any)
	assert.Equal(t, MaskedCredentialValue, creds["access_token"])
	assert.Equal(t, MaskedCredentialValue, creds["refresh_token"])
	assert.Equal(t, "2026-01-01", creds["expiry"], "non-credential siblings survive")

	slack := integrations[1].(map[string]any)
	assert.Equal(t, MaskedCredentialValue, slack["bot_token"])
	assert.Equal(t, "C042", slack["channel"])
	assert.Equal(t, "acme", doc["workspace"])
}

func TestCredentialJSONMasker_KeyNormalization(t *testing.T) {
	m := &CredentialJSONMasker{}

	input := `{"Access-Token":"a","API_KEY":"b","ApiKey":"c","note":"keep"}`
	masked := m.Mask(input)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(masked), &doc))
	assert.Equal(t, MaskedCredentialValue, doc["Access-Token"])
	assert.Equal(t, MaskedCredentialValue, doc["API_KEY"])
	assert.Equal(t, MaskedCredentialValue, doc["ApiKey"])
	assert.Equal(t, "keep", doc["note"])
}

func TestCredentialJSONMasker_OnlyStringsMasked(t *testing.T) {
	m := &CredentialJSONMasker{}

	// Boolean flags under credential-shaped keys must survive; JSON with no
	// string credentials comes back unchanged.
	input := `{"secret": false, "password": 12345}`
	assert.Equal(t, input, m.Mask(input))
}

func TestCredentialJSONMasker_DefensiveOnGarbage(t *testing.T) {
	m := &CredentialJSONMasker{}

	input := `{"access_token": "unterminated`
	assert.Equal(t, input, m.Mask(input), "invalid JSON must pass through untouched")
}

func TestCredentialJSONMasker_PreservesTrailingNewline(t *testing.T) {
	m := &CredentialJSONMasker{}

	masked := m.Mask("{\"api_key\":\"abcd\"}\n")
	assert.Equal(t, "{\"api_key\":\"[MASKED_CREDENTIAL]\"}\n", masked)
}
