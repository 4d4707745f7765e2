package masking

import (
	"encoding/json"
	"strings"
)

// MaskedCredentialValue is the replacement string for masked credential fields.
const MaskedCredentialValue = "[MASKED_CREDENTIAL]"

// credentialKeys are JSON field names whose string values are masked wherever
// they appear. Lookup happens on the normalized key: lowercased with
// underscores and dashes removed.
var credentialKeys = map[string]bool{
	"accesstoken":   true,
	"refreshtoken":  true,
	"idtoken":       true,
	"clientsecret":  true,
	"apikey":        true,
	"authorization": true,
	"password":      true,
	"privatekey":    true,
	"secret":        true,
	"sharedsecret":  true,
	"signingsecret": true,
	"bottoken":      true,
	"webhooksecret": true,
}

// appliesToMarkers short-circuit AppliesTo without parsing.
var appliesToMarkers = []string{
	"access_token", "refresh_token", "client_secret", "api_key",
	"authorization", "private_key", "webhook_secret", "bot_token",
	"password", "secret",
}

// CredentialJSONMasker masks credential-bearing fields inside JSON payloads
// while leaving ordinary message content untouched. Platform APIs sometimes
// echo token material in integration metadata and webhook bodies; this
// catches it before cached content reaches the model.
type CredentialJSONMasker struct{}

// Name returns the unique identifier for this masker.
func (m *CredentialJSONMasker) Name() string { return "credential_json" }

// AppliesTo performs a lightweight check on whether this masker should process the data.
func (m *CredentialJSONMasker) AppliesTo(data string) bool {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	lower := strings.ToLower(data)
	for _, marker := range appliesToMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Mask applies credential masking logic.
// Returns original data on parse/processing errors (defensive).
func (m *CredentialJSONMasker) Mask(data string) string {
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return data // Not valid JSON — return original
	}

	masked, changed := maskCredentialValues(doc)
	if !changed {
		return data
	}

	result, err := json.Marshal(masked)
	if err != nil {
		return data
	}

	// Preserve trailing newline if original had one
	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}

	return output
}

// maskCredentialValues walks the document and replaces string values under
// credential keys. Only strings are masked so boolean flags like
// "secret": false survive; containers under credential keys are walked
// instead. Returns the document and whether anything changed.
func maskCredentialValues(doc any) (any, bool) {
	switch v := doc.(type) {
	case map[string]any:
		changed := false
		for key, val := range v {
			if isCredentialKey(key) {
				if s, isStr := val.(string); isStr && s != MaskedCredentialValue {
					v[key] = MaskedCredentialValue
					changed = true
					continue
				}
			}
			if _, c := maskCredentialValues(val); c {
				changed = true
			}
		}
		return v, changed
	case []any:
		changed := false
		for i, item := range v {
			masked, c := maskCredentialValues(item)
			if c {
				v[i] = masked
				changed = true
			}
		}
		return v, changed
	default:
		return doc, false
	}
}

func isCredentialKey(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	return credentialKeys[normalized]
}
