package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is a regex pattern definition before compilation.
type builtinPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns covers credential shapes that show up in synced workspace
// content. Email addresses are first-class content in this system and are
// never masked; blanket base64 sweeps are omitted because they mangle
// ordinary prose and file attachments.
func builtinPatterns() map[string]builtinPattern {
	return map[string]builtinPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key|client[_-]?secret)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
			Description: "Secret keys",
		},
		"key_block": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_KEY_BLOCK__`,
			Description: "PEM key and certificate blocks",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `__MASKED_SLACK_TOKEN__`,
			Description: "Slack tokens",
		},
		"google_oauth": {
			Pattern:     `ya29\.[A-Za-z0-9_\-\.]{20,}`,
			Replacement: `__MASKED_GOOGLE_TOKEN__`,
			Description: "Google OAuth access tokens",
		},
		"github_token": {
			Pattern:     `gh[posu]_[A-Za-z0-9_]{36,255}`,
			Replacement: `__MASKED_GITHUB_TOKEN__`,
			Description: "GitHub tokens",
		},
		"aws_access_key": {
			Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
			Replacement: `__MASKED_AWS_KEY__`,
			Description: "AWS access keys",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "__MASKED_AWS_SECRET__"`,
			Description: "AWS secret keys",
		},
	}
}

// builtinPatternGroups returns predefined groups of masking patterns.
// Group members reference either regex patterns above or registered code
// maskers ("credential_json" parses JSON payloads structurally).
func builtinPatternGroups() map[string][]string {
	return map[string][]string{
		"credentials":     {"api_key", "password", "token", "secret_key"},
		"platform_tokens": {"slack_token", "google_oauth", "github_token"},
		"cloud":           {"aws_access_key", "aws_secret_key"},
		"key_material":    {"key_block", "ssh_key"},
		"standard": {
			"credential_json",
			"api_key", "password", "token", "secret_key",
			"slack_token", "google_oauth", "github_token",
			"aws_access_key", "aws_secret_key",
			"key_block", "ssh_key",
		},
	}
}

// compileBuiltinPatterns compiles all built-in regex patterns.
// Invalid patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range builtinPatterns() {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// resolvedPatterns holds the resolved set of maskers and patterns for a
// masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// resolveGroup expands a pattern group name into a deduplicated
// resolvedPatterns. Unknown names are skipped.
func (s *Service) resolveGroup(groupName string) *resolvedPatterns {
	seen := make(map[string]bool)
	resolved := &resolvedPatterns{}

	for _, name := range s.patternGroups[groupName] {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := s.codeMaskers[name]; ok {
			resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
			continue
		}
		if cp, ok := s.patterns[name]; ok {
			resolved.regexPatterns = append(resolved.regexPatterns, cp)
		}
	}

	return resolved
}
