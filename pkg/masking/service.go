package masking

import (
	"log/slog"
)

// standardGroup is the pattern group applied to model-bound content.
const standardGroup = "standard"

// Service applies data masking to agent tool results and signal summary
// input. Created once at application startup (singleton). Thread-safe and
// stateless aside from compiled patterns.
type Service struct {
	patterns      map[string]*CompiledPattern // Compiled built-in patterns
	patternGroups map[string][]string         // Group name → pattern names
	codeMaskers   map[string]Masker           // Registered code-based maskers
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly at creation time. Invalid
// patterns are logged and skipped.
func NewService() *Service {
	s := &Service{
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: builtinPatternGroups(),
		codeMaskers:   make(map[string]Masker),
	}

	s.compileBuiltinPatterns()
	s.registerMasker(&CredentialJSONMasker{})

	slog.Info("Masking service initialized",
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// MaskToolResult applies masking to agent tool result content before it
// reaches the model. On masking failure, returns a redaction notice
// (fail-closed).
func (s *Service) MaskToolResult(content string) string {
	if content == "" {
		return content
	}

	masked, err := s.applyMasking(content, s.resolveGroup(standardGroup))
	if err != nil {
		slog.Error("Masking failed, redacting content (fail-closed)", "error", err)
		return "[REDACTED: data masking failure — tool result could not be safely processed]"
	}

	return masked
}

// MaskSummaryInput applies masking to cache content headed into signal
// summaries. On masking failure, returns original data (fail-open) so a
// masking bug cannot silence signal detection.
func (s *Service) MaskSummaryInput(data string) string {
	if data == "" {
		return data
	}

	masked, err := s.applyMasking(data, s.resolveGroup(standardGroup))
	if err != nil {
		slog.Error("Summary masking failed, continuing with unmasked data (fail-open)",
			"error", err)
		return data
	}

	return masked
}

// applyMasking applies code-based maskers then regex patterns to content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (string, error) {
	masked := content

	// Phase 1: Code-based maskers (more specific, structural awareness)
	for _, maskerName := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	// Phase 2: Regex patterns (general sweep)
	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked, nil
}

// registerMasker registers a code-based masker by its name.
func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
