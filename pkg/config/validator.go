package config

import (
	"encoding/base64"
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateSecurity(); err != nil {
		return err
	}
	if err := v.validateLLM(); err != nil {
		return err
	}
	if err := v.validateScheduler(); err != nil {
		return err
	}
	if err := v.validateSignal(); err != nil {
		return err
	}
	if err := v.validateAgent(); err != nil {
		return err
	}
	return nil
}

func (v *ConfigValidator) validateSecurity() error {
	key := v.cfg.Security.PlatformEncryptionKey
	if key == "" {
		return NewValidationError("security", "PLATFORM_ENCRYPTION_KEY", ErrMissingRequiredField)
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return NewValidationError("security", "PLATFORM_ENCRYPTION_KEY",
			fmt.Errorf("%w: not valid base64", ErrInvalidValue))
	}
	if len(raw) != 32 {
		return NewValidationError("security", "PLATFORM_ENCRYPTION_KEY",
			fmt.Errorf("%w: decoded key must be 32 bytes, got %d", ErrInvalidValue, len(raw)))
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	llm := v.cfg.LLM
	if llm.ReasoningModel == "" {
		return NewValidationError("llm", "reasoning_model", ErrMissingRequiredField)
	}
	if llm.GenerationModel == "" {
		return NewValidationError("llm", "generation_model", ErrMissingRequiredField)
	}
	if llm.ExtractionModel == "" {
		return NewValidationError("llm", "extraction_model", ErrMissingRequiredField)
	}
	if llm.MaxTokens < 1 {
		return NewValidationError("llm", "max_tokens",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if llm.Temperature < 0 || llm.Temperature > 1 {
		return NewValidationError("llm", "temperature",
			fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.TickInterval <= 0 {
		return NewValidationError("scheduler", "tick_interval",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.SyncWorkers < 1 || s.SignalWorkers < 1 || s.DeliverableWorkers < 1 {
		return NewValidationError("scheduler", "workers",
			fmt.Errorf("%w: at least one worker required per phase", ErrInvalidValue))
	}
	if s.SyncQueueSize < 1 || s.SignalQueueSize < 1 || s.DeliverableQueueSize < 1 {
		return NewValidationError("scheduler", "queues",
			fmt.Errorf("%w: queue capacity must be positive", ErrInvalidValue))
	}
	if s.StuckTicketThreshold <= 0 {
		return NewValidationError("scheduler", "stuck_ticket_threshold",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateSignal() error {
	s := v.cfg.Signal
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return NewValidationError("signal", "confidence_threshold",
			fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
	}
	if s.MinSummaryItems < 1 {
		return NewValidationError("signal", "min_summary_items",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateAgent() error {
	a := v.cfg.Agent
	if a.MaxToolRounds < 1 {
		return NewValidationError("agent", "max_tool_rounds",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if a.GenerationTimeout <= 0 {
		return NewValidationError("agent", "generation_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
