package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YarnnnYAMLConfig represents the complete yarnnn.yaml file structure.
// Every section is optional; unset values keep their built-in defaults.
type YarnnnYAMLConfig struct {
	Scheduler   *SchedulerConfig   `yaml:"scheduler"`
	Sync        *SyncConfig        `yaml:"sync"`
	Platform    *PlatformConfig    `yaml:"platform"`
	Signal      *SignalConfig      `yaml:"signal"`
	Agent       *AgentConfig       `yaml:"agent"`
	Deliverable *DeliverableConfig `yaml:"deliverable"`
	Export      *ExportConfig      `yaml:"export"`
	Retention   *RetentionConfig   `yaml:"retention"`
	LLM         *LLMConfig         `yaml:"llm"`
	Server      *ServerConfig      `yaml:"server"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Resolution order, lowest to highest precedence:
//  1. Built-in defaults
//  2. yarnnn.yaml from configDir (optional, {{.VAR}} env expansion applied)
//  3. Environment variables for secrets and deploy overrides
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"tick_interval", cfg.Scheduler.TickInterval,
		"sync_workers", cfg.Scheduler.SyncWorkers,
		"deliverable_workers", cfg.Scheduler.DeliverableWorkers,
		"reasoning_model", cfg.LLM.ReasoningModel,
		"generation_model", cfg.LLM.GenerationModel)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	yamlCfg, err := loadYarnnnYAML(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		configDir:   configDir,
		Scheduler:   DefaultSchedulerConfig(),
		Sync:        DefaultSyncConfig(),
		Platform:    DefaultPlatformConfig(),
		Signal:      DefaultSignalConfig(),
		Agent:       DefaultAgentConfig(),
		Deliverable: DefaultDeliverableConfig(),
		Export:      DefaultExportConfig(),
		Retention:   DefaultRetentionConfig(),
		LLM:         DefaultLLMConfig(),
		Server:      DefaultServerConfig(),
	}

	// Merge YAML sections over defaults; non-zero values override.
	if err := mergeSection(cfg.Scheduler, yamlCfg.Scheduler); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Sync, yamlCfg.Sync); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Platform, yamlCfg.Platform); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Signal, yamlCfg.Signal); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Agent, yamlCfg.Agent); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Deliverable, yamlCfg.Deliverable); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Export, yamlCfg.Export); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Retention, yamlCfg.Retention); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.LLM, yamlCfg.LLM); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Server, yamlCfg.Server); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	db, err := LoadDatabaseConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Database = db

	return cfg, nil
}

// applyEnvOverrides resolves secrets and the documented operational knobs
// from the environment. Env beats YAML for these.
func applyEnvOverrides(cfg *Config) {
	cfg.Security = &SecurityConfig{
		PlatformEncryptionKey: os.Getenv("PLATFORM_ENCRYPTION_KEY"),
	}

	cfg.Platform.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.Platform.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")

	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if base := os.Getenv("ANTHROPIC_BASE_URL"); base != "" {
		cfg.LLM.BaseURL = base
	}
	if m := os.Getenv("LLM_REASONING_MODEL"); m != "" {
		cfg.LLM.ReasoningModel = m
	}
	if m := os.Getenv("LLM_GENERATION_MODEL"); m != "" {
		cfg.LLM.GenerationModel = m
	}
	if m := os.Getenv("LLM_EXTRACTION_MODEL"); m != "" {
		cfg.LLM.ExtractionModel = m
	}

	cfg.Agent.MaxToolRounds = getEnvInt("MAX_TOOL_ROUNDS", cfg.Agent.MaxToolRounds)
	cfg.Agent.SearchAPIKey = os.Getenv("SEARCH_API_KEY")
	if base := os.Getenv("SEARCH_BASE_URL"); base != "" {
		cfg.Agent.SearchBaseURL = base
	}
	cfg.Signal.ConfidenceThreshold = getEnvFloat("SIGNAL_CONFIDENCE_THRESHOLD", cfg.Signal.ConfidenceThreshold)

	if mins := getEnvInt("STALENESS_THRESHOLD_MINUTES", 0); mins > 0 {
		cfg.Deliverable.DefaultStaleness = Duration(time.Duration(mins) * time.Minute)
	}

	cfg.Export.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	if from := os.Getenv("RESEND_FROM_ADDRESS"); from != "" {
		cfg.Export.FromAddress = from
	}

	cfg.Server.Port = getEnvInt("HTTP_PORT", cfg.Server.Port)
}

func loadYarnnnYAML(configDir string) (*YarnnnYAMLConfig, error) {
	var cfg YarnnnYAMLConfig

	path := filepath.Join(configDir, "yarnnn.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Optional overlay; defaults plus env carry the day.
			return &cfg, nil
		}
		return nil, NewLoadError("yarnnn.yaml", err)
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce the clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError("yarnnn.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &cfg, nil
}

// mergeSection merges a user-provided YAML section into its defaults.
// A nil section leaves the defaults untouched.
func mergeSection[T any](dst *T, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge yaml config: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
