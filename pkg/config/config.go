package config

// Config is the umbrella configuration object returned by Initialize() and
// handed to every subsystem at startup. Sections resolve in three layers:
// built-in defaults, then yarnnn.yaml overrides, then environment variables
// for secrets and deploy-specific knobs.
type Config struct {
	configDir string

	Database    *DatabaseConfig
	Security    *SecurityConfig
	LLM         *LLMConfig
	Scheduler   *SchedulerConfig
	Sync        *SyncConfig
	Platform    *PlatformConfig
	Signal      *SignalConfig
	Agent       *AgentConfig
	Deliverable *DeliverableConfig
	Export      *ExportConfig
	Retention   *RetentionConfig
	Server      *ServerConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
