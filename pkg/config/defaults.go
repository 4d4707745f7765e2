package config

import "time"

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval:            Duration(5 * time.Minute),
		SyncWorkers:             4,
		SignalWorkers:           2,
		DeliverableWorkers:      3,
		SyncQueueSize:           256,
		SignalQueueSize:         64,
		DeliverableQueueSize:    128,
		SyncLockTTL:             Duration(10 * time.Minute),
		SignalLockTTL:           Duration(10 * time.Minute),
		DeliverableLockTTL:      Duration(30 * time.Minute),
		JanitorInterval:         Duration(5 * time.Minute),
		StuckTicketThreshold:    Duration(5 * time.Minute),
		GracefulShutdownTimeout: Duration(2 * time.Minute),
	}
}

// DefaultSyncConfig returns the built-in sync defaults.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		SlackMessagesPerChannel: 50,
		GmailMessagesPerLabel:   50,
		LookbackWindow:          Duration(7 * 24 * time.Hour),
		CalendarLookahead:       Duration(7 * 24 * time.Hour),
		ContentTTL: map[string]Duration{
			"slack":           Duration(72 * time.Hour),
			"gmail":           Duration(7 * 24 * time.Hour),
			"notion":          Duration(14 * 24 * time.Hour),
			"google_calendar": Duration(7 * 24 * time.Hour),
		},
		MinGapHourly:     Duration(45 * time.Minute),
		MinGapFourDaily:  Duration(4 * time.Hour),
		MinGapTwiceDaily: Duration(6 * time.Hour),
		HTTPTimeout:      Duration(30 * time.Second),
		ConnectTimeout:   Duration(10 * time.Second),
	}
}

// DefaultPlatformConfig returns the built-in provider endpoints.
func DefaultPlatformConfig() *PlatformConfig {
	return &PlatformConfig{
		GoogleTokenURL: "https://oauth2.googleapis.com/token",
		NotionVersion:  "2022-06-28",
	}
}

// DefaultSignalConfig returns the built-in signal pass defaults.
func DefaultSignalConfig() *SignalConfig {
	return &SignalConfig{
		Interval:            Duration(6 * time.Hour),
		MinGap:              Duration(2 * time.Hour),
		ConfidenceThreshold: 0.60,
		DedupWindow:         Duration(7 * 24 * time.Hour),
		MinSummaryItems:     3,
	}
}

// DefaultAgentConfig returns the built-in generation loop defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxToolRounds:     3,
		GenerationTimeout: Duration(90 * time.Second),
		LLMTimeout:        Duration(60 * time.Second),
		SearchBaseURL:     "https://api.search.brave.com/res/v1/web/search",
	}
}

// DefaultDeliverableConfig returns the built-in run defaults.
func DefaultDeliverableConfig() *DeliverableConfig {
	return &DeliverableConfig{
		DefaultStaleness:   Duration(30 * time.Minute),
		MaxTargetedResyncs: 2,
		NotifyOnFailure:    true,
		HeartbeatInterval:  Duration(30 * time.Second),
	}
}

// DefaultExportConfig returns the built-in delivery defaults.
func DefaultExportConfig() *ExportConfig {
	return &ExportConfig{
		FromAddress:  "digest@yarnnn.com",
		FromName:     "YARNNN",
		ArtifactsDir: "artifacts",
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ContentGrace:    Duration(24 * time.Hour),
		ActivityTTL:     Duration(90 * 24 * time.Hour),
		CleanupInterval: Duration(12 * time.Hour),
	}
}

// DefaultLLMConfig returns the built-in model selection defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		ReasoningModel:  "claude-sonnet-4-5",
		GenerationModel: "claude-sonnet-4-5",
		ExtractionModel: "claude-3-5-haiku-latest",
		MaxTokens:       4096,
		Temperature:     0.2,
	}
}

// DefaultServerConfig returns the built-in HTTP server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: 8080,
	}
}
