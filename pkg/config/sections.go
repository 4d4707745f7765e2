package config

// SecurityConfig holds secret material settings.
type SecurityConfig struct {
	// PlatformEncryptionKey is the base64-encoded 32-byte key used for
	// AES-256-GCM encryption of platform credentials at rest.
	PlatformEncryptionKey string
}

// LLMConfig selects models per reasoning class and carries provider access.
type LLMConfig struct {
	APIKey          string
	BaseURL         string  // optional override, e.g. a gateway
	ReasoningModel  string  `yaml:"reasoning_model"`
	GenerationModel string  `yaml:"generation_model"`
	ExtractionModel string  `yaml:"extraction_model"`
	MaxTokens       int64   `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
}

// SchedulerConfig controls the tick loop, the three phase queues, and the
// janitor.
type SchedulerConfig struct {
	// TickInterval is how often due work is enumerated.
	TickInterval Duration `yaml:"tick_interval"`

	// Worker counts per phase. Each phase drains its own queue.
	SyncWorkers        int `yaml:"sync_workers"`
	SignalWorkers      int `yaml:"signal_workers"`
	DeliverableWorkers int `yaml:"deliverable_workers"`

	// Queue capacities per phase. A full queue sheds the enqueue and logs
	// the drop instead of blocking the tick.
	SyncQueueSize        int `yaml:"sync_queue_size"`
	SignalQueueSize      int `yaml:"signal_queue_size"`
	DeliverableQueueSize int `yaml:"deliverable_queue_size"`

	// Advisory lock TTLs. Locks outliving their TTL are treated as crashed
	// owners and reclaimed.
	SyncLockTTL        Duration `yaml:"sync_lock_ttl"`
	SignalLockTTL      Duration `yaml:"signal_lock_ttl"`
	DeliverableLockTTL Duration `yaml:"deliverable_lock_ttl"`

	// JanitorInterval is how often stuck tickets and expired locks are
	// scanned for; StuckTicketThreshold is the heartbeat silence that
	// fails a running ticket.
	JanitorInterval      Duration `yaml:"janitor_interval"`
	StuckTicketThreshold Duration `yaml:"stuck_ticket_threshold"`

	// GracefulShutdownTimeout bounds the wait for in-flight work on stop.
	GracefulShutdownTimeout Duration `yaml:"graceful_shutdown_timeout"`
}

// SyncConfig controls platform pulls and the content cache lanes.
type SyncConfig struct {
	// Per-pull item caps.
	SlackMessagesPerChannel int `yaml:"slack_messages_per_channel"`
	GmailMessagesPerLabel   int `yaml:"gmail_messages_per_label"`

	// LookbackWindow bounds how far back mail and message pulls reach;
	// CalendarLookahead bounds the event window going forward.
	LookbackWindow    Duration `yaml:"lookback_window"`
	CalendarLookahead Duration `yaml:"calendar_lookahead"`

	// ContentTTL is the cache lifetime for unretained rows, per platform.
	ContentTTL map[string]Duration `yaml:"content_ttl"`

	// Minimum spacing between two syncs of the same (user, platform),
	// guarding against manual syncs stacking onto the cadence.
	MinGapHourly     Duration `yaml:"min_gap_hourly"`
	MinGapFourDaily  Duration `yaml:"min_gap_four_daily"`
	MinGapTwiceDaily Duration `yaml:"min_gap_twice_daily"`

	// Outbound HTTP budgets.
	HTTPTimeout    Duration `yaml:"http_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SignalConfig controls the signal pass.
type SignalConfig struct {
	// Interval is the spacing between passes per user; MinGap guards
	// against manual passes stacking onto the cadence.
	Interval Duration `yaml:"interval"`
	MinGap   Duration `yaml:"min_gap"`

	// ConfidenceThreshold drops actions the model is not sure about.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// DedupWindow suppresses repeat signals for the same finding.
	DedupWindow Duration `yaml:"dedup_window"`

	// MinSummaryItems is the sufficiency gate: passes with fewer cache
	// items than this never reach the model.
	MinSummaryItems int `yaml:"min_summary_items"`
}

// AgentConfig bounds the generation loop.
type AgentConfig struct {
	// MaxToolRounds caps tool-use iterations before the model is forced
	// to conclude.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// GenerationTimeout is the wall-clock budget for one generation;
	// LLMTimeout bounds a single model round inside it.
	GenerationTimeout Duration `yaml:"generation_timeout"`
	LLMTimeout        Duration `yaml:"llm_timeout"`

	// SearchAPIKey authorizes the web_search tool. Empty disables the
	// tool; research deliverables then run on platform grounding alone.
	SearchAPIKey  string
	SearchBaseURL string `yaml:"search_base_url"`
}

// DeliverableConfig controls freshness checks around a run.
type DeliverableConfig struct {
	// DefaultStaleness applies when a type carries no freshness
	// requirement of its own.
	DefaultStaleness Duration `yaml:"default_staleness"`

	// MaxTargetedResyncs bounds the pre-run re-sync of stale sources.
	MaxTargetedResyncs int `yaml:"max_targeted_resyncs"`

	// NotifyOnFailure sends the user a short failure notice when a
	// delivery fails outright.
	NotifyOnFailure bool `yaml:"notify_on_failure"`

	// HeartbeatInterval is how often a running generation refreshes its
	// work ticket heartbeat.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// ExportConfig holds delivery-side settings.
type ExportConfig struct {
	ResendAPIKey string
	FromAddress  string `yaml:"from_address"`
	FromName     string `yaml:"from_name"`

	// ArtifactsDir is where download deliveries are written.
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// PlatformConfig carries provider app credentials the token manager needs
// for refresh-token exchanges. Tokens themselves live encrypted on the
// connection rows, not here.
type PlatformConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenURL     string `yaml:"google_token_url"`
	NotionVersion      string `yaml:"notion_version"`
}

// RetentionConfig controls cleanup of expired cache rows and old activity.
type RetentionConfig struct {
	// ContentGrace delays physical deletion past logical expiry, keeping
	// just-expired rows inspectable.
	ContentGrace Duration `yaml:"content_grace"`

	// ActivityTTL is the maximum age of activity log rows.
	ActivityTTL Duration `yaml:"activity_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// ServerConfig holds the health endpoint settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}
