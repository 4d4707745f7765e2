// YARNNN orchestrator server — syncs platform content, detects signals,
// executes deliverables, and serves the health endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/agent"
	"github.com/yarnnn/orchestrator/pkg/api"
	"github.com/yarnnn/orchestrator/pkg/cleanup"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/deliverable"
	"github.com/yarnnn/orchestrator/pkg/export"
	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/masking"
	"github.com/yarnnn/orchestrator/pkg/memory"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
	"github.com/yarnnn/orchestrator/pkg/scheduler"
	"github.com/yarnnn/orchestrator/pkg/secrets"
	sig "github.com/yarnnn/orchestrator/pkg/signal"
	"github.com/yarnnn/orchestrator/pkg/store"
	platformsync "github.com/yarnnn/orchestrator/pkg/sync"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()
	slog.Info("Starting YARNNN orchestrator", "pod_id", podID, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to the database and run migrations
	dbClient, err := store.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient)

	// 3. Credential sealing and platform clients
	box, err := secrets.NewBox(cfg.Security.PlatformEncryptionKey)
	if err != nil {
		slog.Error("Failed to initialize credential encryption", "error", err)
		os.Exit(1)
	}

	httpTimeout := cfg.Sync.HTTPTimeout.Std()
	connectTimeout := cfg.Sync.ConnectTimeout.Std()
	gmailDoor := platform.NewDoor(models.PlatformGmail, httpTimeout, connectTimeout)
	calendarDoor := platform.NewDoor(models.PlatformCalendar, httpTimeout, connectTimeout)
	notionDoor := platform.NewDoor(models.PlatformNotion, httpTimeout, connectTimeout)

	tokens := platform.NewTokenManager(box, st.Connections, gmailDoor, cfg.Platform)

	slackClient := platform.NewSlackClient(cfg.Sync.SlackMessagesPerChannel)
	gmailClient := platform.NewGmailClient(gmailDoor, cfg.Sync.GmailMessagesPerLabel, cfg.Sync.LookbackWindow.Std())
	notionClient := platform.NewNotionClient(notionDoor, cfg.Platform.NotionVersion)
	calendarClient := platform.NewCalendarClient(calendarDoor, cfg.Sync.CalendarLookahead.Std())
	clients := platform.NewRegistry(slackClient, gmailClient, notionClient, calendarClient)
	slog.Info("Platform clients initialized", "providers", clients.Platforms())

	// 4. LLM client, masking, activity, content cache
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	masker := masking.NewService()
	recorder := activity.NewRecorder(st.Activity)
	cache := content.NewCache(st.Content, cfg.Sync)

	// 5. Sync engine and working memory
	syncEngine := platformsync.NewEngine(
		st.Connections, st.SyncRegistry, cache, tokens, clients, recorder, cfg.Sync)
	assembler := memory.NewAssembler(
		st.UserContext, st.Deliverables, st.Connections, st.SyncRegistry, st.Versions, st.Activity)

	// 6. Agent runner and export registry
	executor := agent.NewToolExecutor(cache, st.Connections, assembler, masker, cfg.Agent)
	runner := agent.NewRunner(llmClient, executor, cfg.Agent)

	exportAuth := export.NewAuth(st.Connections, tokens)
	resendExporter := export.NewResendExporter(cfg.Export)
	exporters := export.NewRegistry(
		resendExporter,
		export.NewGmailExporter(gmailClient, exportAuth),
		export.NewSlackExporter(slackClient, exportAuth),
		export.NewNotionExporter(notionClient, exportAuth),
		export.NewDownloadExporter(cfg.Export),
	)

	// 7. Deliverable engine and signal orchestrator
	engine := deliverable.NewEngine(
		st.Deliverables, st.Versions, st.Tickets, st.Users, st.Connections,
		st.SyncRegistry, syncEngine, cache, runner, assembler, exporters,
		resendExporter, recorder, cfg.Deliverable, podID)
	signals := sig.NewOrchestrator(
		llmClient, cache, masker, st.Deliverables, st.Signals, st.Versions,
		st.UserContext, st.Activity, st.Connections, engine, recorder,
		cfg.Signal, cfg.Sync)

	// 8. Scheduler (recovers this pod's crashed leftovers on start)
	sched := scheduler.New(
		podID, st.Users, st.Connections, st.SyncRegistry, st.Activity,
		st.Deliverables, st.Locks, st.Tickets, st.Versions,
		syncEngine, signals, engine, recorder,
		cfg.Scheduler, cfg.Sync, cfg.Signal)
	sched.Start(ctx)

	// 9. Retention cleanup loop
	cleaner := cleanup.NewService(cfg.Retention, cache, st.Activity, st.Signals)
	cleaner.Start(ctx)

	// 10. Start HTTP server (non-blocking)
	httpServer := api.NewServer(dbClient, cfg.Server)
	httpServer.SetScheduler(sched)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("YARNNN orchestrator started", "pod_id", podID, "port", cfg.Server.Port)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case s := <-sigCh:
		slog.Info("Shutdown signal received", "signal", s)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: scheduler first so no new work starts,
	// then cleanup, then the HTTP server.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.GracefulShutdownTimeout.Std())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — unfinished runs will be janitor-recovered")
	}

	cleaner.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
