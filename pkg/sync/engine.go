// Package sync pulls selected resources from each connected platform into
// the content cache on the user's tier cadence, keeping the per-resource
// sync registry and the connection landscape fresh as it goes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/platform"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// ErrConnectionUnavailable is returned when the connection is missing or
// not in a syncable state.
var ErrConnectionUnavailable = errors.New("platform connection unavailable")

// Connections is the slice of the connection store the engine reads and
// repairs.
type Connections interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider models.Platform) (*models.PlatformConnection, error)
	UpdateStatus(ctx context.Context, connectionID string, status models.ConnectionStatus, detail string) error
	RefreshLandscape(ctx context.Context, connectionID string, fresh []models.Resource, now time.Time) (*models.Landscape, error)
}

// Registry is the slice of the sync registry store the engine writes.
type Registry interface {
	RecordSuccess(ctx context.Context, userID string, platform models.Platform, resourceID string, syncedAt time.Time, itemCount int, cursor string) error
	RecordFailure(ctx context.Context, userID string, platform models.Platform, resourceID string, syncErr error) error
	Get(ctx context.Context, userID string, platform models.Platform, resourceID string) (*models.SyncStatus, error)
}

// TokenSource yields live credentials for a connection.
type TokenSource interface {
	Credentials(ctx context.Context, conn *models.PlatformConnection) (*platform.Credentials, error)
}

// Events is the slice of the activity recorder the engine emits to.
type Events interface {
	PlatformSynced(ctx context.Context, userID string, payload activity.SyncedPayload)
	PlatformSyncFailed(ctx context.Context, userID string, payload activity.SyncFailedPayload)
}

var (
	_ Connections = (*store.ConnectionStore)(nil)
	_ Registry    = (*store.SyncRegistryStore)(nil)
	_ Events      = (*activity.Recorder)(nil)
)

// Result is the outcome of one platform sync.
type Result struct {
	Provider          models.Platform
	ItemsSynced       int
	PerResourceCounts map[string]int
	Errors            []string
}

// Engine runs platform pulls.
type Engine struct {
	connections Connections
	registry    Registry
	cache       *content.Cache
	tokens      TokenSource
	clients     *platform.Registry
	recorder    Events
	cfg         *config.SyncConfig
	nowFunc     func() time.Time
	logger      *slog.Logger
}

// NewEngine builds the sync engine.
func NewEngine(
	connections Connections,
	registry Registry,
	cache *content.Cache,
	tokens TokenSource,
	clients *platform.Registry,
	recorder Events,
	cfg *config.SyncConfig,
) *Engine {
	return &Engine{
		connections: connections,
		registry:    registry,
		cache:       cache,
		tokens:      tokens,
		clients:     clients,
		recorder:    recorder,
		cfg:         cfg,
		nowFunc:     time.Now,
		logger:      slog.Default().With("component", "sync-engine"),
	}
}

// SyncPlatform pulls every selected resource of one user's connection.
// Per-resource failures are collected and peers continue; only credential
// failure aborts the pass and flips the connection to error state.
func (e *Engine) SyncPlatform(ctx context.Context, userID string, provider models.Platform) (*Result, error) {
	started := time.Now()
	log := e.logger.With("user_id", userID, "platform", provider)

	conn, err := e.connections.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s connection for user", ErrConnectionUnavailable, provider)
		}
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if conn.Status != models.ConnectionActive {
		return nil, fmt.Errorf("%w: connection status is %s", ErrConnectionUnavailable, conn.Status)
	}

	client, ok := e.clients.Client(provider)
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for %s", ErrConnectionUnavailable, provider)
	}

	creds, err := e.tokens.Credentials(ctx, conn)
	if err != nil {
		return nil, e.failAuth(ctx, conn, err)
	}

	// A connection that has never discovered its catalog syncs everything
	// it can see; discovery runs up front so there is something to select.
	landscape := conn.Landscape
	if len(landscape.Resources) == 0 {
		fresh, err := client.Discover(ctx, creds)
		if err != nil {
			if platform.IsAuthError(err) {
				return nil, e.failAuth(ctx, conn, err)
			}
			return nil, fmt.Errorf("initial %s discovery failed: %w", provider, err)
		}
		if merged, err := e.connections.RefreshLandscape(ctx, conn.ID, fresh, e.nowFunc().UTC()); err != nil {
			log.Warn("Failed to persist initial landscape", "error", err)
		} else {
			landscape = *merged
		}
	}

	result := &Result{Provider: provider, PerResourceCounts: make(map[string]int)}
	sources := landscape.EffectiveSources()
	for _, resourceID := range sources {
		count, err := e.syncResource(ctx, client, creds, userID, resourceID)
		if err != nil {
			if platform.IsAuthError(err) {
				return result, e.failAuth(ctx, conn, err)
			}
			log.Warn("Resource sync failed", "resource_id", resourceID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", resourceID, err))
			if regErr := e.registry.RecordFailure(ctx, userID, provider, resourceID, err); regErr != nil {
				log.Warn("Failed to record sync failure", "resource_id", resourceID, "error", regErr)
			}
			continue
		}
		result.PerResourceCounts[resourceID] = count
		result.ItemsSynced += count
	}

	e.refreshLandscape(ctx, client, creds, conn, log)

	e.recorder.PlatformSynced(ctx, userID, activity.SyncedPayload{
		Platform:    provider,
		Resources:   len(sources),
		Items:       result.ItemsSynced,
		Failed:      len(result.Errors),
		PerResource: result.PerResourceCounts,
		DurationMS:  time.Since(started).Milliseconds(),
	})
	log.Info("Platform synced",
		"items", result.ItemsSynced,
		"resources", len(sources),
		"errors", len(result.Errors))
	return result, nil
}

// SyncResources pulls a specific subset of resources, used by the
// deliverable engine's bounded pre-run refresh of stale sources. No
// landscape refresh and no activity event; the registry still records.
func (e *Engine) SyncResources(ctx context.Context, userID string, provider models.Platform, resourceIDs []string) error {
	conn, err := e.connections.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}
	if conn.Status != models.ConnectionActive {
		return fmt.Errorf("%w: connection status is %s", ErrConnectionUnavailable, conn.Status)
	}
	client, ok := e.clients.Client(provider)
	if !ok {
		return fmt.Errorf("%w: no client registered for %s", ErrConnectionUnavailable, provider)
	}
	creds, err := e.tokens.Credentials(ctx, conn)
	if err != nil {
		return e.failAuth(ctx, conn, err)
	}

	var errs []error
	for _, resourceID := range resourceIDs {
		if _, err := e.syncResource(ctx, client, creds, userID, resourceID); err != nil {
			if platform.IsAuthError(err) {
				return e.failAuth(ctx, conn, err)
			}
			if regErr := e.registry.RecordFailure(ctx, userID, provider, resourceID, err); regErr != nil {
				e.logger.Warn("Failed to record sync failure", "resource_id", resourceID, "error", regErr)
			}
			errs = append(errs, fmt.Errorf("%s: %w", resourceID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) syncResource(ctx context.Context, client platform.Client, creds *platform.Credentials, userID, resourceID string) (int, error) {
	provider := client.Platform()
	now := e.nowFunc().UTC()

	opts := platform.FetchOptions{}
	switch provider {
	case models.PlatformSlack, models.PlatformGmail:
		opts.Since = now.Add(-time.Duration(e.cfg.LookbackWindow))
	case models.PlatformCalendar:
		// Incremental pulls ride the sync token from the last pass.
		if status, err := e.registry.Get(ctx, userID, provider, resourceID); err == nil {
			opts.Cursor = status.Cursor
		}
	}

	fetched, err := client.Fetch(ctx, creds, resourceID, opts)
	if err != nil {
		return 0, err
	}

	stored, storeErr := e.cache.StoreFetched(ctx, userID, fetched.Items)
	if storeErr != nil {
		// Partial batch success is progress, not failure; what stored is
		// recorded and the lost rows return on the next pull.
		e.logger.Warn("Some fetched items failed to store",
			"user_id", userID, "platform", provider, "resource_id", resourceID, "error", storeErr)
	}

	if err := e.registry.RecordSuccess(ctx, userID, provider, resourceID, now, stored, fetched.Cursor); err != nil {
		return stored, fmt.Errorf("failed to record sync success: %w", err)
	}
	return stored, nil
}

// refreshLandscape re-catalogs the provider after a sync cycle. The store
// re-reads selections inside the transaction, so user edits made during
// the sync survive the merge.
func (e *Engine) refreshLandscape(ctx context.Context, client platform.Client, creds *platform.Credentials, conn *models.PlatformConnection, log *slog.Logger) {
	fresh, err := client.Discover(ctx, creds)
	if err != nil {
		log.Warn("Post-sync landscape discovery failed", "error", err)
		return
	}
	if _, err := e.connections.RefreshLandscape(ctx, conn.ID, fresh, e.nowFunc().UTC()); err != nil {
		log.Warn("Failed to persist refreshed landscape", "error", err)
	}
}

// failAuth flips the connection into error state and emits the failure
// activity. The returned error keeps its auth classification.
func (e *Engine) failAuth(ctx context.Context, conn *models.PlatformConnection, cause error) error {
	status := models.ConnectionError
	if platform.IsAuthError(cause) {
		status = models.ConnectionExpired
	}
	if err := e.connections.UpdateStatus(ctx, conn.ID, status, cause.Error()); err != nil {
		e.logger.Error("Failed to mark connection after auth failure",
			"connection_id", conn.ID, "error", err)
	}
	e.recorder.PlatformSyncFailed(ctx, conn.UserID, activity.SyncFailedPayload{
		Platform: conn.Provider,
		Reason:   cause.Error(),
	})
	return fmt.Errorf("%s sync aborted: %w", conn.Provider, cause)
}
