// Package cleanup enforces data retention: expired cache rows are
// physically deleted after a grace period, and old activity and signal
// history is trimmed.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// History is the trimmable log surface.
type History interface {
	Trim(ctx context.Context, olderThan time.Time) (int, error)
}

var (
	_ History = (*store.ActivityStore)(nil)
	_ History = (*store.SignalStore)(nil)
)

// Service runs the periodic retention loop. All operations are idempotent
// and safe to run from multiple pods at once.
type Service struct {
	config   *config.RetentionConfig
	cache    *content.Cache
	activity History
	signals  History

	nowFunc func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService creates the retention service.
func NewService(cfg *config.RetentionConfig, cache *content.Cache, activity, signals History) *Service {
	return &Service{
		config:   cfg,
		cache:    cache,
		activity: activity,
		signals:  signals,
		nowFunc:  time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"content_grace", time.Duration(s.config.ContentGrace),
		"activity_ttl", time.Duration(s.config.ActivityTTL),
		"interval", time.Duration(s.config.CleanupInterval))
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(time.Duration(s.config.CleanupInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeExpiredContent(ctx)
	s.trimHistory(ctx)
}

// purgeExpiredContent deletes unretained cache rows whose TTL plus the
// grace window has passed. Retained rows are never touched.
func (s *Service) purgeExpiredContent(ctx context.Context) {
	count, err := s.cache.PurgeExpired(ctx, time.Duration(s.config.ContentGrace))
	if err != nil {
		slog.Error("Retention: content purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged expired content rows", "count", count)
	}
}

func (s *Service) trimHistory(ctx context.Context) {
	cutoff := s.nowFunc().UTC().Add(-time.Duration(s.config.ActivityTTL))

	count, err := s.activity.Trim(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: activity trim failed", "error", err)
	} else if count > 0 {
		slog.Info("Retention: trimmed activity log", "count", count)
	}

	count, err = s.signals.Trim(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: signal history trim failed", "error", err)
	} else if count > 0 {
		slog.Info("Retention: trimmed signal history", "count", count)
	}
}
