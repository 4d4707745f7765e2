// Package scheduler drives the orchestrator: every tick it enumerates due
// syncs, signal passes, and deliverable runs, and feeds them through
// bounded per-phase worker pools. Cross-pod serialization rides advisory
// lock rows; a full queue sheds work instead of blocking the tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/deliverable"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/signal"
	"github.com/yarnnn/orchestrator/pkg/store"
	platformsync "github.com/yarnnn/orchestrator/pkg/sync"
)

// Lock scopes. One row per unit of in-flight work.
const (
	scopeSync        = "sync"
	scopeSignal      = "signal"
	scopeDeliverable = "deliverable"
)

// Users enumerates who has work to schedule.
type Users interface {
	ListWithActiveConnections(ctx context.Context) ([]models.UserSettings, error)
}

// Connections lists a user's connected platforms.
type Connections interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error)
}

// Registry reads per-platform sync recency for cadence decisions.
type Registry interface {
	LastSyncedAt(ctx context.Context, userID string, platform models.Platform) (time.Time, error)
}

// Activities reads the last signal pass time.
type Activities interface {
	GetLast(ctx context.Context, userID string, eventType models.ActivityType) (*models.ActivityEvent, error)
}

// Deliverables enumerates due runs.
type Deliverables interface {
	Get(ctx context.Context, deliverableID string) (*models.Deliverable, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Deliverable, error)
}

// Locks is the advisory lock surface.
type Locks interface {
	Acquire(ctx context.Context, scope, key, owner string, ttl time.Duration) error
	Release(ctx context.Context, scope, key, owner string) error
	ReleaseOwnedBy(ctx context.Context, owner string) (int, error)
	ReapExpired(ctx context.Context) (int, error)
}

// Tickets is the janitor's view of work tickets.
type Tickets interface {
	FindStuck(ctx context.Context, threshold time.Duration) ([]*models.WorkTicket, error)
	Finish(ctx context.Context, ticketID string, status models.TicketStatus, errMsg string) error
	FailOwnedBy(ctx context.Context, owner, reason string) (int, error)
}

// Versions lets the janitor fail the version a stuck ticket was producing.
type Versions interface {
	SetStatus(ctx context.Context, versionID string, status models.VersionStatus, errMsg string) error
}

// Syncer runs one platform pull.
type Syncer interface {
	SyncPlatform(ctx context.Context, userID string, provider models.Platform) (*platformsync.Result, error)
}

// SignalRunner runs one per-user signal pass.
type SignalRunner interface {
	Pass(ctx context.Context, userID string) error
}

// Runner executes one deliverable.
type Runner interface {
	Run(ctx context.Context, d *models.Deliverable, triggerContext string) error
}

// Events is the slice of the activity recorder the scheduler emits to.
type Events interface {
	SchedulerHeartbeat(ctx context.Context, payload activity.HeartbeatPayload)
	SchedulerDropped(ctx context.Context, userID string, payload activity.DroppedPayload)
}

var (
	_ Users        = (*store.UserSettingsStore)(nil)
	_ Connections  = (*store.ConnectionStore)(nil)
	_ Registry     = (*store.SyncRegistryStore)(nil)
	_ Activities   = (*store.ActivityStore)(nil)
	_ Deliverables = (*store.DeliverableStore)(nil)
	_ Locks        = (*store.LockStore)(nil)
	_ Tickets      = (*store.TicketStore)(nil)
	_ Versions     = (*store.VersionStore)(nil)
	_ Syncer       = (*platformsync.Engine)(nil)
	_ SignalRunner = (*signal.Orchestrator)(nil)
	_ Runner       = (*deliverable.Engine)(nil)
	_ Events       = (*activity.Recorder)(nil)
)

const dueDeliverablesPerTick = 100

type syncJob struct {
	userID   string
	platform models.Platform
}

type signalJob struct {
	userID string
}

type runJob struct {
	d *models.Deliverable
}

// Scheduler owns the tick loop, the three phase queues, and their workers.
type Scheduler struct {
	podID        string
	users        Users
	connections  Connections
	registry     Registry
	activities   Activities
	deliverables Deliverables
	locks        Locks
	tickets      Tickets
	versions     Versions
	syncer       Syncer
	signals      SignalRunner
	runner       Runner
	recorder     Events
	cfg          *config.SchedulerConfig
	syncCfg      *config.SyncConfig
	signalCfg    *config.SignalConfig

	syncQ   chan syncJob
	signalQ chan signalJob
	runQ    chan runJob

	ticks    atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool

	nowFunc func() time.Time
	logger  *slog.Logger
}

// New builds the scheduler. podID is this process's stable identity; it
// stamps locks and tickets so crash recovery can find its own leftovers.
func New(
	podID string,
	users Users,
	connections Connections,
	registry Registry,
	activities Activities,
	deliverables Deliverables,
	locks Locks,
	tickets Tickets,
	versions Versions,
	syncer Syncer,
	signals SignalRunner,
	runner Runner,
	recorder Events,
	cfg *config.SchedulerConfig,
	syncCfg *config.SyncConfig,
	signalCfg *config.SignalConfig,
) *Scheduler {
	return &Scheduler{
		podID:        podID,
		users:        users,
		connections:  connections,
		registry:     registry,
		activities:   activities,
		deliverables: deliverables,
		locks:        locks,
		tickets:      tickets,
		versions:     versions,
		syncer:       syncer,
		signals:      signals,
		runner:       runner,
		recorder:     recorder,
		cfg:          cfg,
		syncCfg:      syncCfg,
		signalCfg:    signalCfg,
		syncQ:        make(chan syncJob, cfg.SyncQueueSize),
		signalQ:      make(chan signalJob, cfg.SignalQueueSize),
		runQ:         make(chan runJob, cfg.DeliverableQueueSize),
		stopCh:       make(chan struct{}),
		nowFunc:      time.Now,
		logger:       slog.Default().With("component", "scheduler", "pod_id", podID),
	}
}

// Start recovers this pod's crashed leftovers, spawns the worker pools and
// the janitor, and begins ticking. Safe to call once; repeats are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("Scheduler already started, ignoring duplicate Start call")
		return
	}

	s.recoverOwn(ctx)

	for i := 0; i < s.cfg.SyncWorkers; i++ {
		s.spawn(func() { s.syncWorker(ctx) })
	}
	for i := 0; i < s.cfg.SignalWorkers; i++ {
		s.spawn(func() { s.signalWorker(ctx) })
	}
	for i := 0; i < s.cfg.DeliverableWorkers; i++ {
		s.spawn(func() { s.runWorker(ctx) })
	}
	s.spawn(func() { s.janitorLoop(ctx) })
	s.spawn(func() { s.tickLoop(ctx) })

	s.logger.Info("Scheduler started",
		"sync_workers", s.cfg.SyncWorkers,
		"signal_workers", s.cfg.SignalWorkers,
		"deliverable_workers", s.cfg.DeliverableWorkers)
}

// Stop signals every loop to finish its current unit and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.started.Store(false)
	s.logger.Info("Scheduler stopped")
}

// Health is a point-in-time snapshot for the health endpoint.
type Health struct {
	Running            bool  `json:"running"`
	Ticks              int64 `json:"ticks"`
	SyncQueued         int   `json:"sync_queued"`
	SignalQueued       int   `json:"signal_queued"`
	DeliverablesQueued int   `json:"deliverables_queued"`
}

// Health reports liveness and queue depths.
func (s *Scheduler) Health() Health {
	return Health{
		Running:            s.started.Load(),
		Ticks:              s.ticks.Load(),
		SyncQueued:         len(s.syncQ),
		SignalQueued:       len(s.signalQ),
		DeliverablesQueued: len(s.runQ),
	}
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.TickInterval))
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.nowFunc().UTC())
		}
	}
}

// Tick enumerates due work into the three phase queues and emits the
// heartbeat. Enumeration never blocks: full queues shed the unit with a
// scheduler_dropped event.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	tick := s.ticks.Add(1)

	users, err := s.users.ListWithActiveConnections(ctx)
	if err != nil {
		s.logger.Error("Tick enumeration failed", "error", err)
		return
	}

	for _, user := range users {
		s.enumerateSyncs(ctx, user, now)
		s.enumerateSignal(ctx, user.UserID, now)
	}
	s.enumerateRuns(ctx, now)

	s.recorder.SchedulerHeartbeat(ctx, activity.HeartbeatPayload{
		Owner:       s.podID,
		Tick:        tick,
		SyncQueue:   len(s.syncQ),
		SignalQueue: len(s.signalQ),
		RunQueue:    len(s.runQ),
	})
}

func (s *Scheduler) enumerateSyncs(ctx context.Context, user models.UserSettings, now time.Time) {
	conns, err := s.connections.ListActiveByUser(ctx, user.UserID)
	if err != nil {
		s.logger.Warn("Failed to list connections", "user_id", user.UserID, "error", err)
		return
	}

	cadence := models.CadenceForTier(user.Tier)
	loc := user.Location()
	for _, conn := range conns {
		lastSync, err := s.registry.LastSyncedAt(ctx, user.UserID, conn.Provider)
		if err != nil {
			s.logger.Warn("Failed to read sync recency",
				"user_id", user.UserID, "platform", conn.Provider, "error", err)
			continue
		}
		if !platformsync.ShouldSyncNow(cadence, loc, lastSync, now, s.syncCfg) {
			continue
		}

		job := syncJob{userID: user.UserID, platform: conn.Provider}
		select {
		case s.syncQ <- job:
		default:
			s.recorder.SchedulerDropped(ctx, user.UserID, activity.DroppedPayload{
				Phase: scopeSync,
				Key:   syncKey(user.UserID, conn.Provider),
			})
		}
	}
}

func (s *Scheduler) enumerateSignal(ctx context.Context, userID string, now time.Time) {
	last, err := s.activities.GetLast(ctx, userID, models.ActivitySignalProcessed)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Failed to read last signal pass", "user_id", userID, "error", err)
		return
	}
	if err == nil && now.Sub(last.CreatedAt) < time.Duration(s.signalCfg.Interval) {
		return
	}

	select {
	case s.signalQ <- signalJob{userID: userID}:
	default:
		s.recorder.SchedulerDropped(ctx, userID, activity.DroppedPayload{
			Phase: scopeSignal,
			Key:   userID,
		})
	}
}

func (s *Scheduler) enumerateRuns(ctx context.Context, now time.Time) {
	due, err := s.deliverables.ListDue(ctx, now, dueDeliverablesPerTick)
	if err != nil {
		s.logger.Error("Failed to list due deliverables", "error", err)
		return
	}
	for _, d := range due {
		select {
		case s.runQ <- runJob{d: d}:
		default:
			s.recorder.SchedulerDropped(ctx, d.UserID, activity.DroppedPayload{
				Phase: scopeDeliverable,
				Key:   d.ID,
			})
		}
	}
}

func (s *Scheduler) syncWorker(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case job := <-s.syncQ:
			s.processSync(ctx, job)
		}
	}
}

func (s *Scheduler) processSync(ctx context.Context, job syncJob) {
	s.withLock(ctx, scopeSync, syncKey(job.userID, job.platform),
		time.Duration(s.cfg.SyncLockTTL), func() {
			if _, err := s.syncer.SyncPlatform(ctx, job.userID, job.platform); err != nil {
				s.logger.Warn("Platform sync failed",
					"user_id", job.userID, "platform", job.platform, "error", err)
			}
		})
}

func (s *Scheduler) signalWorker(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case job := <-s.signalQ:
			s.processSignal(ctx, job)
		}
	}
}

func (s *Scheduler) processSignal(ctx context.Context, job signalJob) {
	s.withLock(ctx, scopeSignal, job.userID,
		time.Duration(s.cfg.SignalLockTTL), func() {
			if err := s.signals.Pass(ctx, job.userID); err != nil {
				s.logger.Warn("Signal pass failed", "user_id", job.userID, "error", err)
			}
		})
}

func (s *Scheduler) runWorker(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case job := <-s.runQ:
			s.processRun(ctx, job)
		}
	}
}

func (s *Scheduler) processRun(ctx context.Context, job runJob) {
	s.withLock(ctx, scopeDeliverable, job.d.ID,
		time.Duration(s.cfg.DeliverableLockTTL), func() {
			// Consecutive ticks can enqueue the same still-due deliverable
			// twice under backlog. Reload and re-check under the lock so the
			// second copy no-ops once the first run advanced the schedule.
			d, err := s.deliverables.Get(ctx, job.d.ID)
			if err != nil {
				s.logger.Warn("Failed to reload deliverable",
					"deliverable_id", job.d.ID, "error", err)
				return
			}
			if !d.Due(s.nowFunc().UTC()) {
				s.logger.Debug("Deliverable no longer due, skipping",
					"deliverable_id", d.ID)
				return
			}
			if err := s.runner.Run(ctx, d, ""); err != nil {
				s.logger.Warn("Deliverable run failed",
					"deliverable_id", d.ID, "error", err)
			}
		})
}

// withLock runs fn only if this acquisition takes the advisory lock;
// contention means another worker already has the unit and is not an error.
// The owner token is unique per acquisition, so two workers of the same pod
// contend exactly like workers of different pods.
func (s *Scheduler) withLock(ctx context.Context, scope, key string, ttl time.Duration, fn func()) {
	owner := s.podID + ":" + uuid.NewString()
	if err := s.locks.Acquire(ctx, scope, key, owner, ttl); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			s.logger.Debug("Lock held elsewhere", "scope", scope, "key", key)
		} else {
			s.logger.Warn("Lock acquire failed", "scope", scope, "key", key, "error", err)
		}
		return
	}
	defer func() {
		if err := s.locks.Release(ctx, scope, key, owner); err != nil {
			s.logger.Warn("Lock release failed", "scope", scope, "key", key, "error", err)
		}
	}()
	fn()
}

func syncKey(userID string, p models.Platform) string {
	return fmt.Sprintf("%s:%s", userID, p)
}
