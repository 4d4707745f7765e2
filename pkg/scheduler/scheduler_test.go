package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
	platformsync "github.com/yarnnn/orchestrator/pkg/sync"
)

type fakeSchedUsers struct {
	users []models.UserSettings
}

func (f *fakeSchedUsers) ListWithActiveConnections(ctx context.Context) ([]models.UserSettings, error) {
	return f.users, nil
}

type fakeSchedConnections struct {
	byUser map[string][]models.Platform
}

func (f *fakeSchedConnections) ListActiveByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error) {
	var out []*models.PlatformConnection
	for _, p := range f.byUser[userID] {
		out = append(out, &models.PlatformConnection{
			UserID:   userID,
			Provider: p,
			Status:   models.ConnectionActive,
		})
	}
	return out, nil
}

type fakeSchedRegistry struct {
	lastSync map[string]time.Time // user:platform
}

func (f *fakeSchedRegistry) LastSyncedAt(ctx context.Context, userID string, platform models.Platform) (time.Time, error) {
	return f.lastSync[syncKey(userID, platform)], nil
}

type fakeSchedActivities struct {
	lastSignal map[string]time.Time
}

func (f *fakeSchedActivities) GetLast(ctx context.Context, userID string, eventType models.ActivityType) (*models.ActivityEvent, error) {
	at, ok := f.lastSignal[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.ActivityEvent{UserID: userID, EventType: eventType, CreatedAt: at}, nil
}

type fakeSchedDeliverables struct {
	due  []*models.Deliverable
	byID map[string]*models.Deliverable
}

func (f *fakeSchedDeliverables) Get(ctx context.Context, deliverableID string) (*models.Deliverable, error) {
	if d, ok := f.byID[deliverableID]; ok {
		return d, nil
	}
	for _, d := range f.due {
		if d.ID == deliverableID {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSchedDeliverables) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Deliverable, error) {
	return f.due, nil
}

type lockOp struct {
	scope, key string
}

// fakeLocks mirrors the store's conflict rule: a different live owner means
// ErrLockHeld, the same owner re-acquires freely.
type fakeLocks struct {
	held          map[string]string // scope/key → owner
	acquired      []lockOp
	released      []lockOp
	reaped        int
	releasedOwned int
}

func (f *fakeLocks) Acquire(ctx context.Context, scope, key, owner string, ttl time.Duration) error {
	k := scope + "/" + key
	if cur, ok := f.held[k]; ok && cur != owner {
		return store.ErrLockHeld
	}
	f.held[k] = owner
	f.acquired = append(f.acquired, lockOp{scope, key})
	return nil
}

func (f *fakeLocks) Release(ctx context.Context, scope, key, owner string) error {
	k := scope + "/" + key
	if f.held[k] == owner {
		delete(f.held, k)
	}
	f.released = append(f.released, lockOp{scope, key})
	return nil
}

func (f *fakeLocks) ReleaseOwnedBy(ctx context.Context, owner string) (int, error) {
	f.releasedOwned++
	return 1, nil
}

func (f *fakeLocks) ReapExpired(ctx context.Context) (int, error) {
	f.reaped++
	return 0, nil
}

type fakeSchedTickets struct {
	stuck       []*models.WorkTicket
	finished    []string
	failedOwned []string
}

func (f *fakeSchedTickets) FindStuck(ctx context.Context, threshold time.Duration) ([]*models.WorkTicket, error) {
	return f.stuck, nil
}

func (f *fakeSchedTickets) Finish(ctx context.Context, ticketID string, status models.TicketStatus, errMsg string) error {
	f.finished = append(f.finished, ticketID)
	return nil
}

func (f *fakeSchedTickets) FailOwnedBy(ctx context.Context, owner, reason string) (int, error) {
	f.failedOwned = append(f.failedOwned, owner)
	return 2, nil
}

type fakeSchedVersions struct {
	statusSet []string
}

func (f *fakeSchedVersions) SetStatus(ctx context.Context, versionID string, status models.VersionStatus, errMsg string) error {
	f.statusSet = append(f.statusSet, versionID)
	return nil
}

type fakeSyncer struct {
	synced []lockOp // userID, platform
}

func (f *fakeSyncer) SyncPlatform(ctx context.Context, userID string, provider models.Platform) (*platformsync.Result, error) {
	f.synced = append(f.synced, lockOp{userID, string(provider)})
	return &platformsync.Result{Provider: provider}, nil
}

type fakeSignalRunner struct {
	passes []string
}

func (f *fakeSignalRunner) Pass(ctx context.Context, userID string) error {
	f.passes = append(f.passes, userID)
	return nil
}

type fakeRunRunner struct {
	runs  []string
	onRun func(d *models.Deliverable)
}

func (f *fakeRunRunner) Run(ctx context.Context, d *models.Deliverable, triggerContext string) error {
	f.runs = append(f.runs, d.ID)
	if f.onRun != nil {
		f.onRun(d)
	}
	return nil
}

type fakeSchedEvents struct {
	heartbeats []activity.HeartbeatPayload
	dropped    []activity.DroppedPayload
}

func (f *fakeSchedEvents) SchedulerHeartbeat(ctx context.Context, payload activity.HeartbeatPayload) {
	f.heartbeats = append(f.heartbeats, payload)
}

func (f *fakeSchedEvents) SchedulerDropped(ctx context.Context, userID string, payload activity.DroppedPayload) {
	f.dropped = append(f.dropped, payload)
}

type schedFixture struct {
	sched        *Scheduler
	users        *fakeSchedUsers
	connections  *fakeSchedConnections
	registry     *fakeSchedRegistry
	activities   *fakeSchedActivities
	deliverables *fakeSchedDeliverables
	locks        *fakeLocks
	tickets      *fakeSchedTickets
	versions     *fakeSchedVersions
	syncer       *fakeSyncer
	signals      *fakeSignalRunner
	runner       *fakeRunRunner
	recorder     *fakeSchedEvents
	now          time.Time
}

func newSchedFixture(t *testing.T, cfg *config.SchedulerConfig) *schedFixture {
	t.Helper()
	f := &schedFixture{
		// Mid-morning UTC, inside the hourly cadence day.
		now:          time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		users:        &fakeSchedUsers{},
		connections:  &fakeSchedConnections{byUser: map[string][]models.Platform{}},
		registry:     &fakeSchedRegistry{lastSync: map[string]time.Time{}},
		activities:   &fakeSchedActivities{lastSignal: map[string]time.Time{}},
		deliverables: &fakeSchedDeliverables{},
		locks:        &fakeLocks{held: map[string]string{}},
		tickets:      &fakeSchedTickets{},
		versions:     &fakeSchedVersions{},
		syncer:       &fakeSyncer{},
		signals:      &fakeSignalRunner{},
		runner:       &fakeRunRunner{},
		recorder:     &fakeSchedEvents{},
	}
	if cfg == nil {
		cfg = config.DefaultSchedulerConfig()
	}
	f.sched = New("pod-a",
		f.users, f.connections, f.registry, f.activities, f.deliverables,
		f.locks, f.tickets, f.versions,
		f.syncer, f.signals, f.runner, f.recorder,
		cfg, config.DefaultSyncConfig(), config.DefaultSignalConfig(),
	)
	f.sched.nowFunc = func() time.Time { return f.now }
	return f
}

func (f *schedFixture) addUser(userID string, tier models.Tier, platforms ...models.Platform) {
	f.users.users = append(f.users.users, models.UserSettings{
		UserID: userID, Email: userID + "@example.com", Tier: tier, Timezone: "UTC",
	})
	f.connections.byUser[userID] = platforms
}

// drain pulls everything Tick enqueued through the worker bodies without
// starting the goroutine pools.
func (f *schedFixture) drain(ctx context.Context) {
	for {
		select {
		case job := <-f.sched.syncQ:
			f.sched.processSync(ctx, job)
		case job := <-f.sched.signalQ:
			f.sched.processSignal(ctx, job)
		case job := <-f.sched.runQ:
			f.sched.processRun(ctx, job)
		default:
			return
		}
	}
}

// dueDeliverable builds an active scheduled deliverable whose next run has
// just passed.
func dueDeliverable(id string, now time.Time) *models.Deliverable {
	next := now.Add(-time.Minute)
	return &models.Deliverable{
		ID:          id,
		UserID:      "user-1",
		Status:      models.DeliverableActive,
		TriggerType: models.TriggerScheduled,
		NextRunAt:   &next,
	}
}

func TestTickEnqueuesDueSyncs(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.addUser("user-1", models.TierPro, models.PlatformSlack, models.PlatformGmail)
	// Slack synced two hours ago (due on hourly cadence), gmail ten
	// minutes ago (inside the minimum gap).
	f.registry.lastSync[syncKey("user-1", models.PlatformSlack)] = f.now.Add(-2 * time.Hour)
	f.registry.lastSync[syncKey("user-1", models.PlatformGmail)] = f.now.Add(-10 * time.Minute)

	f.sched.Tick(context.Background(), f.now)
	f.drain(context.Background())

	require.Len(t, f.syncer.synced, 1)
	assert.Equal(t, "user-1", f.syncer.synced[0].scope)
	assert.Equal(t, "slack", f.syncer.synced[0].key)
}

func TestTickEnqueuesSignalPassWhenIntervalElapsed(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.addUser("user-1", models.TierPro, models.PlatformSlack)
	f.addUser("user-2", models.TierPro, models.PlatformSlack)
	// user-1 never had a pass; user-2 had one an hour ago (interval 6h).
	f.activities.lastSignal["user-2"] = f.now.Add(-time.Hour)

	f.sched.Tick(context.Background(), f.now)
	f.drain(context.Background())

	assert.Equal(t, []string{"user-1"}, f.signals.passes)
}

func TestTickEnqueuesDueDeliverables(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.deliverables.due = []*models.Deliverable{
		dueDeliverable("dlv-1", f.now),
		dueDeliverable("dlv-2", f.now),
	}

	f.sched.Tick(context.Background(), f.now)
	f.drain(context.Background())

	assert.Equal(t, []string{"dlv-1", "dlv-2"}, f.runner.runs)
}

func TestTickEmitsHeartbeatWithQueueDepths(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.deliverables.due = []*models.Deliverable{dueDeliverable("dlv-1", f.now)}

	f.sched.Tick(context.Background(), f.now)

	require.Len(t, f.recorder.heartbeats, 1)
	hb := f.recorder.heartbeats[0]
	assert.Equal(t, "pod-a", hb.Owner)
	assert.Equal(t, int64(1), hb.Tick)
	assert.Equal(t, 1, hb.RunQueue)
}

func TestTickShedsWorkWhenQueueFull(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	cfg.DeliverableQueueSize = 1
	f := newSchedFixture(t, cfg)
	f.deliverables.due = []*models.Deliverable{
		dueDeliverable("dlv-1", f.now),
		dueDeliverable("dlv-2", f.now),
	}

	f.sched.Tick(context.Background(), f.now)

	require.Len(t, f.recorder.dropped, 1)
	assert.Equal(t, scopeDeliverable, f.recorder.dropped[0].Phase)
	assert.Equal(t, "dlv-2", f.recorder.dropped[0].Key)
}

func TestWithLockSkipsHeldUnits(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.locks.held[scopeDeliverable+"/dlv-1"] = "pod-b:some-token"

	ran := false
	f.sched.withLock(context.Background(), scopeDeliverable, "dlv-1", time.Minute, func() {
		ran = true
	})

	assert.False(t, ran)
	assert.Empty(t, f.locks.acquired)
	assert.Empty(t, f.locks.released)
}

func TestWithLockSerializesSameUnitWithinPod(t *testing.T) {
	f := newSchedFixture(t, nil)

	outer := false
	inner := false
	f.sched.withLock(context.Background(), scopeDeliverable, "dlv-1", time.Minute, func() {
		outer = true
		// A second worker of the same pod acquiring the same unit must
		// contend, not piggyback on the pod identity.
		f.sched.withLock(context.Background(), scopeDeliverable, "dlv-1", time.Minute, func() {
			inner = true
		})
	})

	assert.True(t, outer)
	assert.False(t, inner)
}

func TestWithLockReleasesAfterWork(t *testing.T) {
	f := newSchedFixture(t, nil)

	ran := false
	f.sched.withLock(context.Background(), scopeSignal, "user-1", time.Minute, func() {
		ran = true
	})

	assert.True(t, ran)
	assert.Equal(t, []lockOp{{scopeSignal, "user-1"}}, f.locks.acquired)
	assert.Equal(t, []lockOp{{scopeSignal, "user-1"}}, f.locks.released)
}

func TestProcessRunSkipsJobNoLongerDue(t *testing.T) {
	f := newSchedFixture(t, nil)
	queued := dueDeliverable("dlv-1", f.now)
	// By the time the job reaches a worker, another run already advanced
	// the schedule.
	stored := dueDeliverable("dlv-1", f.now)
	future := f.now.Add(time.Hour)
	stored.NextRunAt = &future
	f.deliverables.byID = map[string]*models.Deliverable{"dlv-1": stored}

	f.sched.processRun(context.Background(), runJob{d: queued})

	assert.Empty(t, f.runner.runs)
}

func TestDuplicateQueuedRunsExecuteOnce(t *testing.T) {
	f := newSchedFixture(t, nil)
	d := dueDeliverable("dlv-1", f.now)
	f.deliverables.byID = map[string]*models.Deliverable{"dlv-1": d}
	// A completed run advances the schedule the way CompleteRun does.
	f.runner.onRun = func(ran *models.Deliverable) {
		next := f.now.Add(24 * time.Hour)
		ran.NextRunAt = &next
	}

	// Two consecutive ticks enqueued the same still-due deliverable.
	f.sched.processRun(context.Background(), runJob{d: d})
	f.sched.processRun(context.Background(), runJob{d: d})

	assert.Equal(t, []string{"dlv-1"}, f.runner.runs)
}

func TestJanitorRecoversStuckTickets(t *testing.T) {
	f := newSchedFixture(t, nil)
	f.tickets.stuck = []*models.WorkTicket{
		{ID: "tkt-1", VersionID: "ver-1", Owner: "pod-gone"},
	}

	f.sched.runJanitor(context.Background())

	assert.Equal(t, []string{"tkt-1"}, f.tickets.finished)
	assert.Equal(t, []string{"ver-1"}, f.versions.statusSet)
	assert.Equal(t, 1, f.locks.reaped)
}

func TestRecoverOwnClearsThisPodsLeftovers(t *testing.T) {
	f := newSchedFixture(t, nil)

	f.sched.recoverOwn(context.Background())

	assert.Equal(t, []string{"pod-a"}, f.tickets.failedOwned)
	assert.Equal(t, 1, f.locks.releasedOwned)
}
