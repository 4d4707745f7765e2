package deliverable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/agent"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/export"
	"github.com/yarnnn/orchestrator/pkg/models"
)

type fakeRows struct {
	items    []models.PlatformContent
	queryErr map[models.Platform]error
	retained []string
	ops      *[]string
}

func (f *fakeRows) UpsertBatch(ctx context.Context, items []models.PlatformContent) (int, error) {
	return len(items), nil
}

func (f *fakeRows) Query(ctx context.Context, q models.ContentQuery) ([]models.PlatformContent, error) {
	if err := f.queryErr[q.Platform]; err != nil {
		return nil, err
	}
	var out []models.PlatformContent
	for _, item := range f.items {
		if item.Platform == q.Platform {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeRows) GetByIDs(ctx context.Context, userID string, ids []string) ([]models.PlatformContent, error) {
	return nil, nil
}

func (f *fakeRows) Retain(ctx context.Context, userID string, ids []string) (int, error) {
	f.retained = append(f.retained, ids...)
	*f.ops = append(*f.ops, "retain")
	return len(ids), nil
}

func (f *fakeRows) CountNewSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeRows) PurgeExpired(ctx context.Context, grace time.Duration) (int, error) {
	return 0, nil
}

type completedRun struct {
	deliverableID string
	nextRunAt     *time.Time
}

type fakeDeliverables struct {
	completed []completedRun
}

func (f *fakeDeliverables) CompleteRun(ctx context.Context, deliverableID string, ranAt time.Time, nextRunAt *time.Time) error {
	f.completed = append(f.completed, completedRun{deliverableID, nextRunAt})
	return nil
}

type finalizedVersion struct {
	versionID   string
	status      models.VersionStatus
	deliveryLog []models.DeliveryRecord
	errMsg      string
	deliveredAt *time.Time
}

type fakeVersions struct {
	created   []*models.DeliverableVersion
	generated map[string]string
	finalized []finalizedVersion
	past      []*models.DeliverableVersion
	retainErr error
	ops       *[]string
}

func (f *fakeVersions) Create(ctx context.Context, v *models.DeliverableVersion) error {
	v.ID = "ver-1"
	v.VersionNumber = len(f.created) + 1
	f.created = append(f.created, v)
	return nil
}

func (f *fakeVersions) SetGenerated(ctx context.Context, versionID, content string, snapshots []models.SourceSnapshot) error {
	if f.generated == nil {
		f.generated = map[string]string{}
	}
	f.generated[versionID] = content
	*f.ops = append(*f.ops, "set_generated")
	return nil
}

func (f *fakeVersions) Finalize(ctx context.Context, versionID string, status models.VersionStatus, deliveryLog []models.DeliveryRecord, errMsg string, deliveredAt *time.Time) error {
	f.finalized = append(f.finalized, finalizedVersion{versionID, status, deliveryLog, errMsg, deliveredAt})
	*f.ops = append(*f.ops, "finalize")
	return nil
}

func (f *fakeVersions) ListByDeliverable(ctx context.Context, deliverableID string, limit int) ([]*models.DeliverableVersion, error) {
	return f.past, nil
}

type finishedTicket struct {
	ticketID string
	status   models.TicketStatus
	errMsg   string
}

type fakeTickets struct {
	created    []*models.WorkTicket
	owners     []string
	heartbeats int
	finished   []finishedTicket
}

func (f *fakeTickets) Create(ctx context.Context, t *models.WorkTicket) error {
	t.ID = "tkt-1"
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTickets) Start(ctx context.Context, ticketID, owner string) error {
	f.owners = append(f.owners, owner)
	return nil
}

func (f *fakeTickets) Heartbeat(ctx context.Context, ticketID string) error {
	f.heartbeats++
	return nil
}

func (f *fakeTickets) Finish(ctx context.Context, ticketID string, status models.TicketStatus, errMsg string) error {
	f.finished = append(f.finished, finishedTicket{ticketID, status, errMsg})
	return nil
}

type fakeUsers struct {
	user *models.UserSettings
}

func (f *fakeUsers) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	return f.user, nil
}

type fakeEngineConnections struct {
	conns map[models.Platform]*models.PlatformConnection
}

func (f *fakeEngineConnections) GetByUserAndProvider(ctx context.Context, userID string, provider models.Platform) (*models.PlatformConnection, error) {
	if c, ok := f.conns[provider]; ok {
		return c, nil
	}
	return nil, errors.New("no connection")
}

type fakeFreshness struct {
	statuses map[models.Platform][]*models.SyncStatus
}

func (f *fakeFreshness) ListByUserPlatform(ctx context.Context, userID string, platform models.Platform) ([]*models.SyncStatus, error) {
	return f.statuses[platform], nil
}

type resyncCall struct {
	platform    models.Platform
	resourceIDs []string
}

type fakeResyncer struct {
	calls []resyncCall
}

func (f *fakeResyncer) SyncResources(ctx context.Context, userID string, provider models.Platform, resourceIDs []string) error {
	f.calls = append(f.calls, resyncCall{provider, resourceIDs})
	return nil
}

type fakeGenerator struct {
	requests []*agent.GenerateRequest
	text     string
	err      error
}

func (f *fakeGenerator) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &agent.GenerateResult{Text: f.text}, nil
}

type fakeMemory struct {
	block string
}

func (f *fakeMemory) Assemble(ctx context.Context, userID string) (string, error) {
	return f.block, nil
}

type fakeExports struct {
	style    string
	status   models.VersionStatus
	records  []models.DeliveryRecord
	requests []export.Request
	dests    [][]models.Destination
	ops      *[]string
}

func (f *fakeExports) StyleContext(dests []models.Destination) string {
	if f.style == "" {
		return "email"
	}
	return f.style
}

func (f *fakeExports) Dispatch(ctx context.Context, dests []models.Destination, req export.Request) ([]models.DeliveryRecord, models.VersionStatus) {
	f.requests = append(f.requests, req)
	f.dests = append(f.dests, dests)
	*f.ops = append(*f.ops, "dispatch")
	return f.records, f.status
}

type failureNotice struct {
	to     string
	title  string
	reason string
}

type fakeNotifier struct {
	notices []failureNotice
}

func (f *fakeNotifier) SendFailureNotice(ctx context.Context, to, deliverableTitle, reason string) error {
	f.notices = append(f.notices, failureNotice{to, deliverableTitle, reason})
	return nil
}

type fakeRunEvents struct {
	payloads []activity.RunPayload
}

func (f *fakeRunEvents) DeliverableRun(ctx context.Context, userID string, payload activity.RunPayload) {
	f.payloads = append(f.payloads, payload)
}

type engineFixture struct {
	engine       *Engine
	rows         *fakeRows
	deliverables *fakeDeliverables
	versions     *fakeVersions
	tickets      *fakeTickets
	freshness    *fakeFreshness
	resyncer     *fakeResyncer
	generator    *fakeGenerator
	exports      *fakeExports
	notifier     *fakeNotifier
	recorder     *fakeRunEvents
	now          time.Time
	ops          []string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.rows = &fakeRows{ops: &f.ops}
	f.deliverables = &fakeDeliverables{}
	f.versions = &fakeVersions{ops: &f.ops}
	f.tickets = &fakeTickets{}
	f.freshness = &fakeFreshness{statuses: map[models.Platform][]*models.SyncStatus{}}
	f.resyncer = &fakeResyncer{}
	f.generator = &fakeGenerator{text: "Here is today's digest."}
	f.exports = &fakeExports{status: models.VersionDelivered, ops: &f.ops}
	f.notifier = &fakeNotifier{}
	f.recorder = &fakeRunEvents{}

	users := &fakeUsers{user: &models.UserSettings{
		UserID:   "user-1",
		Email:    "u@example.com",
		Timezone: "America/New_York",
	}}
	connections := &fakeEngineConnections{conns: map[models.Platform]*models.PlatformConnection{}}

	f.engine = NewEngine(
		f.deliverables, f.versions, f.tickets, users, connections,
		f.freshness, f.resyncer,
		content.NewCache(f.rows, config.DefaultSyncConfig()),
		f.generator, &fakeMemory{block: "# Working memory\nuser likes brevity"},
		f.exports, f.notifier, f.recorder,
		config.DefaultDeliverableConfig(), "pod-test",
	)
	f.engine.nowFunc = func() time.Time { return f.now }
	return f
}

func (f *engineFixture) freshPlatform(p models.Platform, resources ...string) {
	for _, r := range resources {
		f.freshness.statuses[p] = append(f.freshness.statuses[p], &models.SyncStatus{
			UserID:        "user-1",
			Platform:      p,
			ResourceID:    r,
			LastSyncedAt:  f.now.Add(-5 * time.Minute),
			LastItemCount: 3,
		})
	}
}

func (f *engineFixture) seedContent(p models.Platform, id, title string) {
	f.rows.items = append(f.rows.items, models.PlatformContent{
		ID:              id,
		UserID:          "user-1",
		Platform:        p,
		ResourceID:      "res-1",
		Title:           title,
		Body:            "body of " + title,
		SourceTimestamp: f.now.Add(-time.Hour),
	})
}

func slackDigest() *models.Deliverable {
	return &models.Deliverable{
		ID:     "dlv-1",
		UserID: "user-1",
		Title:  "Morning Slack digest",
		Prompt: "Summarize what happened in my channels.",
		Type: models.TypeClassification{
			Binding:                   models.BindingPlatformBound,
			PrimaryPlatform:           models.PlatformSlack,
			FreshnessRequirementHours: 24,
		},
		Schedule:     models.Schedule{Frequency: models.FreqDaily, Time: "07:00"},
		Destinations: []models.Destination{{Platform: "resend", Target: "u@example.com"}},
		Status:       models.DeliverableActive,
		Mode:         models.ModeAuto,
		TriggerType:  models.TriggerScheduled,
	}
}

func TestRunDeliversScheduledDigest(t *testing.T) {
	f := newEngineFixture(t)
	f.freshPlatform(models.PlatformSlack, "C123")
	f.seedContent(models.PlatformSlack, "row-1", "standup notes")
	f.seedContent(models.PlatformSlack, "row-2", "release thread")
	f.exports.records = []models.DeliveryRecord{
		{Destination: models.Destination{Platform: "resend"}, Status: models.DeliverySent},
	}

	err := f.engine.Run(context.Background(), slackDigest(), "")
	require.NoError(t, err)

	require.Len(t, f.versions.created, 1)
	assert.Equal(t, "Here is today's digest.", f.versions.generated["ver-1"])

	require.Len(t, f.versions.finalized, 1)
	final := f.versions.finalized[0]
	assert.Equal(t, models.VersionDelivered, final.status)
	assert.Empty(t, final.errMsg)
	require.NotNil(t, final.deliveredAt)

	// Consumed rows must be retained before the version reaches a
	// terminal state.
	assert.Equal(t, []string{"retain", "set_generated", "dispatch", "finalize"}, f.ops)
	assert.ElementsMatch(t, []string{"row-1", "row-2"}, f.rows.retained)

	require.Len(t, f.tickets.finished, 1)
	assert.Equal(t, models.TicketCompleted, f.tickets.finished[0].status)
	assert.Equal(t, []string{"pod-test"}, f.tickets.owners)

	require.Len(t, f.deliverables.completed, 1)
	next := f.deliverables.completed[0].nextRunAt
	require.NotNil(t, next)
	assert.True(t, next.After(f.now))

	require.Len(t, f.recorder.payloads, 1)
	assert.Equal(t, models.VersionDelivered, f.recorder.payloads[0].Status)
	assert.Equal(t, 1, f.recorder.payloads[0].Delivered)
	assert.Empty(t, f.notifier.notices)
}

func TestRunFallsBackToUserEmail(t *testing.T) {
	f := newEngineFixture(t)
	f.freshPlatform(models.PlatformSlack, "C123")
	f.seedContent(models.PlatformSlack, "row-1", "standup notes")
	f.exports.records = []models.DeliveryRecord{
		{Destination: models.Destination{Platform: "resend"}, Status: models.DeliverySent},
	}

	d := slackDigest()
	d.Destinations = nil
	require.NoError(t, f.engine.Run(context.Background(), d, ""))

	require.Len(t, f.exports.dests, 1)
	require.Len(t, f.exports.dests[0], 1)
	assert.Equal(t, models.Destination{Platform: "resend", Target: "u@example.com"}, f.exports.dests[0][0])
}

func TestRunPartialDeliveryStillCompletes(t *testing.T) {
	f := newEngineFixture(t)
	f.freshPlatform(models.PlatformSlack, "C123")
	f.seedContent(models.PlatformSlack, "row-1", "standup notes")
	f.exports.status = models.VersionPartial
	f.exports.records = []models.DeliveryRecord{
		{Destination: models.Destination{Platform: "resend"}, Status: models.DeliverySent},
		{Destination: models.Destination{Platform: "slack"}, Status: models.DeliveryFailed, Detail: "channel_not_found"},
	}

	err := f.engine.Run(context.Background(), slackDigest(), "")
	require.NoError(t, err)

	final := f.versions.finalized[0]
	assert.Equal(t, models.VersionPartial, final.status)
	assert.Contains(t, final.errMsg, "channel_not_found")
	assert.NotNil(t, final.deliveredAt)
	assert.Equal(t, models.TicketCompleted, f.tickets.finished[0].status)
	assert.Empty(t, f.notifier.notices)
}

func TestRunFailedDeliveryNotifiesSemiAuto(t *testing.T) {
	f := newEngineFixture(t)
	f.freshPlatform(models.PlatformSlack, "C123")
	f.seedContent(models.PlatformSlack, "row-1", "standup notes")
	f.exports.status = models.VersionFailed
	f.exports.records = []models.DeliveryRecord{
		{Destination: models.Destination{Platform: "notion"}, Status: models.DeliveryFailed, Detail: "unauthorized"},
	}

	d := slackDigest()
	d.Mode = models.ModeSemiAuto
	err := f.engine.Run(context.Background(), d, "")
	require.Error(t, err)

	final := f.versions.finalized[0]
	assert.Equal(t, models.VersionFailed, final.status)
	assert.Nil(t, final.deliveredAt)
	assert.Equal(t, models.TicketFailed, f.tickets.finished[0].status)

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "u@example.com", f.notifier.notices[0].to)
	assert.Contains(t, f.notifier.notices[0].reason, "unauthorized")

	// The schedule still advances so the deliverable does not hammer
	// every tick.
	require.Len(t, f.deliverables.completed, 1)
	assert.NotNil(t, f.deliverables.completed[0].nextRunAt)
}

func TestRunGenerationFailureLeavesFailedVersion(t *testing.T) {
	f := newEngineFixture(t)
	f.freshPlatform(models.PlatformSlack, "C123")
	f.seedContent(models.PlatformSlack, "row-1", "standup notes")
	f.generator.err = agent.ErrEmptyGeneration

	err := f.engine.Run(context.Background(), slackDigest(), "")
	require.Error(t, err)

	require.Len(t, f.versions.finalized, 1)
	assert.Equal(t, models.VersionFailed, f.versions.finalized[0].status)
	assert.Equal(t, models.TicketFailed, f.tickets.finished[0].status)
	assert.Empty(t, f.exports.requests)
	assert.Empty(t, f.rows.retained)
	require.Len(t, f.deliverables.completed, 1)

	require.Len(t, f.recorder.payloads, 1)
	assert.Equal(t, models.VersionFailed, f.recorder.payloads[0].Status)
}

func TestCheckFreshnessResyncsBoundedStaleSources(t *testing.T) {
	f := newEngineFixture(t)
	stale := f.now.Add(-3 * time.Hour)
	f.freshness.statuses[models.PlatformSlack] = []*models.SyncStatus{
		{Platform: models.PlatformSlack, ResourceID: "C1", LastSyncedAt: stale},
	}
	f.freshness.statuses[models.PlatformGmail] = []*models.SyncStatus{
		{Platform: models.PlatformGmail, ResourceID: "INBOX", LastSyncedAt: stale},
	}

	d := slackDigest()
	d.Type = models.TypeClassification{
		Binding:                   models.BindingCrossPlatform,
		Platforms:                 []models.Platform{models.PlatformSlack, models.PlatformGmail},
		FreshnessRequirementHours: 1,
	}
	f.engine.cfg.MaxTargetedResyncs = 1

	snapshots := f.engine.checkFreshness(context.Background(), d)

	// Budget of one: only the first stale platform is re-pulled, the
	// second stays flagged on its snapshot.
	require.Len(t, f.resyncer.calls, 1)
	assert.Equal(t, models.PlatformSlack, f.resyncer.calls[0].platform)
	assert.Equal(t, []string{"C1"}, f.resyncer.calls[0].resourceIDs)

	require.Len(t, snapshots, 2)
	assert.Equal(t, models.PlatformGmail, snapshots[1].Platform)
	assert.True(t, snapshots[1].Stale)
}

func TestRunGatesWebSearchByBinding(t *testing.T) {
	f := newEngineFixture(t)
	f.exports.records = []models.DeliveryRecord{
		{Destination: models.Destination{Platform: "resend"}, Status: models.DeliverySent},
	}

	d := slackDigest()
	d.Type = models.TypeClassification{
		Binding:           models.BindingResearch,
		ResearchDirective: "Track funding rounds in the LLM tooling space.",
	}
	require.NoError(t, f.engine.Run(context.Background(), d, ""))

	require.Len(t, f.generator.requests, 1)
	assert.Contains(t, f.generator.requests[0].Tools, agent.ToolWebSearch)
	assert.Contains(t, f.generator.requests[0].System, "Track funding rounds")

	f2 := newEngineFixture(t)
	f2.freshPlatform(models.PlatformSlack, "C123")
	f2.seedContent(models.PlatformSlack, "row-1", "standup notes")
	f2.exports.records = f.exports.records
	require.NoError(t, f2.engine.Run(context.Background(), slackDigest(), ""))
	require.Len(t, f2.generator.requests, 1)
	assert.NotContains(t, f2.generator.requests[0].Tools, agent.ToolWebSearch)
}

func TestRunCarriesTriggerContextIntoPrompt(t *testing.T) {
	f := newEngineFixture(t)
	f.freshPlatform(models.PlatformSlack, "C123")
	f.seedContent(models.PlatformSlack, "row-1", "incident thread")
	f.exports.records = []models.DeliveryRecord{
		{Destination: models.Destination{Platform: "resend"}, Status: models.DeliverySent},
	}

	reasoning := "Spike of incident chatter in #ops over the last hour."
	require.NoError(t, f.engine.Run(context.Background(), slackDigest(), reasoning))

	require.Len(t, f.generator.requests, 1)
	assert.Contains(t, f.generator.requests[0].System, reasoning)
	assert.Equal(t, reasoning, f.versions.created[0].TriggerContext)
}
