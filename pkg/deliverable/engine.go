// Package deliverable runs due deliverables end to end: freshness check,
// strategy-based gathering, bounded agent generation, retention, delivery,
// and rescheduling.
package deliverable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/agent"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/export"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// Deliverables is the slice of the deliverable store the engine writes.
type Deliverables interface {
	CompleteRun(ctx context.Context, deliverableID string, ranAt time.Time, nextRunAt *time.Time) error
}

// Versions is the version lifecycle surface.
type Versions interface {
	Create(ctx context.Context, v *models.DeliverableVersion) error
	SetGenerated(ctx context.Context, versionID, content string, snapshots []models.SourceSnapshot) error
	Finalize(ctx context.Context, versionID string, status models.VersionStatus, deliveryLog []models.DeliveryRecord, errMsg string, deliveredAt *time.Time) error
	ListByDeliverable(ctx context.Context, deliverableID string, limit int) ([]*models.DeliverableVersion, error)
}

// Tickets is the work-ticket surface.
type Tickets interface {
	Create(ctx context.Context, t *models.WorkTicket) error
	Start(ctx context.Context, ticketID, owner string) error
	Heartbeat(ctx context.Context, ticketID string) error
	Finish(ctx context.Context, ticketID string, status models.TicketStatus, errMsg string) error
}

// Users reads user settings for delivery fallback and timezone.
type Users interface {
	Get(ctx context.Context, userID string) (*models.UserSettings, error)
}

// Connections resolves which resources a platform syncs.
type Connections interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider models.Platform) (*models.PlatformConnection, error)
}

// Freshness reads per-resource sync state.
type Freshness interface {
	ListByUserPlatform(ctx context.Context, userID string, platform models.Platform) ([]*models.SyncStatus, error)
}

// Resyncer pulls a bounded subset of stale sources before gathering.
type Resyncer interface {
	SyncResources(ctx context.Context, userID string, provider models.Platform, resourceIDs []string) error
}

// Generator is the bounded agent loop.
type Generator interface {
	Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResult, error)
}

// Memory assembles the working-memory block for the system prompt.
type Memory interface {
	Assemble(ctx context.Context, userID string) (string, error)
}

// Exports dispatches delivery and names the style register.
type Exports interface {
	StyleContext(dests []models.Destination) string
	Dispatch(ctx context.Context, dests []models.Destination, req export.Request) ([]models.DeliveryRecord, models.VersionStatus)
}

// Notifier tells the user when a delivery failed outright.
type Notifier interface {
	SendFailureNotice(ctx context.Context, to, deliverableTitle, reason string) error
}

// Events is the slice of the activity recorder the engine emits to.
type Events interface {
	DeliverableRun(ctx context.Context, userID string, payload activity.RunPayload)
}

var (
	_ Deliverables = (*store.DeliverableStore)(nil)
	_ Versions     = (*store.VersionStore)(nil)
	_ Tickets      = (*store.TicketStore)(nil)
	_ Users        = (*store.UserSettingsStore)(nil)
	_ Connections  = (*store.ConnectionStore)(nil)
	_ Freshness    = (*store.SyncRegistryStore)(nil)
	_ Events       = (*activity.Recorder)(nil)
	_ Notifier     = (*export.ResendExporter)(nil)
)

// Engine executes one deliverable run at a time. The scheduler holds the
// per-deliverable lock; the engine assumes it is the only writer for the
// deliverable while Run is in flight.
type Engine struct {
	deliverables Deliverables
	versions     Versions
	tickets      Tickets
	users        Users
	connections  Connections
	freshness    Freshness
	resyncer     Resyncer
	cache        *content.Cache
	generator    Generator
	memory       Memory
	exports      Exports
	notifier     Notifier
	recorder     Events
	cfg          *config.DeliverableConfig
	owner        string // pod identity stamped on tickets
	nowFunc      func() time.Time
	logger       *slog.Logger
}

// NewEngine builds the execution engine.
func NewEngine(
	deliverables Deliverables,
	versions Versions,
	tickets Tickets,
	users Users,
	connections Connections,
	freshness Freshness,
	resyncer Resyncer,
	cache *content.Cache,
	generator Generator,
	memory Memory,
	exports Exports,
	notifier Notifier,
	recorder Events,
	cfg *config.DeliverableConfig,
	owner string,
) *Engine {
	return &Engine{
		deliverables: deliverables,
		versions:     versions,
		tickets:      tickets,
		users:        users,
		connections:  connections,
		freshness:    freshness,
		resyncer:     resyncer,
		cache:        cache,
		generator:    generator,
		memory:       memory,
		exports:      exports,
		notifier:     notifier,
		recorder:     recorder,
		cfg:          cfg,
		owner:        owner,
		nowFunc:      time.Now,
		logger:       slog.Default().With("component", "deliverable-engine"),
	}
}

// Run executes one deliverable to a terminal version state. triggerContext
// carries the signal reasoning when a signal started this run; empty for
// scheduled runs. The schedule always advances, success or not, so a
// broken deliverable cannot busy-loop.
func (e *Engine) Run(ctx context.Context, d *models.Deliverable, triggerContext string) error {
	started := e.nowFunc().UTC()
	log := e.logger.With("deliverable_id", d.ID, "user_id", d.UserID)

	user, err := e.users.Get(ctx, d.UserID)
	if err != nil {
		e.finishWithoutVersion(ctx, d, started, fmt.Errorf("failed to load user: %w", err))
		return fmt.Errorf("failed to load user %s: %w", d.UserID, err)
	}

	snapshots := e.checkFreshness(ctx, d)

	gathered, err := e.gather(ctx, d)
	if err != nil {
		e.finishWithoutVersion(ctx, d, started, err)
		return fmt.Errorf("context gathering failed: %w", err)
	}

	version := &models.DeliverableVersion{
		DeliverableID:  d.ID,
		UserID:         d.UserID,
		Status:         models.VersionGenerating,
		TriggerContext: triggerContext,
	}
	if err := e.versions.Create(ctx, version); err != nil {
		e.finishWithoutVersion(ctx, d, started, err)
		return fmt.Errorf("failed to create version: %w", err)
	}

	ticket := &models.WorkTicket{
		UserID:        d.UserID,
		DeliverableID: d.ID,
		VersionID:     version.ID,
		Status:        models.TicketPending,
	}
	if err := e.tickets.Create(ctx, ticket); err != nil {
		return e.failRun(ctx, d, version, "", started, fmt.Errorf("failed to create work ticket: %w", err))
	}
	if err := e.tickets.Start(ctx, ticket.ID, e.owner); err != nil {
		log.Warn("Failed to start ticket", "ticket_id", ticket.ID, "error", err)
	}

	destinations := e.normalizeDestinations(d, user)
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go e.heartbeatTicket(hbCtx, ticket.ID)
	draft, genErr := e.generate(ctx, d, user, gathered, destinations, triggerContext)
	stopHeartbeat()
	if genErr != nil {
		return e.failRun(ctx, d, version, ticket.ID, started, fmt.Errorf("generation failed: %w", genErr))
	}

	// Retention comes before any terminal state: a delivered version must
	// never reference rows the cache can still expire.
	if _, err := e.cache.Retain(ctx, d.UserID, gathered.ContentIDs); err != nil {
		return e.failRun(ctx, d, version, ticket.ID, started, fmt.Errorf("failed to retain content: %w", err))
	}
	if err := e.versions.SetGenerated(ctx, version.ID, draft, snapshots); err != nil {
		return e.failRun(ctx, d, version, ticket.ID, started, fmt.Errorf("failed to persist draft: %w", err))
	}

	deliveryLog, status := e.exports.Dispatch(ctx, destinations, export.Request{
		UserID:  d.UserID,
		Title:   d.Title,
		Content: draft,
	})

	var deliveredAt *time.Time
	errMsg := ""
	if status == models.VersionDelivered || status == models.VersionPartial {
		now := e.nowFunc().UTC()
		deliveredAt = &now
	}
	if status != models.VersionDelivered {
		errMsg = deliveryFailureDetail(deliveryLog)
	}
	if err := e.versions.Finalize(ctx, version.ID, status, deliveryLog, errMsg, deliveredAt); err != nil {
		return e.failRun(ctx, d, version, ticket.ID, started, fmt.Errorf("failed to finalize version: %w", err))
	}

	ticketStatus := models.TicketCompleted
	if status == models.VersionFailed {
		ticketStatus = models.TicketFailed
	}
	if err := e.tickets.Finish(ctx, ticket.ID, ticketStatus, errMsg); err != nil {
		log.Warn("Failed to finish ticket", "ticket_id", ticket.ID, "error", err)
	}

	e.reschedule(ctx, d, user, started)
	e.notifyOnFailure(ctx, d, user, status, errMsg)

	delivered, failed := deliveryCounts(deliveryLog)
	e.recorder.DeliverableRun(ctx, d.UserID, activity.RunPayload{
		DeliverableID: d.ID,
		VersionID:     version.ID,
		VersionNumber: version.VersionNumber,
		Status:        status,
		Delivered:     delivered,
		Failed:        failed,
		DurationMS:    time.Since(started).Milliseconds(),
		Error:         errMsg,
	})
	log.Info("Deliverable run finished",
		"version_id", version.ID, "status", status, "delivered", delivered, "failed", failed)

	if status == models.VersionFailed {
		return fmt.Errorf("delivery failed: %s", errMsg)
	}
	return nil
}

// heartbeatTicket refreshes the work ticket while generation runs, so the
// janitor can tell a slow run from a crashed one.
func (e *Engine) heartbeatTicket(ctx context.Context, ticketID string) {
	interval := e.cfg.HeartbeatInterval.Std()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.tickets.Heartbeat(ctx, ticketID); err != nil {
				e.logger.Warn("Ticket heartbeat failed", "ticket_id", ticketID, "error", err)
			}
		}
	}
}

// checkFreshness builds source snapshots and re-syncs a bounded number of
// stale sources first. Staleness never blocks a run; leftovers are just
// flagged on the snapshot.
func (e *Engine) checkFreshness(ctx context.Context, d *models.Deliverable) []models.SourceSnapshot {
	now := e.nowFunc().UTC()
	threshold := time.Duration(e.cfg.DefaultStaleness)
	if d.Type.FreshnessRequirementHours > 0 {
		threshold = time.Duration(d.Type.FreshnessRequirementHours) * time.Hour
	}

	resyncBudget := e.cfg.MaxTargetedResyncs
	var snapshots []models.SourceSnapshot
	for _, p := range d.Type.SourcePlatforms() {
		snapshot := e.platformSnapshot(ctx, d.UserID, p, now, threshold)

		if snapshot.Stale && resyncBudget > 0 && e.resyncer != nil {
			resyncBudget--
			if err := e.resyncer.SyncResources(ctx, d.UserID, p, snapshot.ResourceIDs); err != nil {
				e.logger.Warn("Targeted re-sync failed",
					"user_id", d.UserID, "platform", p, "error", err)
			} else {
				snapshot = e.platformSnapshot(ctx, d.UserID, p, e.nowFunc().UTC(), threshold)
			}
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

// platformSnapshot summarizes one platform's registry state for the run.
func (e *Engine) platformSnapshot(ctx context.Context, userID string, p models.Platform, now time.Time, threshold time.Duration) models.SourceSnapshot {
	snapshot := models.SourceSnapshot{Platform: p}

	statuses, err := e.freshness.ListByUserPlatform(ctx, userID, p)
	if err != nil {
		e.logger.Warn("Failed to read sync registry", "user_id", userID, "platform", p, "error", err)
		snapshot.Stale = true
		return snapshot
	}
	if len(statuses) == 0 {
		// Never synced at all.
		snapshot.Stale = true
		snapshot.ResourceIDs = e.selectedResources(ctx, userID, p)
		return snapshot
	}

	var latest time.Time
	for _, s := range statuses {
		snapshot.ResourceIDs = append(snapshot.ResourceIDs, s.ResourceID)
		snapshot.ItemCount += s.LastItemCount
		if s.LastSyncedAt.After(latest) {
			latest = s.LastSyncedAt
		}
		if s.Stale(now, threshold) {
			snapshot.Stale = true
		}
	}
	if !latest.IsZero() {
		snapshot.LastSyncedAt = &latest
	}
	return snapshot
}

func (e *Engine) selectedResources(ctx context.Context, userID string, p models.Platform) []string {
	conn, err := e.connections.GetByUserAndProvider(ctx, userID, p)
	if err != nil {
		return nil
	}
	return conn.Landscape.EffectiveSources()
}

// generate runs the bounded agent loop with the tool set gated by binding.
func (e *Engine) generate(ctx context.Context, d *models.Deliverable, user *models.UserSettings, gathered *GatheredContext, destinations []models.Destination, triggerContext string) (string, error) {
	tools := []string{agent.ToolReadContent, agent.ToolSearchContent, agent.ToolListResources, agent.ToolGetSystemState}
	if d.Type.Binding == models.BindingResearch || d.Type.Binding == models.BindingHybrid {
		tools = append(tools, agent.ToolWebSearch)
	}

	result, err := e.generator.Generate(ctx, &agent.GenerateRequest{
		UserID: d.UserID,
		System: e.systemPrompt(ctx, d, user, destinations, triggerContext),
		Prompt: userPrompt(d, gathered),
		Tools:  tools,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// normalizeDestinations falls back to emailing the user when the
// deliverable has no usable destination.
func (e *Engine) normalizeDestinations(d *models.Deliverable, user *models.UserSettings) []models.Destination {
	var out []models.Destination
	for _, dest := range d.Destinations {
		if dest.Platform != "" && dest.Target != "" {
			out = append(out, dest)
		}
	}
	if len(out) == 0 && user.Email != "" {
		out = append(out, models.Destination{Platform: "resend", Target: user.Email})
	}
	return out
}

// reschedule advances next_run_at from the schedule in the user's
// timezone. Trigger-only deliverables get no next run.
func (e *Engine) reschedule(ctx context.Context, d *models.Deliverable, user *models.UserSettings, ranAt time.Time) {
	var nextRunAt *time.Time
	if !d.Schedule.IsZero() && d.TriggerType == models.TriggerScheduled {
		sched := d.Schedule
		if sched.Timezone == "" {
			sched.Timezone = user.Timezone
		}
		next, err := sched.NextRun(e.nowFunc().UTC())
		if err != nil {
			e.logger.Error("Failed to compute next run; deliverable will not fire again",
				"deliverable_id", d.ID, "error", err)
		} else {
			nextRunAt = &next
		}
	}
	if err := e.deliverables.CompleteRun(ctx, d.ID, ranAt, nextRunAt); err != nil {
		e.logger.Error("Failed to record run completion", "deliverable_id", d.ID, "error", err)
	}
}

// failRun is the shared failure exit: version failed, ticket failed, the
// schedule still advances, and the activity trail records the error.
func (e *Engine) failRun(ctx context.Context, d *models.Deliverable, version *models.DeliverableVersion, ticketID string, started time.Time, cause error) error {
	if err := e.versions.Finalize(ctx, version.ID, models.VersionFailed, nil, cause.Error(), nil); err != nil {
		e.logger.Error("Failed to mark version failed", "version_id", version.ID, "error", err)
	}
	if ticketID != "" {
		if err := e.tickets.Finish(ctx, ticketID, models.TicketFailed, cause.Error()); err != nil {
			e.logger.Error("Failed to mark ticket failed", "ticket_id", ticketID, "error", err)
		}
	}

	user, userErr := e.users.Get(ctx, d.UserID)
	if userErr == nil {
		e.reschedule(ctx, d, user, started)
		e.notifyOnFailure(ctx, d, user, models.VersionFailed, cause.Error())
	} else {
		e.reschedule(ctx, d, &models.UserSettings{}, started)
	}

	e.recorder.DeliverableRun(ctx, d.UserID, activity.RunPayload{
		DeliverableID: d.ID,
		VersionID:     version.ID,
		VersionNumber: version.VersionNumber,
		Status:        models.VersionFailed,
		DurationMS:    time.Since(started).Milliseconds(),
		Error:         cause.Error(),
	})
	return cause
}

// finishWithoutVersion handles failures before a version exists. The
// schedule still advances so the deliverable does not retry every tick.
func (e *Engine) finishWithoutVersion(ctx context.Context, d *models.Deliverable, started time.Time, cause error) {
	user, err := e.users.Get(ctx, d.UserID)
	if err != nil {
		user = &models.UserSettings{}
	}
	e.reschedule(ctx, d, user, started)
	e.recorder.DeliverableRun(ctx, d.UserID, activity.RunPayload{
		DeliverableID: d.ID,
		Status:        models.VersionFailed,
		DurationMS:    time.Since(started).Milliseconds(),
		Error:         cause.Error(),
	})
}

func (e *Engine) notifyOnFailure(ctx context.Context, d *models.Deliverable, user *models.UserSettings, status models.VersionStatus, reason string) {
	if status != models.VersionFailed || !e.cfg.NotifyOnFailure || e.notifier == nil {
		return
	}
	if d.Mode != models.ModeSemiAuto || user.Email == "" {
		return
	}
	if err := e.notifier.SendFailureNotice(ctx, user.Email, d.Title, reason); err != nil {
		e.logger.Warn("Failed to send failure notice", "deliverable_id", d.ID, "error", err)
	}
}

func deliveryCounts(log []models.DeliveryRecord) (delivered, failed int) {
	for _, rec := range log {
		if rec.Status == models.DeliverySent {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}

func deliveryFailureDetail(log []models.DeliveryRecord) string {
	for _, rec := range log {
		if rec.Status == models.DeliveryFailed {
			return fmt.Sprintf("%s delivery failed: %s", rec.Destination.Platform, rec.Detail)
		}
	}
	return "no destination accepted the delivery"
}
