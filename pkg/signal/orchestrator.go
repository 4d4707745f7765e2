// Package signal runs the periodic detection pass: it summarizes a user's
// recent content, asks the reasoning model what deserves attention, and
// turns confident findings into emergent deliverables or early runs of
// existing ones.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yarnnn/orchestrator/pkg/activity"
	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/content"
	"github.com/yarnnn/orchestrator/pkg/deliverable"
	"github.com/yarnnn/orchestrator/pkg/llm"
	"github.com/yarnnn/orchestrator/pkg/masking"
	"github.com/yarnnn/orchestrator/pkg/models"
	"github.com/yarnnn/orchestrator/pkg/store"
)

// Deliverables is the slice of the deliverable store a pass reads and
// writes.
type Deliverables interface {
	Create(ctx context.Context, d *models.Deliverable) error
	ListByUser(ctx context.Context, userID string, status models.DeliverableStatus) ([]*models.Deliverable, error)
	SetNextRun(ctx context.Context, deliverableID string, nextRunAt *time.Time) error
}

// Signals is the dedup history surface.
type Signals interface {
	Record(ctx context.Context, rec *models.SignalRecord) error
	SeenRecently(ctx context.Context, userID, deliverableType, signalRef string, window time.Duration) (bool, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.SignalRecord, error)
}

// Versions previews the latest edition of each existing deliverable.
type Versions interface {
	GetLatest(ctx context.Context, deliverableID string) (*models.DeliverableVersion, error)
}

// Contexts reads the user-context slice fed to the reasoning model.
type Contexts interface {
	ListByUser(ctx context.Context, userID string) ([]models.ContextEntry, error)
}

// Activities reads recent activity for the reasoning prompt.
type Activities interface {
	ListRecent(ctx context.Context, userID string, eventType models.ActivityType, limit int) ([]*models.ActivityEvent, error)
}

// Connections tells the pass which platforms to summarize.
type Connections interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.PlatformConnection, error)
}

// Generator runs an emergent deliverable immediately after creation.
type Generator interface {
	Run(ctx context.Context, d *models.Deliverable, triggerContext string) error
}

// Events is the slice of the activity recorder a pass emits to.
type Events interface {
	SignalProcessed(ctx context.Context, userID string, payload activity.SignalPayload)
}

var (
	_ Deliverables = (*store.DeliverableStore)(nil)
	_ Signals      = (*store.SignalStore)(nil)
	_ Versions     = (*store.VersionStore)(nil)
	_ Contexts     = (*store.UserContextStore)(nil)
	_ Activities   = (*store.ActivityStore)(nil)
	_ Connections  = (*store.ConnectionStore)(nil)
	_ Generator    = (*deliverable.Engine)(nil)
	_ Events       = (*activity.Recorder)(nil)
)

// Orchestrator executes one signal pass per user at a time.
type Orchestrator struct {
	llm          llm.Completions
	cache        *content.Cache
	masker       *masking.Service
	deliverables Deliverables
	signals      Signals
	versions     Versions
	contexts     Contexts
	activities   Activities
	connections  Connections
	generator    Generator
	recorder     Events
	cfg          *config.SignalConfig
	syncCfg      *config.SyncConfig
	nowFunc      func() time.Time
	logger       *slog.Logger
}

// NewOrchestrator builds the signal pass.
func NewOrchestrator(
	completions llm.Completions,
	cache *content.Cache,
	masker *masking.Service,
	deliverables Deliverables,
	signals Signals,
	versions Versions,
	contexts Contexts,
	activities Activities,
	connections Connections,
	generator Generator,
	recorder Events,
	cfg *config.SignalConfig,
	syncCfg *config.SyncConfig,
) *Orchestrator {
	return &Orchestrator{
		llm:          completions,
		cache:        cache,
		masker:       masker,
		deliverables: deliverables,
		signals:      signals,
		versions:     versions,
		contexts:     contexts,
		activities:   activities,
		connections:  connections,
		generator:    generator,
		recorder:     recorder,
		cfg:          cfg,
		syncCfg:      syncCfg,
		nowFunc:      time.Now,
		logger:       slog.Default().With("component", "signal-orchestrator"),
	}
}

// Pass runs one detection pass for a user: summarize, reason, filter,
// execute. A malformed model response drops the whole pass; per-action
// execution errors are logged and do not stop the remaining actions.
func (o *Orchestrator) Pass(ctx context.Context, userID string) error {
	log := o.logger.With("user_id", userID)

	conns, err := o.connections.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	var platforms []models.Platform
	for _, c := range conns {
		platforms = append(platforms, c.Provider)
	}

	summary := o.buildSummary(ctx, userID, platforms)
	if summary.TotalItems < o.cfg.MinSummaryItems {
		log.Debug("Not enough fresh content for a signal pass", "items", summary.TotalItems)
		o.recorder.SignalProcessed(ctx, userID, activity.SignalPayload{
			ContentItems: summary.TotalItems,
			Skipped:      "insufficient_content",
		})
		return nil
	}

	existing, err := o.deliverables.ListByUser(ctx, userID, models.DeliverableActive)
	if err != nil {
		return fmt.Errorf("failed to list deliverables: %w", err)
	}

	decision, err := o.reason(ctx, userID, summary, existing)
	if err != nil {
		log.Warn("Signal reasoning failed; dropping pass", "error", err)
		return err
	}

	actions, deduped := o.filter(ctx, userID, decision.Actions, existing)
	payload := activity.SignalPayload{
		ContentItems: summary.TotalItems,
		Actions:      len(decision.Actions),
		Deduped:      deduped,
	}

	for _, action := range actions {
		switch action.Action {
		case models.ActionCreateEmergent:
			if err := o.createEmergent(ctx, userID, action, decision.Reasoning); err != nil {
				log.Warn("Failed to execute emergent signal", "type", action.DeliverableType, "error", err)
				continue
			}
			payload.Created++
		case models.ActionTriggerExisting:
			if err := o.triggerExisting(ctx, action); err != nil {
				log.Warn("Failed to trigger deliverable",
					"deliverable_id", action.DeliverableID, "error", err)
				continue
			}
			payload.Triggered++
		}
	}

	o.recorder.SignalProcessed(ctx, userID, payload)
	log.Info("Signal pass finished",
		"items", summary.TotalItems, "actions", payload.Actions,
		"created", payload.Created, "triggered", payload.Triggered, "deduped", deduped)
	return nil
}

// filter drops low-confidence and duplicate findings: below-threshold
// confidence, types already standing as an active emergent deliverable,
// more than one action per type in a pass, and signal refs seen inside
// the dedup window.
func (o *Orchestrator) filter(ctx context.Context, userID string, actions []models.SignalAction, existing []*models.Deliverable) ([]models.SignalAction, int) {
	activeIDs := make(map[string]bool, len(existing))
	for _, d := range existing {
		activeIDs[d.ID] = true
	}
	standingTypes := o.standingEmergentTypes(ctx, userID, activeIDs)

	deduped := 0
	seenTypes := make(map[string]bool)
	var kept []models.SignalAction
	for _, action := range actions {
		if !action.Action.Valid() || action.Action == models.ActionNone {
			continue
		}
		if action.Confidence < o.cfg.ConfidenceThreshold {
			continue
		}
		if action.DeliverableType != "" && seenTypes[action.DeliverableType] {
			continue
		}

		if action.Action == models.ActionCreateEmergent {
			if standingTypes[action.DeliverableType] {
				deduped++
				continue
			}
			if action.SignalRef != "" {
				seen, err := o.signals.SeenRecently(ctx, userID, action.DeliverableType,
					action.SignalRef, time.Duration(o.cfg.DedupWindow))
				if err != nil {
					o.logger.Warn("Dedup lookup failed; keeping action", "error", err)
				} else if seen {
					deduped++
					continue
				}
			}
		}
		if action.Action == models.ActionTriggerExisting && !activeIDs[action.DeliverableID] {
			continue
		}

		seenTypes[action.DeliverableType] = true
		kept = append(kept, action)
	}
	return kept, deduped
}

// standingEmergentTypes maps signal types whose emergent deliverable is
// still active, so a pass does not create the same standing deliverable
// twice.
func (o *Orchestrator) standingEmergentTypes(ctx context.Context, userID string, activeIDs map[string]bool) map[string]bool {
	records, err := o.signals.ListRecent(ctx, userID, 50)
	if err != nil {
		o.logger.Warn("Failed to read signal history", "user_id", userID, "error", err)
		return nil
	}
	out := make(map[string]bool)
	for _, rec := range records {
		if rec.DeliverableID != "" && activeIDs[rec.DeliverableID] {
			out[rec.DeliverableType] = true
		}
	}
	return out
}

// createEmergent inserts the signal-born deliverable, records the history
// row, and generates its first edition immediately.
func (o *Orchestrator) createEmergent(ctx context.Context, userID string, action models.SignalAction, passReasoning string) error {
	d := &models.Deliverable{
		UserID:      userID,
		Title:       action.Title,
		Prompt:      action.Prompt,
		Origin:      models.OriginSignalEmergent,
		TriggerType: models.TriggerManual,
		Type:        models.TypeClassification{Binding: models.BindingCrossPlatform},
	}
	if err := o.deliverables.Create(ctx, d); err != nil {
		return fmt.Errorf("failed to create emergent deliverable: %w", err)
	}

	if err := o.signals.Record(ctx, &models.SignalRecord{
		UserID:          userID,
		DeliverableType: action.DeliverableType,
		SignalRef:       action.SignalRef,
		DeliverableID:   d.ID,
		Confidence:      action.Confidence,
		Reasoning:       action.Reasoning,
	}); err != nil {
		o.logger.Warn("Failed to record signal history", "deliverable_id", d.ID, "error", err)
	}

	trigger := action.Reasoning
	if trigger == "" {
		trigger = passReasoning
	}
	if err := o.generator.Run(ctx, d, trigger); err != nil {
		return fmt.Errorf("emergent generation failed: %w", err)
	}
	return nil
}

// triggerExisting pulls an existing deliverable's next run to now.
func (o *Orchestrator) triggerExisting(ctx context.Context, action models.SignalAction) error {
	if _, err := uuid.Parse(action.DeliverableID); err != nil {
		return fmt.Errorf("invalid deliverable id %q: %w", action.DeliverableID, err)
	}
	now := o.nowFunc().UTC()
	return o.deliverables.SetNextRun(ctx, action.DeliverableID, &now)
}
