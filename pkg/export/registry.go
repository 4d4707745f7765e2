package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// Registry maps destination platforms to exporters. Built once at startup
// and injected into the deliverable engine.
type Registry struct {
	exporters map[string]Exporter
	nowFunc   func() time.Time
	logger    *slog.Logger
}

// NewRegistry builds a registry over the given exporters.
func NewRegistry(exporters ...Exporter) *Registry {
	r := &Registry{
		exporters: make(map[string]Exporter, len(exporters)),
		nowFunc:   time.Now,
		logger:    slog.Default().With("component", "export-registry"),
	}
	for _, e := range exporters {
		r.exporters[e.Platform()] = e
	}
	return r
}

// Exporter returns the exporter for a destination platform.
func (r *Registry) Exporter(platform string) (Exporter, bool) {
	e, ok := r.exporters[platform]
	return e, ok
}

// Platforms lists registered destination platforms.
func (r *Registry) Platforms() []string {
	return lo.Keys(r.exporters)
}

// StyleContext resolves the prose register for a destination list: the
// first destination's exporter wins, defaulting to email style.
func (r *Registry) StyleContext(dests []models.Destination) string {
	for _, d := range dests {
		if e, ok := r.exporters[d.Platform]; ok {
			return e.StyleContext()
		}
	}
	return "email"
}

// Dispatch delivers to every destination in order, recording each outcome.
// One destination failing never stops the others. The returned status is
// delivered when all landed, failed when none did, partial otherwise.
func (r *Registry) Dispatch(ctx context.Context, dests []models.Destination, req Request) ([]models.DeliveryRecord, models.VersionStatus) {
	records := make([]models.DeliveryRecord, 0, len(dests))
	for _, dest := range dests {
		records = append(records, r.deliverOne(ctx, dest, req))
	}

	sent := lo.CountBy(records, func(rec models.DeliveryRecord) bool {
		return rec.Status == models.DeliverySent
	})
	switch {
	case len(records) == 0 || sent == 0:
		return records, models.VersionFailed
	case sent == len(records):
		return records, models.VersionDelivered
	default:
		return records, models.VersionPartial
	}
}

func (r *Registry) deliverOne(ctx context.Context, dest models.Destination, req Request) models.DeliveryRecord {
	record := models.DeliveryRecord{
		Destination: dest,
		DeliveredAt: r.nowFunc().UTC(),
	}

	exporter, ok := r.exporters[dest.Platform]
	if !ok {
		record.Status = models.DeliveryFailed
		record.Detail = "no exporter for platform " + dest.Platform
		return record
	}
	if err := exporter.ValidateDestination(dest); err != nil {
		record.Status = models.DeliveryFailed
		record.Detail = err.Error()
		return record
	}

	result, err := exporter.Deliver(ctx, dest, req)
	if err != nil {
		r.logger.Warn("Delivery failed",
			"user_id", req.UserID, "platform", dest.Platform, "target", dest.Target, "error", err)
		record.Status = models.DeliveryFailed
		record.Detail = err.Error()
		return record
	}

	record.Status = models.DeliverySent
	switch {
	case result.ExternalURL != "":
		record.Detail = result.ExternalURL
	case result.ExternalID != "":
		record.Detail = result.ExternalID
	}
	return record
}
