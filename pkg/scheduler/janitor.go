package scheduler

import (
	"context"
	"time"

	"github.com/yarnnn/orchestrator/pkg/models"
)

const stuckTicketReason = "heartbeat lost; run presumed crashed"

// recoverOwn clears this pod's leftovers from a previous crash: tickets it
// owned go to failed, its advisory locks are dropped. Runs before any
// worker starts so recovered units can be picked up on the first tick.
func (s *Scheduler) recoverOwn(ctx context.Context) {
	failed, err := s.tickets.FailOwnedBy(ctx, s.podID, "pod restarted")
	if err != nil {
		s.logger.Error("Startup ticket recovery failed", "error", err)
	} else if failed > 0 {
		s.logger.Info("Failed orphaned tickets from previous run", "count", failed)
	}

	released, err := s.locks.ReleaseOwnedBy(ctx, s.podID)
	if err != nil {
		s.logger.Error("Startup lock recovery failed", "error", err)
	} else if released > 0 {
		s.logger.Info("Released orphaned locks from previous run", "count", released)
	}
}

func (s *Scheduler) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.JanitorInterval))
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJanitor(ctx)
		}
	}
}

// runJanitor fails tickets whose runs went silent and reaps expired locks,
// regardless of which pod owned them.
func (s *Scheduler) runJanitor(ctx context.Context) {
	stuck, err := s.tickets.FindStuck(ctx, time.Duration(s.cfg.StuckTicketThreshold))
	if err != nil {
		s.logger.Error("Stuck ticket scan failed", "error", err)
	}
	for _, t := range stuck {
		if err := s.tickets.Finish(ctx, t.ID, models.TicketFailed, stuckTicketReason); err != nil {
			s.logger.Warn("Failed to fail stuck ticket", "ticket_id", t.ID, "error", err)
			continue
		}
		if t.VersionID != "" {
			if err := s.versions.SetStatus(ctx, t.VersionID, models.VersionFailed, stuckTicketReason); err != nil {
				s.logger.Warn("Failed to fail orphaned version",
					"version_id", t.VersionID, "error", err)
			}
		}
		s.logger.Info("Recovered stuck ticket", "ticket_id", t.ID, "owner", t.Owner)
	}

	reaped, err := s.locks.ReapExpired(ctx)
	if err != nil {
		s.logger.Error("Lock reaping failed", "error", err)
	} else if reaped > 0 {
		s.logger.Info("Reaped expired locks", "count", reaped)
	}
}
