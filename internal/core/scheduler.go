package core

// scheduler.go runs reconciliation periodically in serve mode.
//
// A tick that finds a run already in progress is skipped, not queued. A
// failed run is logged and the scheduler keeps going.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// StartScheduler runs a reconciliation immediately and then every interval
// until ctx is cancelled. It blocks; call it in its own goroutine.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	slog.Info("reconcile scheduler started", "interval", interval.String())

	s.runScheduled(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile scheduler stopped")
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context) {
	rec, err := s.Run(ctx, RunRequest{Trigger: TriggerSchedule})
	switch {
	case errors.Is(err, ErrTooManyRuns):
		slog.Info("scheduled run skipped, another run is active")
	case err != nil:
		slog.Error("scheduled run failed", "error", err)
	default:
		slog.Debug("scheduled run finished", "run_id", rec.ID, "status", rec.Status)
	}
}
