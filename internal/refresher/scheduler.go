package refresher

import (
	"context"
	"log/slog"
	"time"
)

type Scheduler struct {
	Refresher *Refresher
	Interval  time.Duration
	Logger    *slog.Logger
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.Refresher == nil || s.Interval <= 0 {
		return
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Run immediately at startup.
	s.sweep(ctx, logger, "initial token refresh failed")

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, logger, "scheduled token refresh failed")
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, logger *slog.Logger, failMsg string) {
	summary, err := s.Refresher.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error(failMsg, "err", err, "due", summary.Due, "failed", summary.Failed)
		return
	}
	if summary.Due > 0 {
		logger.Info("token refresh sweep complete",
			"due", summary.Due,
			"refreshed", summary.Refreshed,
			"skipped", summary.Skipped,
			"duration", summary.Duration,
		)
	}
}
