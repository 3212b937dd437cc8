package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/vidforge/vidforge/internal/domain"
)

// CleanupScheduler prunes old terminal jobs, expired artifacts and dead
// workers on a fixed interval. The cron endpoint triggers the same pruning
// on demand.
type CleanupScheduler struct {
	Jobs      domain.JobStore
	Artifacts domain.ArtifactStore
	Queue     domain.Queue

	Interval       time.Duration
	Retention      time.Duration
	WorkerInactive time.Duration
}

// Run blocks until ctx is done, pruning every Interval.
func (c *CleanupScheduler) Run(ctx context.Context) {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pruning pass. Failures are logged, not fatal;
// the next tick retries.
func (c *CleanupScheduler) RunOnce(ctx context.Context) {
	jobs, err := c.Jobs.Cleanup(ctx, c.Retention)
	if err != nil {
		slog.Error("job cleanup failed", slog.Any("error", err))
	}
	videos, err := c.Artifacts.Cleanup(ctx, c.Retention)
	if err != nil {
		slog.Error("artifact cleanup failed", slog.Any("error", err))
	}
	workers, err := c.Queue.CleanupInactiveWorkers(ctx, c.WorkerInactive)
	if err != nil {
		slog.Error("worker cleanup failed", slog.Any("error", err))
	}
	if jobs+videos+workers > 0 {
		slog.Info("cleanup pass finished",
			slog.Int("jobs", jobs),
			slog.Int("videos", videos),
			slog.Int("workers", workers))
	}
}
