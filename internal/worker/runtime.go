// Package worker runs the generation processing loop. A worker leases jobs
// from the queue, polls them through the workflow until they finish and
// keeps its registration alive with heartbeats.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/domain"
	"github.com/vidforge/vidforge/internal/usecase"
)

// Runner is one worker process.
type Runner struct {
	ID       string
	Name     string
	Queue    domain.Queue
	Workflow *usecase.WorkflowService

	MaxConcurrent     int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	JobTimeout        time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Run registers the worker and blocks running the heartbeat and processing
// loops until ctx is cancelled. In-flight jobs are failed with a retryable
// reason on shutdown so another worker can pick them up.
func (r *Runner) Run(ctx context.Context) error {
	if r.MaxConcurrent <= 0 {
		r.MaxConcurrent = 3
	}
	if r.PollInterval <= 0 {
		r.PollInterval = 5 * time.Second
	}
	if r.HeartbeatInterval <= 0 {
		r.HeartbeatInterval = 30 * time.Second
	}
	r.inflight = make(map[string]struct{})

	err := r.Queue.RegisterWorker(ctx, domain.WorkerInfo{
		ID:             r.ID,
		Name:           r.Name,
		MaxConcurrency: r.MaxConcurrent,
		IsActive:       true,
		LastHeartbeat:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	slog.Info("worker registered", slog.String("worker_id", r.ID), slog.Int("max_concurrent", r.MaxConcurrent))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.heartbeatLoop(gctx) })
	g.Go(func() error { return r.processLoop(gctx) })
	return g.Wait()
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	t := time.NewTicker(r.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.Queue.Heartbeat(ctx, r.ID); err != nil {
				slog.Warn("heartbeat failed", slog.String("worker_id", r.ID), slog.Any("error", err))
				// Back off briefly, then re-register in case the registry
				// pruned us while we were alive.
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(5 * time.Second):
				}
				_ = r.Queue.RegisterWorker(ctx, domain.WorkerInfo{
					ID:             r.ID,
					Name:           r.Name,
					MaxConcurrency: r.MaxConcurrent,
					IsActive:       true,
					LastHeartbeat:  time.Now().UTC(),
				})
			}
		}
	}
}

func (r *Runner) processLoop(ctx context.Context) error {
	var wg sync.WaitGroup
	t := time.NewTicker(r.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.failRemaining()
			return nil
		default:
		}

		if r.inflightCount() < r.MaxConcurrent {
			entry, err := r.Queue.Next(ctx, r.ID)
			if err != nil {
				slog.Warn("queue lease failed", slog.String("worker_id", r.ID), slog.Any("error", err))
			} else if entry != nil {
				r.track(entry.JobID)
				observability.JobsActive.Inc()
				wg.Add(1)
				go func(jobID string) {
					defer wg.Done()
					defer observability.JobsActive.Dec()
					defer r.untrack(jobID)
					r.processJob(ctx, jobID)
				}(entry.JobID)
				// Immediately try for another lease while capacity remains.
				continue
			}
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			r.failRemaining()
			return nil
		case <-t.C:
		}
	}
}

// processJob polls one leased job until the workflow reports it done or the
// job deadline expires.
func (r *Runner) processJob(ctx context.Context, jobID string) {
	jctx := ctx
	var cancel context.CancelFunc
	if r.JobTimeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, r.JobTimeout)
		defer cancel()
	}
	t := time.NewTicker(r.PollInterval)
	defer t.Stop()
	for {
		done, err := r.Workflow.ProcessGeneration(jctx, jobID, r.ID)
		if err != nil {
			slog.Warn("processing step failed",
				slog.String("job_id", jobID),
				slog.String("worker_id", r.ID),
				slog.Any("error", err))
		}
		if done {
			return
		}
		select {
		case <-jctx.Done():
			// Shutdown or timeout; give the job back to the queue.
			r.releaseJob(jobID)
			return
		case <-t.C:
		}
	}
}

// releaseJob fails the lease with retry so the job is re-enqueued. Runs on a
// fresh context because the loop context is already cancelled.
func (r *Runner) releaseJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Queue.Fail(ctx, jobID, r.ID, true); err != nil {
		slog.Warn("lease release failed",
			slog.String("job_id", jobID),
			slog.String("worker_id", r.ID),
			slog.Any("error", err))
		return
	}
	slog.Info("job returned to queue on worker stop",
		slog.String("job_id", jobID),
		slog.String("worker_id", r.ID),
		slog.String("reason", "worker stopping"))
}

func (r *Runner) failRemaining() {
	r.mu.Lock()
	remaining := make([]string, 0, len(r.inflight))
	for id := range r.inflight {
		remaining = append(remaining, id)
	}
	r.mu.Unlock()
	for _, id := range remaining {
		r.releaseJob(id)
	}
}

func (r *Runner) inflightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Runner) track(jobID string) {
	r.mu.Lock()
	r.inflight[jobID] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) untrack(jobID string) {
	r.mu.Lock()
	delete(r.inflight, jobID)
	r.mu.Unlock()
}
