// Command worker runs the generation processing loop. It leases jobs from
// the shared queue, drives them through the provider and uploads the
// resulting artifacts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/app"
	"github.com/vidforge/vidforge/internal/config"
	"github.com/vidforge/vidforge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Expose queue and job metrics on a dedicated port for scraping.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.BuildDeps(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	r := &worker.Runner{
		ID:                workerID,
		Name:              fmt.Sprintf("vidforge worker %s", workerID),
		Queue:             deps.Queue,
		Workflow:          deps.Workflow,
		MaxConcurrent:     cfg.MaxConcurrentJobs,
		PollInterval:      cfg.WorkerPollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		JobTimeout:        cfg.JobTimeout,
	}

	slog.Info("worker starting",
		slog.String("worker_id", workerID),
		slog.Int("max_concurrent", cfg.MaxConcurrentJobs))
	if err := r.Run(ctx); err != nil {
		slog.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
