package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vidforge/vidforge/internal/adapter/events"
	"github.com/vidforge/vidforge/internal/adapter/httpserver"
	"github.com/vidforge/vidforge/internal/adapter/provider"
	"github.com/vidforge/vidforge/internal/adapter/provider/mock"
	"github.com/vidforge/vidforge/internal/adapter/provider/veo"
	"github.com/vidforge/vidforge/internal/adapter/queue/redisq"
	"github.com/vidforge/vidforge/internal/adapter/registry"
	"github.com/vidforge/vidforge/internal/adapter/repo/postgres"
	miniostore "github.com/vidforge/vidforge/internal/adapter/storage/minio"
	"github.com/vidforge/vidforge/internal/config"
	"github.com/vidforge/vidforge/internal/domain"
	"github.com/vidforge/vidforge/internal/service/ratelimiter"
	"github.com/vidforge/vidforge/internal/usecase"
)

// Deps is the wired dependency graph shared by the server and worker
// binaries.
type Deps struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Jobs      *postgres.JobRepo
	Queue     *redisq.Manager
	Artifacts *miniostore.Store
	Registry  *registry.Registry
	Events    *events.Publisher
	Workflow  *usecase.WorkflowService
	Limiter   *ratelimiter.RedisLuaLimiter
}

// BuildDeps connects to Postgres, Redis and MinIO, loads the model catalog
// and assembles the workflow. Callers own Close.
func BuildDeps(ctx context.Context, cfg config.Config) (*Deps, error) {
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.BuildDeps: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	jobs := postgres.NewJobRepo(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	queue := redisq.New(rdb, cfg.QueueMaxSize)
	if err := queue.Load(ctx); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	store, err := miniostore.New(ctx, cfg)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	reg, err := registry.Load(cfg.ModelsFile)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	providers := buildProviders(cfg, reg)

	var pub *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		pub, err = events.NewPublisher(ctx, cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			slog.Warn("event publisher unavailable, lifecycle events disabled", slog.Any("error", err))
			pub = nil
		}
	}

	wf := &usecase.WorkflowService{
		Jobs:      jobs,
		Queue:     queue,
		Artifacts: store,
		Models:    reg,
		Providers: providers,
		VideoURL: func(a domain.VideoArtifact) string {
			return "/api/storage/videos/" + a.ID
		},
		Thumbnail:             miniostore.PlaceholderThumbnail,
		ClarificationsEnabled: cfg.EnableClarifications,
		ThumbnailsEnabled:     cfg.ThumbnailEnabled,
	}
	if pub != nil {
		wf.Events = pub
	}

	limiter := ratelimiter.NewRedisLuaLimiter(rdb, httpserver.LimiterBuckets(
		cfg.RateLimitGenerationsPerHour,
		cfg.RateLimitStoragePerHour,
		cfg.RateLimitWorkersPerMin,
	))

	return &Deps{
		Pool:      pool,
		Redis:     rdb,
		Jobs:      jobs,
		Queue:     queue,
		Artifacts: store,
		Registry:  reg,
		Events:    pub,
		Workflow:  wf,
		Limiter:   limiter,
	}, nil
}

// Close releases all connections, tolerating partial construction.
func (d *Deps) Close() {
	if d.Events != nil {
		d.Events.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}

func buildProviders(cfg config.Config, reg *registry.Registry) map[string]domain.VideoProvider {
	providers := map[string]domain.VideoProvider{
		registry.ProviderMock: mock.New(reg),
	}
	if cfg.UseMockProvider {
		// Route the Veo catalog entries to the mock adapter too, so the
		// whole pipeline runs without external credentials.
		providers[registry.ProviderGoogleVeo] = mock.New(reg)
		return providers
	}
	retry := provider.RetryPolicy{
		MaxAttempts:     cfg.ProviderMaxAttempts,
		InitialInterval: cfg.ProviderInitialInterval,
		RequestTimeout:  cfg.ProviderRequestTimeout,
	}
	if retry.MaxAttempts <= 0 {
		retry = provider.DefaultRetryPolicy()
	}
	providers[registry.ProviderGoogleVeo] = veo.New(cfg.VeoBaseURL, cfg.GoogleAPIKey, reg, retry)
	return providers
}

// NewCleanupScheduler builds the daily pruning loop from config.
func NewCleanupScheduler(cfg config.Config, d *Deps) *CleanupScheduler {
	return &CleanupScheduler{
		Jobs:           d.Jobs,
		Artifacts:      d.Artifacts,
		Queue:          d.Queue,
		Interval:       cfg.CleanupInterval,
		Retention:      time.Duration(cfg.CleanupRetentionDays) * 24 * time.Hour,
		WorkerInactive: cfg.WorkerInactiveAfter,
	}
}
