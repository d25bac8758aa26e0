package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-bankrec/internal/ingest"
	jobmetrics "github.com/odyssey-erp/odyssey-bankrec/internal/jobs"
	"github.com/odyssey-erp/odyssey-bankrec/internal/notify"
	"github.com/odyssey-erp/odyssey-bankrec/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-bankrec/internal/platform/db"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/storage"
	"github.com/odyssey-erp/odyssey-bankrec/jobs"
)

// Services is the wired object graph shared by the CLI and the worker.
type Services struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Queue      *jobs.Client
	Store      *storage.Postgres
	Matcher    *reconcile.Matcher
	Cache      *reconcile.ProposalCache
	Reconcile  *reconcile.Service
	Importer   *ingest.Importer
	Reparser   *ingest.Reparser
	JobMetrics *jobmetrics.Metrics
}

// OpenServices connects to PostgreSQL and Redis and builds the services.
// Redis is optional: without it proposals are computed on every request and
// import summaries only reach the log.
func OpenServices(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	svc := &Services{
		Pool:       pool,
		Store:      storage.NewPostgres(pool),
		Matcher:    reconcile.NewMatcher(cfg.Matcher(), logger),
		JobMetrics: jobmetrics.NewMetrics(registerer),
	}

	sinks := notify.MultiSink{notify.NewLogSink(logger)}
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, running without proposal cache and queue", slog.Any("error", err))
	} else {
		svc.Redis = redisClient
		svc.Queue = jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		sinks = append(sinks, notify.NewAsynqSink(svc.Queue, cfg.NotifyQueue))
	}

	svc.Cache = reconcile.NewProposalCache(svc.Redis, cfg.ProposalCacheTTL)
	svc.Reconcile = reconcile.NewService(svc.Store, svc.Matcher, svc.Cache, logger)
	svc.Importer = ingest.NewImporter(svc.Store, svc.Matcher, logger,
		ingest.WithNotifier(sinks),
		ingest.WithProposalCache(svc.Cache),
		ingest.WithMetrics(svc.JobMetrics),
	)
	svc.Reparser = ingest.NewReparser(svc.Store, logger)
	return svc, nil
}

// Migrate applies the embedded schema.
func (s *Services) Migrate(ctx context.Context) error {
	return storage.EnsureSchema(ctx, s.Pool)
}

// Ping checks database connectivity.
func (s *Services) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Close releases every connection.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Queue != nil {
		errs = append(errs, s.Queue.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return errors.Join(errs...)
}
