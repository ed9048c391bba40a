package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/textilehq/backoffice/internal/analytics"
	"github.com/textilehq/backoffice/internal/archive"
	"github.com/textilehq/backoffice/internal/catalog"
	"github.com/textilehq/backoffice/internal/inventory"
	platformcache "github.com/textilehq/backoffice/internal/platform/cache"
	"github.com/textilehq/backoffice/internal/platform/db"
	"github.com/textilehq/backoffice/internal/profitloss"
	"github.com/textilehq/backoffice/internal/sales"
	"github.com/textilehq/backoffice/internal/shared"
	"github.com/textilehq/backoffice/internal/spreadsheet"
	"github.com/textilehq/backoffice/jobs"
)

// Services is the composition root shared by the HTTP server and the worker.
type Services struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Cache       *analytics.Cache
	Jobs        *jobs.Client
	Idempotency *shared.IdempotencyStore

	Catalog    *catalog.Service
	Inventory  *inventory.Service
	Sales      *sales.Service
	ProfitLoss *profitloss.Service
}

// NewServices connects to Postgres and Redis and wires every domain service.
// registerer receives the reconciliation metrics; nil uses the default registry.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		return nil, err
	}
	redisClient, err := platformcache.New(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, err
	}
	store, err := archive.New(cfg.Archive(), logger)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}
	jobClient, err := jobs.NewClient(cfg.Queue())
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)
	cache := analytics.NewCache(redisClient, cfg.CacheTTL)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), audit, idem, cfg.Inventory(), logger)
	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, inventoryService, audit, logger)

	plRepo := profitloss.NewRepository(pool)
	salesService := sales.NewService(sales.NewRepository(pool), catalogService, catalogRepo, inventoryService, plRepo, cfg.Sales(), logger)

	deps := profitloss.ServiceDeps{
		Repo:        plRepo,
		Catalog:     catalogRepo,
		Decode:      spreadsheet.Decode,
		Stage:       profitloss.NewRedisStage(redisClient, cfg.StagingTTL),
		Cache:       cache,
		Jobs:        jobClient,
		Audit:       audit,
		Idempotency: idem,
		Sales:       salesService,
		Logger:      logger,
		Metrics:     profitloss.NewMetrics(registerer),
	}
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn("archive bucket unavailable", slog.Any("error", err))
		}
		deps.Archive = store
	}

	return &Services{
		Pool:        pool,
		Redis:       redisClient,
		Cache:       cache,
		Jobs:        jobClient,
		Idempotency: idem,
		Catalog:     catalogService,
		Inventory:   inventoryService,
		Sales:       salesService,
		ProfitLoss:  profitloss.NewService(deps, cfg.ProfitLoss()),
	}, nil
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Jobs != nil {
		if err := s.Jobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job client: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return errors.Join(errs...)
}
