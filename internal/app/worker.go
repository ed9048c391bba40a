package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/textilehq/backoffice/internal/jobs"
	"github.com/textilehq/backoffice/jobs"
)

// RunWorker processes background jobs until ctx is cancelled.
func RunWorker(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	svcs, err := NewServices(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := svcs.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	warmup := jobs.NewMonthlyWarmupJob(svcs.ProfitLoss, logger, metrics)
	sweep := jobs.NewStagingSweepJob(svcs.ProfitLoss, logger, metrics)
	cleanup := jobs.NewIdempotencyCleanupJob(svcs.Idempotency, cfg.IdempotencyRetention, logger, metrics)

	schedule, err := jobs.Schedule(cfg.Schedule())
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Queue(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskMonthlyWarmup, Handler: warmup.Handle},
			{Type: jobs.TaskStagingSweep, Handler: sweep.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: schedule,
	})
	if err != nil {
		return err
	}
	if cfg.WorkerMetricsAddr != "" {
		srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	logger.Info("starting worker", slog.Int("scheduled", len(schedule)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
