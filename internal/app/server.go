package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/textilehq/backoffice/internal/analytics"
	"github.com/textilehq/backoffice/internal/analytics/export"
	analytichttp "github.com/textilehq/backoffice/internal/analytics/http"
	"github.com/textilehq/backoffice/internal/analytics/svg"
	"github.com/textilehq/backoffice/internal/audit"
	audithttp "github.com/textilehq/backoffice/internal/audit/http"
	"github.com/textilehq/backoffice/internal/catalog"
	"github.com/textilehq/backoffice/internal/inventory"
	"github.com/textilehq/backoffice/internal/observability"
	"github.com/textilehq/backoffice/internal/platform/db"
	"github.com/textilehq/backoffice/internal/profitloss"
	"github.com/textilehq/backoffice/internal/sales"
	"github.com/textilehq/backoffice/jobs"
	"github.com/textilehq/backoffice/report"
)

// Serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests.
func Serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, db.Up, 0, logger); err != nil {
			return err
		}
	}

	metrics := observability.NewMetrics()
	svcs, err := NewServices(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		return err
	}
	defer func() {
		if err := svcs.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	if err := svcs.Cache.ListenForInvalidation(ctx, analytics.BumpChannel); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(cfg.Queue())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	reportClient := report.NewClient(cfg.GotenbergURL, 0)
	var pdf analytichttp.PDFService
	if reportClient.Configured() {
		pdf = &export.PDFExporter{Renderer: reportClient}
	}

	router := NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		ProfitLossHandler: profitloss.NewHandler(logger, svcs.ProfitLoss, cfg.UploadMaxBytes),
		ExportHandler:     analytichttp.NewHandler(logger, svcs.ProfitLoss, svg.Renderer{}, svg.Renderer{}, pdf),
		CatalogHandler:    catalog.NewHandler(logger, svcs.Catalog, cfg.UploadMaxBytes),
		InventoryHandler:  inventory.NewHandler(logger, svcs.Inventory),
		SalesHandler:      sales.NewHandler(logger, svcs.Sales),
		ReportHandler:     report.NewHandler(reportClient, logger),
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(svcs.Pool))),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Health: map[string]Pinger{
			"postgres": svcs.Pool,
			"redis":    PingFunc(func(ctx context.Context) error { return svcs.Redis.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
