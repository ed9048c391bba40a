// Command worker processes background jobs. It is equivalent to
// `backoffice worker` and exists for deployments that run one binary per role.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/textilehq/backoffice/internal/app"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := app.RunWorker(ctx, cfg, logger); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
