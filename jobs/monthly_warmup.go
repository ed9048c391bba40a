package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/textilehq/backoffice/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// MonthlyWarmer refreshes the cached monthly aggregates.
type MonthlyWarmer interface {
	WarmMonthly(ctx context.Context) error
}

// MonthlyWarmupJob pre-populates the monthly profit cache.
type MonthlyWarmupJob struct {
	Warmer  MonthlyWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewMonthlyWarmupJob wires dependencies for the warmup handler.
func NewMonthlyWarmupJob(warmer MonthlyWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *MonthlyWarmupJob {
	return &MonthlyWarmupJob{Warmer: warmer, Logger: logger, Metrics: metrics, Timeout: time.Minute}
}

// Handle processes warmup tasks.
func (j *MonthlyWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Warmer == nil {
		return errors.New("monthly warmup: handler not configured")
	}
	var payload MonthlyWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskMonthlyWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskMonthlyWarmup).With(slog.String("reason", payload.Reason))
	start := time.Now()
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	if err := j.Warmer.WarmMonthly(ctx); err != nil {
		logger.Error("warm monthly cache", slog.Any("error", err))
		return err
	}
	logger.Info("completed monthly warmup", slog.Duration("duration", time.Since(start)))
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
