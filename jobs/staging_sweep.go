package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/textilehq/backoffice/internal/jobs"
	"github.com/textilehq/backoffice/internal/profitloss"
)

// StagingSweeper removes abandoned uploads.
type StagingSweeper interface {
	SweepStaging(ctx context.Context) (profitloss.SweepResult, error)
}

// StagingSweepJob deletes sheets left pending past the staging TTL.
type StagingSweepJob struct {
	Sweeper StagingSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStagingSweepJob wires the sweep handler.
func NewStagingSweepJob(sweeper StagingSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *StagingSweepJob {
	return &StagingSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle processes sweep tasks.
func (j *StagingSweepJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("staging sweep: handler not configured")
	}
	m := metricsOrDefault(j.Metrics)
	tracker := m.Track(TaskStagingSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskStagingSweep)
	res, err := j.Sweeper.SweepStaging(ctx)
	if err != nil {
		logger.Error("sweep staging", slog.Any("error", err))
		return err
	}
	m.AddRemoved(TaskStagingSweep, res.Sheets+res.Entries+res.Returns)
	if res.Removed() {
		logger.Info("swept staged uploads",
			slog.Int("sheets", res.Sheets),
			slog.Int("entries", res.Entries),
			slog.Int("returns", res.Returns))
	}
	return nil
}
