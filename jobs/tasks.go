package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMonthlyWarmup precomputes the monthly profit series.
	TaskMonthlyWarmup = "profitloss:monthly_warmup"
	// TaskStagingSweep removes uploads stuck in pending.
	TaskStagingSweep = "profitloss:staging_sweep"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// MonthlyWarmupPayload tells the worker why a warmup was requested.
type MonthlyWarmupPayload struct {
	Reason string `json:"reason"`
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewMonthlyWarmupTask constructs a warmup task.
func NewMonthlyWarmupTask(reason string) (*asynq.Task, error) {
	if reason == "" {
		reason = "schedule"
	}
	data, err := json.Marshal(MonthlyWarmupPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMonthlyWarmup, data), nil
}

// NewStagingSweepTask constructs a staging sweep task.
func NewStagingSweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskStagingSweep, []byte("{}")), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("jobs: idempotency retention must be positive")
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// Triggerable lists task names accepted by Client.Trigger.
func Triggerable() []string {
	names := []string{TaskMonthlyWarmup, TaskStagingSweep, TaskIdempotencyCleanup}
	sort.Strings(names)
	return names
}
