package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron rejects expressions the scheduler would not accept.
func ValidateCron(spec string) error {
	if spec == "" {
		return fmt.Errorf("jobs: empty cron expression")
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("jobs: invalid cron %q: %w", spec, err)
	}
	return nil
}

// NextRun returns the next activation of spec after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: invalid cron %q: %w", spec, err)
	}
	return sched.Next(from), nil
}

// ScheduleConfig holds the cron expressions of the periodic jobs.
type ScheduleConfig struct {
	WarmupCron           string
	SweepCron            string
	CleanupCron          string
	IdempotencyRetention time.Duration
}

// Schedule builds the cron registrations for the periodic jobs. Empty
// expressions leave a job unscheduled.
func Schedule(cfg ScheduleConfig) ([]CronRegistration, error) {
	var regs []CronRegistration
	add := func(spec string, build func() (*asynq.Task, error)) error {
		if spec == "" {
			return nil
		}
		if err := ValidateCron(spec); err != nil {
			return err
		}
		task, err := build()
		if err != nil {
			return err
		}
		regs = append(regs, CronRegistration{Spec: spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
		return nil
	}
	if err := add(cfg.WarmupCron, func() (*asynq.Task, error) { return NewMonthlyWarmupTask("schedule") }); err != nil {
		return nil, err
	}
	if err := add(cfg.SweepCron, NewStagingSweepTask); err != nil {
		return nil, err
	}
	if err := add(cfg.CleanupCron, func() (*asynq.Task, error) { return NewIdempotencyCleanupTask(cfg.IdempotencyRetention) }); err != nil {
		return nil, err
	}
	return regs, nil
}
