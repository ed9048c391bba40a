package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/textilehq/backoffice/internal/app"
	"github.com/textilehq/backoffice/internal/platform/db"
	"github.com/textilehq/backoffice/jobs"
)

type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
}

func loadRuntime() (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &runtime{cfg: cfg, logger: app.NewLogger(cfg)}, nil
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "backoffice",
		Usage:     "Inventory, sales and profit reconciliation back office",
		Writer:    stdout,
		ErrWriter: stdout,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API",
				Action: func(c *cli.Context) error {
					rt, err := loadRuntime()
					if err != nil {
						return err
					}
					return app.Serve(c.Context, rt.cfg, rt.logger)
				},
			},
			{
				Name:  "worker",
				Usage: "Run the background job worker",
				Action: func(c *cli.Context) error {
					rt, err := loadRuntime()
					if err != nil {
						return err
					}
					return app.RunWorker(c.Context, rt.cfg, rt.logger)
				},
			},
			migrateCommand(),
			jobsCommand(stdout),
			seedCommand(stdout),
		},
	}
}

func migrateCommand() *cli.Command {
	steps := &cli.IntFlag{Name: "steps", Usage: "Number of migrations to apply, 0 for all"}
	run := func(dir db.Direction) cli.ActionFunc {
		return func(c *cli.Context) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			return db.Migrate(rt.cfg.PGDSN, dir, c.Int("steps"), rt.logger)
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back the embedded schema",
		Subcommands: []*cli.Command{
			{Name: string(db.Up), Usage: "Apply pending migrations", Flags: []cli.Flag{steps}, Action: run(db.Up)},
			{Name: string(db.Down), Usage: "Roll back migrations", Flags: []cli.Flag{steps}, Action: run(db.Down)},
		},
	}
}

func jobsCommand(stdout io.Writer) *cli.Command {
	redisFlag := &cli.StringFlag{
		Name:    "redis-addr",
		Usage:   "Redis address of the job queue",
		Value:   "127.0.0.1:6379",
		EnvVars: []string{"REDIS_ADDR"},
	}
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect and trigger background jobs",
		Flags: []cli.Flag{redisFlag},
		Subcommands: []*cli.Command{
			{
				Name:      "trigger",
				Usage:     "Enqueue a job now",
				ArgsUsage: "<" + fmt.Sprint(jobs.Triggerable()) + ">",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "retention", Usage: "Retention for idempotency cleanup", Value: 72 * time.Hour, EnvVars: []string{"IDEMPOTENCY_RETENTION"}},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected one job name, one of %v", jobs.Triggerable())
					}
					ops := newJobsCLI(c.String("redis-addr"))
					defer func() { _ = ops.Close() }()
					info, err := ops.Trigger(c.Context, c.Args().First(), c.Duration("retention"))
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Show queue counters",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Print JSON"}},
				Action: func(c *cli.Context) error {
					ops := newJobsCLI(c.String("redis-addr"))
					defer func() { _ = ops.Close() }()
					stats, err := ops.Stats()
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return json.NewEncoder(stdout).Encode(stats)
					}
					tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\tPROCESSED\tFAILED")
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active,
						stats.Scheduled, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
					return tw.Flush()
				},
			},
			{
				Name:  "scheduled",
				Usage: "List upcoming scheduled tasks",
				Flags: []cli.Flag{&cli.IntFlag{Name: "size", Value: 10}},
				Action: func(c *cli.Context) error {
					ops := newJobsCLI(c.String("redis-addr"))
					defer func() { _ = ops.Close() }()
					tasks, err := ops.ListScheduled(c.Int("size"))
					if err != nil {
						return err
					}
					for _, t := range tasks {
						fmt.Fprintf(stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04:05"))
					}
					return nil
				},
			},
		},
	}
}
