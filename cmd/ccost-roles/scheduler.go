// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/nops-io/ccost-roles/pkg/ccost/tasks"
	"github.com/nops-io/ccost-roles/pkg/core/config"
)

// NewSchedulerCommand returns a new command for interfacing with the scheduler.
func NewSchedulerCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "scheduler",
		Usage:   "scheduler operations",
		Aliases: []string{"s"},
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Usage:   "start the scheduler",
				Aliases: []string{"s"},
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "unique-ttl",
						Usage: "period during which a pending reconcile task blocks new ones",
						Value: time.Hour,
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					scheduler := newScheduler(conf)

					task, err := tasks.NewReconcileTask(tasks.ReconcilePayload{})
					if err != nil {
						return err
					}

					// Runs must not overlap, and a failed run is superseded
					// by the next one.
					queue := conf.Scheduler.DefaultQueue
					spec := conf.Scheduler.ReconcileSpec
					id, err := scheduler.Register(
						spec,
						task,
						asynq.Queue(queue),
						asynq.MaxRetry(0),
						asynq.Unique(ctx.Duration("unique-ttl")),
					)
					if err != nil {
						return err
					}
					slog.Info(
						"periodic task registered",
						"id", id,
						"name", task.Type(),
						"spec", spec,
						"queue", queue,
					)

					return scheduler.Run()
				},
			},
			{
				Name:    "jobs",
				Usage:   "list periodic jobs",
				Aliases: []string{"j"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck
					items, err := inspector.SchedulerEntries()
					if err != nil {
						return err
					}

					if len(items) == 0 {
						return nil
					}

					headers := []string{
						"ID",
						"SPEC",
						"TYPE",
						"PREV",
						"NEXT",
						"OPTS",
					}

					table := newTableWriter(os.Stdout, headers)
					for _, item := range items {
						prev := item.Prev.String()
						if item.Prev.IsZero() {
							prev = na
						}

						opts := make([]string, 0, len(item.Opts))
						for _, opt := range item.Opts {
							opts = append(opts, opt.String())
						}

						row := []string{
							item.ID,
							item.Spec,
							item.Task.Type(),
							prev,
							fmt.Sprintf("In %s", time.Until(item.Next).Round(time.Second)),
							strings.Join(opts, ", "),
						}
						if err := table.Append(row); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
		},
	}

	return cmd
}

// newScheduler creates a new [asynq.Scheduler] from the given configuration.
func newScheduler(conf *config.Config) *asynq.Scheduler {
	preEnqueueFunc := func(t *asynq.Task, _ []asynq.Option) {
		slog.Info("enqueueing task", "name", t.Type())
	}

	postEnqueueFunc := func(info *asynq.TaskInfo, err error) {
		if err != nil {
			slog.Warn("cannot enqueue task", "reason", err)
			return
		}
		slog.Info("task enqueued", "name", info.Type, "id", info.ID, "queue", info.Queue)
	}

	opts := &asynq.SchedulerOpts{
		PreEnqueueFunc:  preEnqueueFunc,
		PostEnqueueFunc: postEnqueueFunc,
	}

	return asynq.NewScheduler(newRedisClientOpt(conf), opts)
}
