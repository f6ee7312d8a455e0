// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/nops-io/ccost-roles/pkg/ccost/tasks"
	"github.com/nops-io/ccost-roles/pkg/core/config"
	"github.com/nops-io/ccost-roles/pkg/core/registry"
)

// queueFlag returns the flag for selecting a queue.
func queueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "name of queue to use",
		Value:   "default",
	}
}

// taskStateCommand returns a command, which lists the tasks in the given
// state.
func taskStateCommand(name, usage string, state asynq.TaskState) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			queueFlag(),
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "page number to retrieve",
				Value:   1,
			},
			&cli.IntFlag{
				Name:    "size",
				Aliases: []string{"s"},
				Usage:   "page size to use",
				Value:   50,
			},
		},
		Action: func(ctx *cli.Context) error {
			return printTasksInState(ctx, state)
		},
	}
}

// NewTaskCommand returns a [cli.Command] for interfacing with task-related
// operations.
func NewTaskCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "task",
		Usage:   "task operations",
		Aliases: []string{"t"},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list registered tasks",
				Aliases: []string{"ls"},
				Action: func(_ *cli.Context) error {
					names := registry.TaskRegistry.Keys()
					sort.Strings(names)
					for _, name := range names {
						fmt.Println(name)
					}

					return nil
				},
			},
			{
				Name:    "enqueue",
				Usage:   "submit a task",
				Aliases: []string{"submit"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "task",
						Aliases: []string{"t"},
						Usage:   "name of task to enqueue",
						Value:   tasks.TaskReconcile,
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "task payload",
					},
					&cli.PathFlag{
						Name:  "payload-file",
						Usage: "path to a payload file",
					},
					queueFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "set timeout for task",
						Value: 30 * time.Minute,
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					taskName := ctx.String("task")
					if !registry.TaskRegistry.Exists(taskName) {
						return fmt.Errorf("unknown task %q", taskName)
					}

					var payload []byte
					payloadData := ctx.String("payload")
					payloadFile := ctx.Path("payload-file")
					switch {
					case payloadData != "" && payloadFile != "":
						return errors.New("cannot use --payload and --payload-file at the same time")
					case payloadData != "":
						payload = []byte(payloadData)
					case payloadFile != "":
						data, err := os.ReadFile(filepath.Clean(payloadFile))
						if err != nil {
							return fmt.Errorf("cannot read payload file: %w", err)
						}
						payload = data
					}

					client := newAsynqClient(conf)
					defer client.Close() // nolint: errcheck

					task := asynq.NewTask(taskName, payload)
					opts := []asynq.Option{
						asynq.Queue(ctx.String("queue")),
						asynq.Timeout(ctx.Duration("timeout")),
						asynq.MaxRetry(0),
					}
					info, err := client.EnqueueContext(ctx.Context, task, opts...)
					if err != nil {
						return fmt.Errorf("cannot enqueue %q task: %w", taskName, err)
					}

					fmt.Printf("%s/%s\n", info.Queue, info.ID)

					return nil
				},
			},
			{
				Name:    "inspect",
				Usage:   "inspect a task",
				Aliases: []string{"i"},
				Flags: []cli.Flag{
					queueFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					return inspectTask(conf, ctx.String("queue"), ctx.String("id"))
				},
			},
			{
				Name:    "cancel",
				Usage:   "cancel a running task",
				Aliases: []string{"c"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck

					return inspector.CancelProcessing(ctx.String("id"))
				},
			},
			{
				Name:    "delete",
				Usage:   "delete a task",
				Aliases: []string{"d"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
					queueFlag(),
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck

					return inspector.DeleteTask(ctx.String("queue"), ctx.String("id"))
				},
			},
			taskStateCommand("active", "list active tasks", asynq.TaskStateActive),
			taskStateCommand("pending", "list pending tasks", asynq.TaskStatePending),
			taskStateCommand("archived", "list archived tasks", asynq.TaskStateArchived),
			taskStateCommand("completed", "list completed tasks", asynq.TaskStateCompleted),
			taskStateCommand("retried", "list retried tasks", asynq.TaskStateRetry),
			taskStateCommand("scheduled", "list scheduled tasks", asynq.TaskStateScheduled),
		},
	}

	return cmd
}

// inspectTask prints the details of the given task.
func inspectTask(conf *config.Config, queue, id string) error {
	inspector := newInspector(conf)
	defer inspector.Close() // nolint: errcheck
	info, err := inspector.GetTaskInfo(queue, id)
	if err != nil {
		return err
	}

	timeOrNA := func(t time.Time) string {
		if t.IsZero() {
			return na
		}

		return t.String()
	}

	fmt.Printf("%-20s: %s\n", "ID", info.ID)
	fmt.Printf("%-20s: %s\n", "Queue", info.Queue)
	fmt.Printf("%-20s: %s\n", "Type/Name", info.Type)
	fmt.Printf("%-20s: %v\n", "State", info.State)
	fmt.Printf("%-20s: %s\n", "Is Orphaned", strconv.FormatBool(info.IsOrphaned))
	fmt.Printf("%-20s: %d/%d\n", "Retry", info.Retried, info.MaxRetry)
	fmt.Printf("%-20s: %s\n", "Timeout", info.Timeout.String())
	fmt.Printf("%-20s: %s\n", "Deadline", timeOrNA(info.Deadline))
	fmt.Printf("%-20s: %s\n", "Last Failed At", timeOrNA(info.LastFailedAt))
	fmt.Printf("%-20s: %s\n", "Next Process At", timeOrNA(info.NextProcessAt))
	fmt.Printf("%-20s: %s\n", "Completed At", timeOrNA(info.CompletedAt))

	fmt.Printf("\nLast Error\n")
	fmt.Println("----------")
	fmt.Printf("%s\n", info.LastErr)

	fmt.Printf("\nPayload\n")
	fmt.Println("-------")
	if info.Payload != nil {
		fmt.Printf("%s\n", string(info.Payload))
	} else {
		fmt.Println("<nil>")
	}

	return nil
}

// printTasksInState prints the tasks in the given state
func printTasksInState(ctx *cli.Context, state asynq.TaskState) error {
	page := ctx.Int("page")
	size := ctx.Int("size")
	queueName := ctx.String("queue")
	conf := getConfig(ctx)
	inspector := newInspector(conf)
	defer inspector.Close() // nolint: errcheck

	stateToFunc := map[asynq.TaskState]func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		asynq.TaskStateActive:    inspector.ListActiveTasks,
		asynq.TaskStatePending:   inspector.ListPendingTasks,
		asynq.TaskStateArchived:  inspector.ListArchivedTasks,
		asynq.TaskStateCompleted: inspector.ListCompletedTasks,
		asynq.TaskStateRetry:     inspector.ListRetryTasks,
		asynq.TaskStateScheduled: inspector.ListScheduledTasks,
	}

	getFunc, ok := stateToFunc[state]
	if !ok {
		return fmt.Errorf("unknown task state: %v", state)
	}

	items, err := getFunc(queueName, asynq.Page(page), asynq.PageSize(size))
	if err != nil {
		return err
	}

	if len(items) == 0 {
		return nil
	}

	headers := []string{
		"ID",
		"TYPE",
		"RETRIED",
		"IS ORPHANED",
	}
	table := newTableWriter(os.Stdout, headers)
	for _, item := range items {
		row := []string{
			item.ID,
			item.Type,
			fmt.Sprintf("%d/%d", item.Retried, item.MaxRetry),
			strconv.FormatBool(item.IsOrphaned),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}
