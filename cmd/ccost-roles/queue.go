// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// NewQueueCommand returns a new command for interfacing with the queues.
func NewQueueCommand() *cli.Command {
	nameFlag := &cli.StringFlag{
		Name:    "queue",
		Usage:   "queue name",
		Value:   "default",
		Aliases: []string{"name"},
	}

	cmd := &cli.Command{
		Name:    "queue",
		Usage:   "queue operations",
		Aliases: []string{"q"},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list queues",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck
					queues, err := inspector.Queues()
					if err != nil {
						return err
					}

					if len(queues) == 0 {
						return nil
					}

					table := newTableWriter(os.Stdout, []string{"NAME"})
					for _, item := range queues {
						if err := table.Append([]string{item}); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
			{
				Name:    "info",
				Usage:   "get queue info",
				Aliases: []string{"i"},
				Flags:   []cli.Flag{nameFlag},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck
					q, err := inspector.GetQueueInfo(ctx.String("queue"))
					if err != nil {
						return err
					}

					fmt.Printf("%-20s: %s\n", "Name", q.Queue)
					fmt.Printf("%-20s: %s\n", "Latency", q.Latency.String())
					fmt.Printf("%-20s: %d\n", "Size", q.Size)
					fmt.Printf("%-20s: %d\n", "Pending", q.Pending)
					fmt.Printf("%-20s: %d\n", "Active", q.Active)
					fmt.Printf("%-20s: %d\n", "Scheduled", q.Scheduled)
					fmt.Printf("%-20s: %d\n", "Retry", q.Retry)
					fmt.Printf("%-20s: %d\n", "Archived", q.Archived)
					fmt.Printf("%-20s: %d\n", "Completed", q.Completed)
					fmt.Printf("%-20s: %d\n", "Processed (daily)", q.Processed)
					fmt.Printf("%-20s: %d\n", "Failed (daily)", q.Failed)
					fmt.Printf("%-20s: %v\n", "Paused", q.Paused)

					return nil
				},
			},
			{
				Name:    "pause",
				Usage:   "pause a queue",
				Aliases: []string{"p"},
				Flags:   []cli.Flag{nameFlag},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					return inspector.PauseQueue(ctx.String("queue"))
				},
			},
			{
				Name:    "resume",
				Usage:   "resume a queue",
				Aliases: []string{"r"},
				Flags:   []cli.Flag{nameFlag},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					return inspector.UnpauseQueue(ctx.String("queue"))
				},
			},
		},
	}

	return cmd
}
