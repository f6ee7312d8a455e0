// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nops-io/ccost-roles/pkg/core/config"
	slogutils "github.com/nops-io/ccost-roles/pkg/utils/slog"
	"github.com/nops-io/ccost-roles/pkg/version"
)

func main() {
	app := &cli.App{
		Name:                 "ccost-roles",
		Version:              version.Version,
		EnableBashCompletion: true,
		Usage:                "reconcile the IAM roles of the nOps container cost agent",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enables debug mode, if set",
				Value: false,
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to config file",
				Aliases: []string{"file"},
				EnvVars: []string{"CCOST_ROLES_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "region",
				Usage:   "runtime AWS region",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:    "redis-endpoint",
				Usage:   "redis endpoint to connect to",
				EnvVars: []string{"REDIS_ENDPOINT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			conf, err := config.Load(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("Cannot parse config: %w", err)
			}

			// Overrides from flags/options
			if ctx.IsSet("debug") {
				conf.Debug = ctx.Bool("debug")
			}

			if ctx.IsSet("region") {
				conf.AWS.Region = ctx.String("region")
			}

			if ctx.IsSet("redis-endpoint") {
				conf.Redis.Endpoint = ctx.String("redis-endpoint")
			}

			if conf.Debug {
				conf.Logging.Level = string(slogutils.LevelDebug)
			}

			logger, err := slogutils.NewFromConfig(os.Stderr, conf.Logging)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx.Context = context.WithValue(ctx.Context, configKey{}, conf)
			return nil
		},
		Commands: []*cli.Command{
			NewReconcileCommand(),
			NewPlanCommand(),
			NewWorkerCommand(),
			NewSchedulerCommand(),
			NewTaskCommand(),
			NewQueueCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
