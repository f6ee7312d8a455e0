// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	asynqmetrics "github.com/hibiken/asynq/x/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/nops-io/ccost-roles/pkg/ccost/tasks"
	awsclients "github.com/nops-io/ccost-roles/pkg/clients/aws"
	"github.com/nops-io/ccost-roles/pkg/core/registry"
	"github.com/nops-io/ccost-roles/pkg/metrics"
	asynqutils "github.com/nops-io/ccost-roles/pkg/utils/asynq"
	"github.com/nops-io/ccost-roles/pkg/utils/asynq/worker"
)

// NewWorkerCommand returns a new command for interfacing with the workers.
func NewWorkerCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "worker",
		Usage:   "worker operations",
		Aliases: []string{"w"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "number of concurrent workers to start",
				EnvVars: []string{"CONCURRENCY_LEVEL"},
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "start the workers",
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					if ctx.IsSet("concurrency") {
						conf.Worker.Concurrency = ctx.Int("concurrency")
					}

					// Initialize clients in workers
					cs, err := newClientset(ctx.Context, conf)
					if err != nil {
						return err
					}
					awsclients.SetDefault(cs)
					tasks.DefaultHandler.SetOptions(reconcileOptions(conf, cs.Region()))

					opts := []worker.Option{
						worker.WithErrorHandler(asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
							slog.Error("task failed", "name", t.Type(), "reason", err)
						})),
					}
					if conf.Debug {
						opts = append(opts, worker.WithLogLevel(asynq.DebugLevel))
					}

					w := worker.NewFromConfig(
						newRedisClientOpt(conf),
						conf.Worker,
						conf.Scheduler.DefaultQueue,
						opts...,
					)
					w.UseMiddlewares(
						asynqutils.NewLoggerMiddleware(slog.Default()),
						asynqutils.NewMeasuringMiddleware(),
						asynqutils.NewMetricsMiddleware(),
					)

					// Register our task handlers
					w.HandlersFromRegistry(registry.TaskRegistry)

					// Queue metrics are collected from Redis on each scrape
					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck
					queueRegistry := prometheus.NewRegistry()
					queueRegistry.MustRegister(asynqmetrics.NewQueueMetricsCollector(inspector))

					metricsServer := metrics.NewServer(
						conf.Worker.Metrics.Address,
						conf.Worker.Metrics.Path,
						queueRegistry,
					)
					go func() {
						slog.Info(
							"starting metrics server",
							"address", conf.Worker.Metrics.Address,
							"path", conf.Worker.Metrics.Path,
						)
						if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							slog.Error("metrics server failed", "reason", err)
						}
					}()
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
						defer cancel()
						if err := metricsServer.Shutdown(shutdownCtx); err != nil {
							slog.Error("cannot shutdown metrics server", "reason", err)
						}
					}()

					return w.Run()
				},
			},
		},
	}

	return cmd
}
