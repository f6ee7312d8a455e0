// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	"github.com/nops-io/ccost-roles/pkg/core/config"
	"github.com/nops-io/ccost-roles/pkg/metrics"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// errDegraded is returned when --fail-on-degraded is set and the run recorded
// failures.
var errDegraded = errors.New("reconciliation degraded")

// reconcileFlags returns the flags shared by the reconcile and plan commands.
func reconcileFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "regions",
			Usage:   "comma-separated list of regions to scan for clusters",
			EnvVars: []string{"INCLUDE_REGIONS", "IncludeRegions"},
		},
		&cli.StringFlag{
			Name:    "account-id",
			Usage:   "account used in the constructed ARNs",
			EnvVars: []string{"ACCOUNT_ID", "AccountId"},
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "number of regions and roles processed in parallel",
		},
		&cli.BoolFlag{
			Name:  "check-bucket",
			Usage: "verify the per-account bucket exists",
		},
		&cli.BoolFlag{
			Name:  "hold-unavailable-regions",
			Usage: "keep the roles of regions, whose clusters could not be listed",
		},
		&cli.BoolFlag{
			Name:  "fail-on-degraded",
			Usage: "exit with an error when a region or role failed",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format, table or json",
			Value:   outputTable,
		},
		&cli.StringFlag{
			Name:    "pushgateway-url",
			Usage:   "push metrics to the given Prometheus Pushgateway",
			EnvVars: []string{"PUSHGATEWAY_URL"},
		},
	}
}

// NewReconcileCommand returns a new command, which runs a single
// reconciliation pass.
func NewReconcileCommand() *cli.Command {
	flags := reconcileFlags()
	flags = append(flags, &cli.BoolFlag{
		Name:    "dry-run",
		Usage:   "report the planned changes without applying them",
		EnvVars: []string{"DRY_RUN"},
	})

	cmd := &cli.Command{
		Name:    "reconcile",
		Usage:   "reconcile the roles with the discovered clusters",
		Aliases: []string{"r"},
		Flags:   flags,
		Action: func(ctx *cli.Context) error {
			return runReconcile(ctx, false)
		},
	}

	return cmd
}

// NewPlanCommand returns a new command, which reports the planned changes
// without mutating any role.
func NewPlanCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "plan",
		Usage:   "show the planned changes",
		Aliases: []string{"p"},
		Flags:   reconcileFlags(),
		Action: func(ctx *cli.Context) error {
			return runReconcile(ctx, true)
		},
	}

	return cmd
}

// applyReconcileFlags overrides the reconciler settings of conf from the
// command flags.
func applyReconcileFlags(ctx *cli.Context, conf *config.Config, forceDryRun bool) {
	if ctx.IsSet("regions") {
		conf.Reconciler.Regions = config.ParseRegions(ctx.String("regions"))
	}

	if ctx.IsSet("account-id") {
		conf.Reconciler.AccountID = ctx.String("account-id")
	}

	if ctx.IsSet("concurrency") {
		conf.Reconciler.Concurrency = ctx.Int("concurrency")
	}

	if ctx.IsSet("check-bucket") {
		conf.Reconciler.CheckBucket = ctx.Bool("check-bucket")
	}

	if ctx.IsSet("hold-unavailable-regions") {
		conf.Reconciler.HoldUnavailableRegions = ctx.Bool("hold-unavailable-regions")
	}

	if ctx.IsSet("dry-run") {
		conf.Reconciler.DryRun = ctx.Bool("dry-run")
	}

	if ctx.IsSet("pushgateway-url") {
		conf.Metrics.Pushgateway.URL = ctx.String("pushgateway-url")
	}

	if forceDryRun {
		conf.Reconciler.DryRun = true
	}
}

// runReconcile runs a single reconciliation pass and prints its report.
func runReconcile(ctx *cli.Context, forceDryRun bool) error {
	output := ctx.String("output")
	if output != outputTable && output != outputJSON {
		return fmt.Errorf("unsupported output format %q", output)
	}

	conf := getConfig(ctx)
	applyReconcileFlags(ctx, conf, forceDryRun)

	cs, err := newClientset(ctx.Context, conf)
	if err != nil {
		return err
	}

	opts := reconcileOptions(conf, cs.Region())
	r, runErr := reconcile.Run(ctx.Context, opts, cs.ReconcileClients())

	if pg := conf.Metrics.Pushgateway; pg.URL != "" {
		if err := metrics.Push(ctx.Context, pg.URL, pg.Job); err != nil {
			slog.Warn("cannot push metrics", "url", pg.URL, "reason", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	switch output {
	case outputJSON:
		err = printReportJSON(os.Stdout, r)
	default:
		err = printReportTable(os.Stdout, r)
	}
	if err != nil {
		return err
	}

	if ctx.Bool("fail-on-degraded") && r.Degraded() {
		return cli.Exit(fmt.Errorf("%w: %v", errDegraded, r.SortedKinds()), 2)
	}

	return nil
}
