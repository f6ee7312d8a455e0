// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Command ccost-roles-lambda runs a reconciliation pass per invocation, e.g.
// from a scheduled EventBridge rule.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	"github.com/nops-io/ccost-roles/pkg/ccost/report"
	awsclients "github.com/nops-io/ccost-roles/pkg/clients/aws"
	"github.com/nops-io/ccost-roles/pkg/core/config"
	slogutils "github.com/nops-io/ccost-roles/pkg/utils/slog"
)

// Response is returned for each invocation.
type Response struct {
	RunID   string         `json:"run_id"`
	DryRun  bool           `json:"dry_run"`
	Summary report.Summary `json:"summary"`
}

// configFromEnv returns the configuration for an invocation. The environment
// variable names match the parameters of the deployment template.
func configFromEnv(getenv func(string) string) (*config.Config, error) {
	conf, err := config.Load(getenv("CCOST_ROLES_CONFIG"))
	if err != nil {
		return nil, err
	}
	conf.Logging.Format = string(slogutils.FormatJSON)

	if v := getenv("IncludeRegions"); v != "" {
		conf.Reconciler.Regions = config.ParseRegions(v)
	}
	if v := getenv("AccountId"); v != "" {
		conf.Reconciler.AccountID = v
	}
	if v := getenv("AWS_REGION"); v != "" {
		conf.AWS.Region = v
	}
	if v := getenv("DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRY_RUN: %w", err)
		}
		conf.Reconciler.DryRun = dryRun
	}

	return conf, nil
}

func handler(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	conf, err := configFromEnv(os.Getenv)
	if err != nil {
		return Response{}, err
	}

	logger, err := slogutils.NewFromConfig(os.Stdout, conf.Logging)
	if err != nil {
		return Response{}, err
	}
	slog.SetDefault(logger)
	logger.Info("invoked", "event_id", event.ID, "source", event.Source)

	awsConf, err := awsclients.LoadConfig(ctx, conf)
	if err != nil {
		return Response{}, err
	}
	cs := awsclients.NewClientset(awsConf)
	if err := conf.Validate(cs.Region()); err != nil {
		return Response{}, err
	}

	opts := reconcile.Options{
		HomeRegion:  cs.Region(),
		Regions:     conf.ScanRegions(cs.Region()),
		AccountID:   conf.Reconciler.AccountID,
		Concurrency: conf.Reconciler.Concurrency,
		DryRun:      conf.Reconciler.DryRun,
		CheckBucket: conf.Reconciler.CheckBucket,
		ManagedBy:   conf.AWS.AppID,
		DisableTags: !conf.Reconciler.TagRoles,

		HoldUnavailableRegions: conf.Reconciler.HoldUnavailableRegions,
	}

	r, err := reconcile.Run(ctx, opts, cs.ReconcileClients())
	if err != nil {
		return Response{}, err
	}

	return Response{
		RunID:   r.RunID,
		DryRun:  r.DryRun,
		Summary: r.Summary(),
	}, nil
}

func main() {
	lambda.Start(handler)
}
