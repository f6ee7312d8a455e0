// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	"github.com/nops-io/ccost-roles/pkg/ccost/report"
	awsclients "github.com/nops-io/ccost-roles/pkg/clients/aws"
	"github.com/nops-io/ccost-roles/pkg/core/config"
)

// na is the value printed for missing items in tables
const na = "N/A"

// configKey is the key used to store the parsed configuration in the context
type configKey struct{}

// getConfig extracts and returns the [config.Config] from app context.
func getConfig(ctx *cli.Context) *config.Config {
	conf, ok := ctx.Context.Value(configKey{}).(*config.Config)
	if !ok {
		panic("cannot get config from context")
	}

	return conf
}

// newTableWriter returns a new [tablewriter.Table] which writes to w using
// the given headers.
func newTableWriter(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	items := make([]any, 0, len(headers))
	for _, h := range headers {
		items = append(items, h)
	}
	table.Header(items...)

	return table
}

// newRedisClientOpt returns a new [asynq.RedisClientOpt] from the given
// configuration.
func newRedisClientOpt(conf *config.Config) asynq.RedisClientOpt {
	// TODO: Handle authentication, TLS, etc.
	return asynq.RedisClientOpt{
		Addr: conf.Redis.Endpoint,
	}
}

// newInspector returns a new [asynq.Inspector] from the given configuration.
func newInspector(conf *config.Config) *asynq.Inspector {
	return asynq.NewInspector(newRedisClientOpt(conf))
}

// newAsynqClient returns a new [asynq.Client] from the given configuration.
func newAsynqClient(conf *config.Config) *asynq.Client {
	return asynq.NewClient(newRedisClientOpt(conf))
}

// newClientset loads the AWS configuration and returns the clients used for
// reconciliation. The configuration is validated against the resolved
// runtime region.
func newClientset(ctx context.Context, conf *config.Config) (*awsclients.Clientset, error) {
	awsConf, err := awsclients.LoadConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("cannot load AWS config: %w", err)
	}

	cs := awsclients.NewClientset(awsConf)
	if err := conf.Validate(cs.Region()); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cs, nil
}

// reconcileOptions returns the [reconcile.Options] for the given
// configuration and runtime region.
func reconcileOptions(conf *config.Config, home string) reconcile.Options {
	return reconcile.Options{
		HomeRegion:  home,
		Regions:     conf.ScanRegions(home),
		AccountID:   conf.Reconciler.AccountID,
		Concurrency: conf.Reconciler.Concurrency,
		DryRun:      conf.Reconciler.DryRun,
		CheckBucket: conf.Reconciler.CheckBucket,
		ManagedBy:   conf.AWS.AppID,
		DisableTags: !conf.Reconciler.TagRoles,

		HoldUnavailableRegions: conf.Reconciler.HoldUnavailableRegions,
	}
}

// printReportTable prints the outcomes and failed regions of the report as
// tables, followed by a summary line.
func printReportTable(w io.Writer, r *report.Report) error {
	if len(r.Outcomes) > 0 {
		headers := []string{
			"ROLE",
			"ACTION",
			"STATUS",
			"CLUSTER",
			"REGION",
			"KIND",
			"REASON",
		}
		table := newTableWriter(w, headers)
		for _, o := range r.Outcomes {
			reason := na
			if o.Err != nil {
				reason = o.Err.Error()
			}
			kind := string(o.Kind)
			if kind == "" {
				kind = na
			}
			cluster, region := o.Cluster, o.Region
			if cluster == "" {
				cluster = na
			}
			if region == "" {
				region = na
			}

			row := []string{
				o.Role,
				string(o.Action),
				string(o.Status),
				cluster,
				region,
				kind,
				reason,
			}
			if err := table.Append(row); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	failed := make([]report.RegionOutcome, 0)
	for _, ro := range r.RegionOutcomes {
		if ro.Err != nil {
			failed = append(failed, ro)
		}
	}
	if len(failed) > 0 {
		table := newTableWriter(w, []string{"REGION", "ERROR"})
		for _, ro := range failed {
			if err := table.Append([]string{ro.Region, ro.Err.Error()}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	s := r.Summary()
	_, err := fmt.Fprintf(
		w,
		"run %s: %d desired, %d actual, %d unchanged, %d created, %d deleted, %d planned, %d skipped, %d failed, %d regions failed\n",
		r.RunID,
		len(r.Desired),
		len(r.Actual),
		len(r.Unchanged),
		s.Created,
		s.Deleted,
		s.Planned,
		s.Skipped,
		s.Failed,
		s.RegionsFailed,
	)

	return err
}

// printReportJSON prints the report as indented JSON.
func printReportJSON(w io.Writer, r *report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(r)
}
