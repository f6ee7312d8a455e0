// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/nops-io/ccost-roles/pkg/ccost/report"
)

// Namespace is the namespace component of the fully qualified metric name
const Namespace = "ccost"

// Results of a reconciliation run.
const (
	ResultOK       = "ok"
	ResultDegraded = "degraded"
	ResultError    = "error"
)

// DefaultRegistry is the default [prometheus.Registry] for metrics.
var DefaultRegistry = prometheus.NewPedanticRegistry()

var (
	// TaskExecutionTotal is a metric, which gets incremented each time a
	// task has been called.
	TaskExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_execution_total",
			Help:      "Total number of times a task has been executed",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskSuccessfulTotal is a metric, which gets incremented each time a
	// task has finished successfully.
	TaskSuccessfulTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_successful_total",
			Help:      "Total number of times a task has finished successfully",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskFailedTotal is a metric, which gets incremented each time a task
	// has failed.
	TaskFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_failed_total",
			Help:      "Total number of times a task has failed",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskSkippedTotal is a metric, which gets incremented each time a task
	// has failed without being retried.
	TaskSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_skipped_total",
			Help:      "Total number of times a task has failed and was not retried",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskDurationSeconds is a metric, which tracks the duration of
	// successful task executions.
	TaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of successful task executions in seconds",
		},
		[]string{"task_name", "task_queue"},
	)

	// RunsTotal is a metric, which gets incremented each time a
	// reconciliation run finishes.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by result",
		},
		[]string{"result", "dry_run"},
	)

	// RoleOutcomesTotal is a metric, which counts the processed roles.
	RoleOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "role_outcomes_total",
			Help:      "Total number of processed roles by action, status and kind",
		},
		[]string{"action", "status", "kind"},
	)

	// RunDurationSeconds is a metric, which tracks the duration of
	// reconciliation runs.
	RunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	// LastRunTimestamp is a metric, which tracks the time of the last
	// finished reconciliation run.
	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished reconciliation run",
		},
	)
)

var (
	// regionClustersDesc is the descriptor for the number of clusters
	// discovered per region.
	regionClustersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", "region_clusters"),
		"Number of clusters discovered in a region during the last run",
		[]string{"region"},
		nil,
	)

	// regionErrorsDesc is the descriptor for regions, which could not be
	// scanned.
	regionErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", "region_discovery_failed"),
		"Whether cluster discovery failed for a region during the last run",
		[]string{"region"},
		nil,
	)

	// rolesDesc is the descriptor for the size of the role sets.
	rolesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", "roles"),
		"Number of managed roles per set during the last run",
		[]string{"set"},
		nil,
	)
)

// NewServer returns a new [http.Server] which can serve the metrics from
// [DefaultRegistry] and any extra gatherers on the specified network address
// and HTTP path. Callers are responsible for starting up and shutting down the
// HTTP server.
func NewServer(addr, path string, extra ...prometheus.Gatherer) *http.Server {
	gatherers := prometheus.Gatherers{DefaultRegistry}
	gatherers = append(gatherers, extra...)

	mux := http.NewServeMux()
	mux.Handle(
		path,
		promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}),
	)

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: time.Second * 30,
		Handler:           mux,
	}

	return server
}

// Push pushes the metrics from [DefaultRegistry] to the Pushgateway at the
// given URL. It is meant for one-shot runs, which do not live long enough to
// be scraped.
func Push(ctx context.Context, url, job string) error {
	return push.New(url, job).
		Gatherer(DefaultRegistry).
		PushContext(ctx)
}

// Observe records the metrics of a finished reconciliation run.
func Observe(r *report.Report) {
	result := ResultOK
	if r.Degraded() {
		result = ResultDegraded
	}
	RunsTotal.WithLabelValues(result, strconv.FormatBool(r.DryRun)).Inc()

	for _, o := range r.Outcomes {
		RoleOutcomesTotal.WithLabelValues(string(o.Action), string(o.Status), string(o.Kind)).Inc()
	}

	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		RunDurationSeconds.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
		LastRunTimestamp.Set(float64(r.FinishedAt.Unix()))
	}

	for _, ro := range r.RegionOutcomes {
		failed := 0.0
		if ro.Err != nil {
			failed = 1.0
		}
		DefaultCollector.AddMetric(
			Key("region_clusters", ro.Region),
			prometheus.MustNewConstMetric(regionClustersDesc, prometheus.GaugeValue, float64(ro.Clusters), ro.Region),
		)
		DefaultCollector.AddMetric(
			Key("region_discovery_failed", ro.Region),
			prometheus.MustNewConstMetric(regionErrorsDesc, prometheus.GaugeValue, failed, ro.Region),
		)
	}

	sets := map[string]int{
		"desired":   len(r.Desired),
		"actual":    len(r.Actual),
		"unchanged": len(r.Unchanged),
	}
	for name, n := range sets {
		DefaultCollector.AddMetric(
			Key("roles", name),
			prometheus.MustNewConstMetric(rolesDesc, prometheus.GaugeValue, float64(n), name),
		)
	}
}

// ObserveError records a reconciliation run, which failed before any role was
// processed.
func ObserveError(dryRun bool) {
	RunsTotal.WithLabelValues(ResultError, strconv.FormatBool(dryRun)).Inc()
}

// init registers collectors with the [DefaultRegistry].
func init() {
	DefaultCollector.AddDesc(regionClustersDesc, regionErrorsDesc, rolesDesc)

	DefaultRegistry.MustRegister(
		// Reconciler metrics
		TaskExecutionTotal,
		TaskSuccessfulTotal,
		TaskFailedTotal,
		TaskSkippedTotal,
		TaskDurationSeconds,
		RunsTotal,
		RoleOutcomesTotal,
		RunDurationSeconds,
		LastRunTimestamp,
		DefaultCollector,

		// Standard Go metrics
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}
