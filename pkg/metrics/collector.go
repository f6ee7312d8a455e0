// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nops-io/ccost-roles/pkg/core/registry"
)

// DefaultCollector is the default [Collector] for metrics.
var DefaultCollector = NewCollector()

// Collector is an implementation of the [prometheus.Collector] interface,
// which exposes the latest value of a metric only.
//
// The upstream [prometheus.GaugeVec] remembers any previously emitted label
// values. A region, which is no longer configured, or a run, which no longer
// discovers a region, would keep reporting the last known cluster count
// indefinitely.
//
// Metrics added to the [Collector] are reported once and dropped after being
// collected, so that each scrape or push reports the values of the last
// reconciliation run only.
type Collector struct {
	mu sync.Mutex

	// descriptors provides the [prometheus.Desc] descriptors of the metrics
	// provided by the collector.
	descriptors []*prometheus.Desc

	// reg is the internal [registry.Registry] used by the collector.
	reg *registry.Registry[string, prometheus.Metric]
}

var _ prometheus.Collector = &Collector{}

// AddDesc adds the given [prometheus.Desc] to the [Collector].
func (c *Collector) AddDesc(items ...*prometheus.Desc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors = append(c.descriptors, items...)
}

// AddMetric adds the given [prometheus.Metric] to the [Collector]. The metric
// will then be exposed by the [Collector] during scraping.
//
// The `key' is an `idempotency key', which associates a given metric and its
// label values with the internal [Collector] registry.
//
// It is up to the caller to use the same `idempotency key' for the same metric
// and label values, so that duplicate metrics are not reported by the
// collector.
func (c *Collector) AddMetric(key string, metric prometheus.Metric) {
	c.reg.Overwrite(key, metric)
}

// Describe implements the [prometheus.Collector] interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, desc := range c.descriptors {
		ch <- desc
	}
}

// Collect implements the [prometheus.Collector] interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// After a metric has been collected we make sure that we remove it from
	// the internal registry, so that no stale metric stays with us.
	keys := make([]string, 0)
	_ = c.reg.Range(func(k string, metric prometheus.Metric) error {
		keys = append(keys, k)
		ch <- metric

		return nil
	})

	for _, k := range keys {
		c.reg.Unregister(k)
	}
}

// NewCollector creates a new [Collector]
func NewCollector() *Collector {
	c := &Collector{
		descriptors: make([]*prometheus.Desc, 0),
		reg:         registry.New[string, prometheus.Metric](),
	}

	return c
}

// Key is a utility function, which derives a key from the given items. The
// derived key can be used as an `idempotency key' for metrics when adding them
// via [Collector.AddMetric].
func Key(item string, rest ...string) string {
	items := []string{item}
	items = append(items, rest...)

	return strings.Join(items, "/")
}
