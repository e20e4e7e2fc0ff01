// Package metrics provides internal metrics collection for the query
// pipeline. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records pipeline metrics against its own registry so that
// multiple engines can coexist in one process. A nil *Collector is a
// valid no-op recorder.
type Collector struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	subQueriesPerQuery prometheus.Histogram
	planCost           prometheus.Histogram

	reasoningSteps    prometheus.Histogram
	retrievalDuration *prometheus.HistogramVec
	retrievalFailures prometheus.Counter
	earlyTerminations prometheus.Counter

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter

	conflictsDetected prometheus.Counter
	conflictsResolved *prometheus.CounterVec
}

// NewCollector creates a collector under the given namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of processed queries",
		},
		[]string{"status"},
	)

	c.queryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"query_type"},
	)

	c.subQueriesPerQuery = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sub_queries_per_query",
			Help:      "Number of sub-queries produced by decomposition",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	c.planCost = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_estimated_cost",
			Help:      "Estimated cost of retrieval plans",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	c.reasoningSteps = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_steps",
			Help:      "Reasoning steps executed per chain",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		},
	)

	c.retrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of individual retrieval steps",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	c.retrievalFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_failures_total",
			Help:      "Total number of failed retrieval steps",
		},
	)

	c.earlyTerminations = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "early_terminations_total",
			Help:      "Reasoning chains stopped early on sufficient results",
		},
	)

	c.cacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	c.cacheEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions",
		},
	)

	c.conflictsDetected = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Total number of detected result conflicts",
		},
	)

	c.conflictsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_resolved_total",
			Help:      "Total number of resolved result conflicts",
		},
		[]string{"strategy"},
	)

	return c
}

// Registry exposes the collector's registry for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordQuery records one end-to-end query.
func (c *Collector) RecordQuery(queryType, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.queriesTotal.WithLabelValues(status).Inc()
	c.queryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// RecordDecomposition records the fan-out of one decomposition.
func (c *Collector) RecordDecomposition(subQueries int) {
	if c == nil {
		return
	}
	c.subQueriesPerQuery.Observe(float64(subQueries))
}

// RecordPlanCost records the estimated cost of a plan.
func (c *Collector) RecordPlanCost(cost float64) {
	if c == nil {
		return
	}
	c.planCost.Observe(cost)
}

// RecordReasoningChain records steps executed and whether the chain
// terminated early.
func (c *Collector) RecordReasoningChain(steps int, early bool) {
	if c == nil {
		return
	}
	c.reasoningSteps.Observe(float64(steps))
	if early {
		c.earlyTerminations.Inc()
	}
}

// RecordRetrieval records one retrieval step. Mode is "parallel" or
// "sequential".
func (c *Collector) RecordRetrieval(mode string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.retrievalDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if err != nil {
		c.retrievalFailures.Inc()
	}
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordCacheEviction records a capacity eviction.
func (c *Collector) RecordCacheEviction() {
	if c == nil {
		return
	}
	c.cacheEvictions.Inc()
}

// RecordConflictDetected records a detected result conflict.
func (c *Collector) RecordConflictDetected() {
	if c == nil {
		return
	}
	c.conflictsDetected.Inc()
}

// RecordConflictResolved records a resolved conflict by strategy.
func (c *Collector) RecordConflictResolved(strategy string) {
	if c == nil {
		return
	}
	c.conflictsResolved.WithLabelValues(strategy).Inc()
}
