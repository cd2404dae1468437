// Package observability holds the Prometheus collectors recorded during
// metric resolution.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolved       *prometheus.CounterVec
	cacheHits      prometheus.Counter
	failures       *prometheus.CounterVec
	levelDuration  prometheus.Histogram
	sqlQueries     *prometheus.CounterVec
	expectationRun *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_metrics_resolved_total",
			Help: "Metrics computed by a provider, by backend",
		}, []string{"backend"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dq_metric_cache_hits_total",
			Help: "Metric requests served from the per-run resolution cache",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_metric_failures_total",
			Help: "Metric computations that failed, by backend",
		}, []string{"backend"}),
		levelDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dq_resolution_level_duration_seconds",
			Help:    "Time spent resolving one dependency level",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		sqlQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_sql_queries_total",
			Help: "SQL statements issued by the query backend, by kind",
		}, []string{"kind"}),
		expectationRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_expectations_total",
			Help: "Expectations evaluated, by outcome",
		}, []string{"outcome"}),
	}
}

// MetricResolved counts one successful provider computation.
func (m *Metrics) MetricResolved(backend string) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(backend).Inc()
}

// MetricFailed counts one failed provider computation.
func (m *Metrics) MetricFailed(backend string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(backend).Inc()
}

// CacheHit counts one cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// ObserveLevel records the duration of one resolution level.
func (m *Metrics) ObserveLevel(d time.Duration) {
	if m == nil {
		return
	}
	m.levelDuration.Observe(d.Seconds())
}

// SQLQuery counts one statement of the given kind (aggregate, scalar, rows).
func (m *Metrics) SQLQuery(kind string) {
	if m == nil {
		return
	}
	m.sqlQueries.WithLabelValues(kind).Inc()
}

// ExpectationEvaluated counts one expectation by outcome (success, failure, error).
func (m *Metrics) ExpectationEvaluated(outcome string) {
	if m == nil {
		return
	}
	m.expectationRun.WithLabelValues(outcome).Inc()
}
