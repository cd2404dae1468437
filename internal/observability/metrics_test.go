package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.MetricResolved("memory")
	m.MetricResolved("memory")
	m.MetricFailed("sql")
	m.CacheHit()
	m.SQLQuery("aggregate")
	m.ObserveLevel(3 * time.Millisecond)
	m.ExpectationEvaluated("success")

	assert.InDelta(t, 2, testutil.ToFloat64(m.resolved.WithLabelValues("memory")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.failures.WithLabelValues("sql")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheHits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sqlQueries.WithLabelValues("aggregate")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MetricResolved("memory")
		m.MetricFailed("memory")
		m.CacheHit()
		m.ObserveLevel(time.Second)
		m.SQLQuery("rows")
		m.ExpectationEvaluated("error")
	})
}
