package builtin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/batch"
	"duck-expect/internal/db"
	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/mapmetric"
	"duck-expect/internal/metric"
	"duck-expect/internal/observability"
	"duck-expect/internal/validator"
)

var (
	fixtureColumns = []string{"age", "name", "seq", "a", "b"}
	fixtureRows    = [][]any{
		{10, "ann", 1, 1, 1},
		{20, "bobby", 3, 2, 2},
		{nil, nil, 2, 3, 4},
		{40, "cy", nil, nil, 4},
	}
)

type backend struct {
	v       *validator.Validator
	queries *prometheus.Registry
}

// newBackends loads the fixture into every execution backend. SQL backends
// record issued statements on their own Prometheus registry.
func newBackends(t *testing.T) map[string]backend {
	t.Helper()
	ctx := context.Background()
	frame, err := memory.NewFrame(fixtureColumns, fixtureRows)
	require.NoError(t, err)
	out := map[string]backend{}

	memReg, err := NewRegistry()
	require.NoError(t, err)
	mem := memory.New(memReg)
	mem.LoadBatch("fixture", frame)
	out["memory"] = backend{v: validator.New(mem)}

	lazyReg, err := NewRegistry()
	require.NoError(t, err)
	lf, err := batch.Partition(frame, 3, 2)
	require.NoError(t, err)
	lz := lazy.New(lazyReg)
	lz.LoadBatch("fixture", lf)
	out["lazy"] = backend{v: validator.New(lz)}

	for _, dialect := range []sqlengine.Dialect{sqlengine.DialectSQLite, sqlengine.DialectDuckDB} {
		dsn := ""
		if dialect == sqlengine.DialectSQLite {
			dsn = filepath.Join(t.TempDir(), "fixture.db")
		}
		conn, err := db.Open(dialect.DriverName(), dsn, 2)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, batch.LoadSQL(ctx, conn, "fixture", frame))

		sqlReg, err := NewRegistry()
		require.NoError(t, err)
		promReg := prometheus.NewRegistry()
		eng := sqlengine.New(conn, dialect, sqlReg, sqlengine.WithMetrics(observability.NewMetrics(promReg)))
		require.NoError(t, eng.RegisterBatch("fixture", "fixture"))
		out[string(dialect)] = backend{v: validator.New(eng), queries: promReg}
	}
	return out
}

func sqlQueryCount(t *testing.T, reg *prometheus.Registry, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "dq_sql_queries_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestNonNull_MemoryScenario(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry()
	require.NoError(t, err)
	eng := memory.New(reg)
	frame, err := memory.FromColumns([]string{"age"}, map[string][]any{"age": {10, 20, nil, 40}})
	require.NoError(t, err)
	eng.LoadBatch("b", frame)
	v := validator.New(eng)

	dom := domain.Kwargs{"column": "age"}
	rf := domain.Kwargs{"result_format": map[string]any{"result_format": "BASIC", "partial_unexpected_count": 10}}
	count := metric.NewIdentity("column_values.nonnull.unexpected_count", dom, nil)
	values := metric.NewIdentity("column_values.nonnull.unexpected_values", dom, rf)
	rows := metric.NewIdentity("table.row_count", domain.Kwargs{}, nil)

	got, err := v.Resolve(ctx, count, values, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, got[count.Key()])
	assert.Equal(t, []any{nil}, got[values.Key()])
	assert.Equal(t, 4, got[rows.Key()])
}

func TestColumnAggregates_AcrossBackends(t *testing.T) {
	ctx := context.Background()
	dom := domain.Kwargs{"column": "age"}
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			minID := metric.NewIdentity("column.min", dom, nil)
			maxID := metric.NewIdentity("column.max", dom, nil)
			meanID := metric.NewIdentity("column.mean", dom, nil)
			stdevID := metric.NewIdentity("column.standard_deviation", dom, nil)
			rowsID := metric.NewIdentity("table.row_count", domain.Kwargs{}, nil)

			got, err := b.v.Resolve(ctx, minID, maxID, meanID, stdevID, rowsID)
			require.NoError(t, err)
			assert.Equal(t, int64(10), got[minID.Key()])
			assert.Equal(t, int64(40), got[maxID.Key()])
			assert.InDelta(t, 70.0/3, got[meanID.Key()], 1e-9)
			assert.InDelta(t, 15.2752523, got[stdevID.Key()], 1e-6)
			assert.Equal(t, 4, got[rowsID.Key()])

			distinct, err := b.v.ResolveOne(ctx, metric.NewIdentity("column.distinct_values", domain.Kwargs{"column": "name"}, nil))
			require.NoError(t, err)
			assert.Equal(t, []any{"ann", "bobby", "cy"}, distinct)
		})
	}
}

func TestAggregates_BundledIntoOneQuery(t *testing.T) {
	ctx := context.Background()
	b := newBackends(t)["duckdb"]
	_, err := b.v.ResolveOne(ctx, metric.NewIdentity("table.row_count", domain.Kwargs{}, nil))
	require.NoError(t, err)
	require.InDelta(t, 1, sqlQueryCount(t, b.queries, "aggregate"), 0)

	dom := domain.Kwargs{"column": "age"}
	_, err = b.v.Resolve(ctx,
		metric.NewIdentity("column.min", dom, nil),
		metric.NewIdentity("column.max", dom, nil),
		metric.NewIdentity("column.mean", dom, nil),
	)
	require.NoError(t, err)
	assert.InDelta(t, 2, sqlQueryCount(t, b.queries, "aggregate"), 0)
}

func conditionParser(backend string) string {
	if backend == "memory" || backend == "lazy" {
		return "cel"
	}
	return "sql"
}

func TestColumnConditions_AcrossBackends(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		metric     string
		domain     domain.Kwargs
		value      domain.Kwargs
		wantCount  int
		wantIndex  []int
		wantValues []any
	}{
		{
			name: "nonnull", metric: "column_values.nonnull",
			domain: domain.Kwargs{"column": "age"}, wantCount: 1, wantIndex: []int{2}, wantValues: []any{nil},
		},
		{
			name: "null", metric: "column_values.null",
			domain: domain.Kwargs{"column": "age"}, wantCount: 3, wantIndex: []int{0, 1, 3},
			wantValues: []any{int64(10), int64(20), int64(40)},
		},
		{
			name: "in_set", metric: "column_values.in_set",
			domain: domain.Kwargs{"column": "age"}, value: domain.Kwargs{"value_set": []any{10, 20}},
			wantCount: 1, wantIndex: []int{3}, wantValues: []any{int64(40)},
		},
		{
			name: "between", metric: "column_values.between",
			domain: domain.Kwargs{"column": "age"}, value: domain.Kwargs{"min_value": 15, "max_value": 40, "strict_max": true},
			wantCount: 2, wantIndex: []int{0, 3}, wantValues: []any{int64(10), int64(40)},
		},
		{
			name: "like_patterns_case_sensitive", metric: "column_values.not_match_like_pattern_list",
			domain: domain.Kwargs{"column": "name"}, value: domain.Kwargs{"like_pattern_list": []any{"b%", "A%"}},
			wantCount: 1, wantIndex: []int{1}, wantValues: []any{"bobby"},
		},
		{
			name: "increasing", metric: "column_values.increasing",
			domain: domain.Kwargs{"column": "seq"},
			wantCount: 1, wantIndex: []int{2}, wantValues: []any{int64(2)},
		},
		{
			name: "value_length", metric: "column_values.value_length.equals",
			domain: domain.Kwargs{"column": "name"}, value: domain.Kwargs{"value": 3},
			wantCount: 2, wantIndex: []int{1, 3}, wantValues: []any{"bobby", "cy"},
		},
		{
			name: "z_score", metric: "column_values.z_score.under_threshold",
			domain: domain.Kwargs{"column": "age"}, value: domain.Kwargs{"threshold": 1.0, "double_sided": true},
			wantCount: 1, wantIndex: []int{3}, wantValues: []any{int64(40)},
		},
		{
			name: "pair_equal", metric: "column_pair_values.equal",
			domain: domain.Kwargs{"column_A": "a", "column_B": "b"},
			wantCount: 2, wantIndex: []int{2, 3}, wantValues: []any{[]any{int64(3), int64(4)}, []any{nil, int64(4)}},
		},
		{
			name: "multicolumn_sum", metric: "multicolumn_sum.equal",
			domain: domain.Kwargs{"column_list": []any{"a", "b"}}, value: domain.Kwargs{"sum_total": 4},
			wantCount: 3, wantIndex: []int{0, 2, 3},
		},
		{
			name: "compound_unique", metric: "compound_columns.unique",
			domain: domain.Kwargs{"column_list": []any{"b"}},
			wantCount: 2, wantIndex: []int{2, 3},
		},
	}

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					values := tt.value.Clone()
					if values == nil {
						values = domain.Kwargs{}
					}
					values["result_format"] = "COMPLETE"
					count, err := b.v.ResolveOne(ctx, metric.NewIdentity(tt.metric+".unexpected_count", tt.domain, tt.value))
					require.NoError(t, err)
					assert.Equal(t, tt.wantCount, count)

					index, err := b.v.ResolveOne(ctx, metric.NewIdentity(tt.metric+".unexpected_index_list", tt.domain, values))
					require.NoError(t, err)
					assert.Equal(t, tt.wantIndex, index)

					if tt.wantValues != nil {
						got, err := b.v.ResolveOne(ctx, metric.NewIdentity(tt.metric+".unexpected_values", tt.domain, values))
						require.NoError(t, err)
						assert.Equal(t, tt.wantValues, got)
					}
				})
			}
		})
	}
}

func TestValueCounts_AcrossBackends(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.v.ResolveOne(ctx, metric.NewIdentity("column_values.in_set.unexpected_value_counts",
				domain.Kwargs{"column": "b"}, domain.Kwargs{"value_set": []any{1}}))
			require.NoError(t, err)
			assert.Equal(t, []mapmetric.ValueCount{
				{Value: int64(4), Count: 2},
				{Value: int64(2), Count: 1},
			}, got)
		})
	}
}

func TestTableMetrics_AcrossBackends(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			cols, err := b.v.ResolveOne(ctx, metric.NewIdentity("table.columns", domain.Kwargs{}, nil))
			require.NoError(t, err)
			assert.Equal(t, fixtureColumns, cols)

			head, err := b.v.ResolveOne(ctx, metric.NewIdentity("table.head", domain.Kwargs{}, domain.Kwargs{"n_rows": 2}))
			require.NoError(t, err)
			require.Len(t, head, 2)
			rows := head.([]map[string]any)
			assert.Equal(t, "ann", rows[0]["name"])
			assert.Equal(t, "bobby", rows[1]["name"])
			assert.NotContains(t, rows[0], sqlengine.RowIDColumn)

			filtered, err := b.v.ResolveOne(ctx, metric.NewIdentity("table.row_count",
				domain.Kwargs{"row_condition": `age > 15`, "condition_parser": conditionParser(name)}, nil))
			require.NoError(t, err)
			assert.Equal(t, 2, filtered)
		})
	}
}

func TestMissingColumn_AcrossBackends(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, m := range []string{"column.max", "column_values.nonnull.unexpected_count"} {
				_, err := b.v.ResolveOne(ctx, metric.NewIdentity(m, domain.Kwargs{"column": "missing"}, nil))
				var accessorErr *domain.InvalidMetricAccessorDomainKwargsKeyError
				require.True(t, errors.As(err, &accessorErr), "%s: %v", m, err)
			}
		})
	}
}

func TestUDF_MemoryAndLazyOnly(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			id := metric.NewIdentity("column_values.udf.unexpected_count",
				domain.Kwargs{"column": "age"}, domain.Kwargs{"udf": "value % 20 == 0"})
			count, err := b.v.ResolveOne(ctx, id)
			if name == "memory" || name == "lazy" {
				require.NoError(t, err)
				assert.Equal(t, 1, count)
				return
			}
			var notFound *domain.MetricProviderNotFoundError
			assert.True(t, errors.As(err, &notFound), "%v", err)
		})
	}
}

func TestZScore_ZeroDeviation(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry()
	require.NoError(t, err)
	eng := memory.New(reg)
	frame, err := memory.FromColumns([]string{"x"}, map[string][]any{"x": {5, 5, 5}})
	require.NoError(t, err)
	eng.LoadBatch("b", frame)

	_, err = validator.New(eng).ResolveOne(ctx, metric.NewIdentity("column_values.z_score.under_threshold.unexpected_count",
		domain.Kwargs{"column": "x"}, domain.Kwargs{"threshold": 3}))
	var compErr *domain.MetricComputationError
	assert.True(t, errors.As(err, &compErr), "%v", err)
}

func TestRegister_Duplicate(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	err = Register(reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register table metrics")
}
