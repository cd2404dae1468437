package sqlengine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/db"
	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
	"duck-expect/internal/observability"
)

func newTestEngine(t *testing.T, dialect Dialect, reg *metric.Registry, opts ...Option) *Engine {
	t.Helper()
	dsn := ""
	if dialect == DialectSQLite {
		dsn = filepath.Join(t.TempDir(), "engine.db")
	}
	conn, err := db.Open(dialect.DriverName(), dsn, 2)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	for _, stmt := range []string{
		`CREATE TABLE people (id BIGINT, name VARCHAR, score DOUBLE)`,
		`INSERT INTO people VALUES (1, 'ann', 1.5), (2, NULL, 2.5), (3, 'cy', NULL)`,
	} {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
	if reg == nil {
		reg = metric.NewRegistry()
	}
	e := New(conn, dialect, reg, opts...)
	require.NoError(t, e.RegisterBatch("people", "people"))
	return e
}

func dialects() []Dialect { return []Dialect{DialectSQLite, DialectDuckDB} }

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("DuckDB")
	require.NoError(t, err)
	assert.Equal(t, DialectDuckDB, d)
	assert.Equal(t, "duckdb", d.DriverName())

	d, err = ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d.DriverName())

	_, err = ParseDialect("postgres")
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{true, "TRUE"},
		{false, "FALSE"},
		{7, "7"},
		{2.5, "2.5"},
		{"o'brien", "'o''brien'"},
	}
	for _, tt := range tests {
		got, err := Literal(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Literal([]any{1})
	require.Error(t, err)

	list, err := LiteralList([]any{1, "a", nil})
	require.NoError(t, err)
	assert.Equal(t, "1, 'a', NULL", list)
}

func TestGetDomainRecords_RowIDAndFilters(t *testing.T) {
	ctx := context.Background()
	for _, dialect := range dialects() {
		t.Run(string(dialect), func(t *testing.T) {
			e := newTestEngine(t, dialect, nil)

			sel, err := e.GetDomainRecords(domain.Kwargs{})
			require.NoError(t, err)
			rows, err := e.Query(ctx, "test", "SELECT "+Quote(RowIDColumn)+", id FROM "+sel.From("d")+" ORDER BY 1")
			require.NoError(t, err)
			assert.Equal(t, [][]any{{int64(0), int64(1)}, {int64(1), int64(2)}, {int64(2), int64(3)}}, rows.Rows)

			sel, err = e.GetDomainRecords(domain.Kwargs{"row_condition": "score > 2", "condition_parser": "sql"})
			require.NoError(t, err)
			n, err := e.QueryScalar(ctx, "SELECT COUNT(*) FROM "+sel.From("d"))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			sel, err = e.GetDomainRecords(domain.Kwargs{
				"column_A": "name", "column_B": "score", "ignore_row_if": "either_value_is_missing",
			})
			require.NoError(t, err)
			n, err = e.QueryScalar(ctx, "SELECT COUNT(*) FROM "+sel.From("d"))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestGetDomainRecords_Errors(t *testing.T) {
	e := newTestEngine(t, DialectSQLite, nil)
	var ve *domain.ValidationError
	var nf *domain.NotFoundError

	_, err := e.GetDomainRecords(domain.Kwargs{"batch_id": "other"})
	assert.True(t, errors.As(err, &nf))

	_, err = e.GetDomainRecords(domain.Kwargs{"row_condition": "id > 1", "condition_parser": "cel"})
	assert.True(t, errors.As(err, &ve))

	_, err = e.GetDomainRecords(domain.Kwargs{"table": "people; DROP TABLE people"})
	assert.True(t, errors.As(err, &ve))

	_, err = e.GetDomainRecords(domain.Kwargs{"column_A": "id", "column_B": "name", "ignore_row_if": "sometimes"})
	assert.True(t, errors.As(err, &ve))

	empty := New(e.DB(), DialectSQLite, metric.NewRegistry())
	_, err = empty.GetDomainRecords(domain.Kwargs{})
	assert.True(t, errors.As(err, &ve))
}

func TestConditionUnexpected(t *testing.T) {
	ctx := context.Background()
	for _, dialect := range dialects() {
		t.Run(string(dialect), func(t *testing.T) {
			e := newTestEngine(t, dialect, nil)
			sel, err := e.GetDomainRecords(domain.Kwargs{})
			require.NoError(t, err)

			cond := Condition{SQL: "id <> LAG(id) OVER (ORDER BY " + Quote(RowIDColumn) + ") + 1", Window: true, From: sel.Where(Quote("id") + " <> 2")}
			rows, err := e.Query(ctx, "test", "SELECT "+Quote(RowIDColumn)+" FROM "+cond.Unexpected().From("u")+" ORDER BY 1")
			require.NoError(t, err)
			assert.Equal(t, []any{int64(2)}, rows.Column(0))
		})
	}
}

func TestDescribeColumns(t *testing.T) {
	ctx := context.Background()
	for _, dialect := range dialects() {
		t.Run(string(dialect), func(t *testing.T) {
			e := newTestEngine(t, dialect, nil)
			sel, err := e.GetDomainRecords(domain.Kwargs{})
			require.NoError(t, err)
			cols, err := e.DescribeColumns(ctx, sel)
			require.NoError(t, err)
			require.Len(t, cols, 3)
			assert.Equal(t, "id", cols[0].Name)
			assert.Equal(t, "BIGINT", cols[0].Type)
			assert.Equal(t, "name", cols[1].Name)
			assert.True(t, strings.HasPrefix(cols[1].Type, "VARCHAR"), cols[1].Type)
		})
	}
}

func TestQuery_DriverErrorIsExecutionEngineError(t *testing.T) {
	e := newTestEngine(t, DialectDuckDB, nil)
	_, err := e.Query(context.Background(), "test", "SELECT nope FROM people")
	var ee *domain.ExecutionEngineError
	assert.True(t, errors.As(err, &ee))

	_, err = e.QueryScalar(context.Background(), "SELECT id FROM people")
	assert.True(t, errors.As(err, &ee))
}

func aggregateProvider(name, expr string) metric.Provider {
	return metric.Provider{
		Name: name, Backend: metric.BackendSQL, FnType: metric.FnAggregate, DomainType: domain.DomainTable,
		Compute: func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
			sel, err := eng.(*Engine).GetDomainRecords(task.Metric.DomainKwargs)
			if err != nil {
				return nil, err
			}
			return Aggregate{Expr: expr, From: sel}, nil
		},
	}
}

func TestResolveMetrics_BundlesAggregatesBySelectable(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewRegistry()
	reg.MustRegister(
		aggregateProvider("people.count", "COUNT(*)"),
		aggregateProvider("people.max_id", "MAX(id)"),
		aggregateProvider("people.bad", "MAX(nope)"),
		metric.Provider{
			Name: "people.first_name", Backend: metric.BackendSQL, DomainType: domain.DomainTable,
			Compute: func(ctx context.Context, eng metric.Engine, _ metric.Task) (any, error) {
				return eng.(*Engine).QueryScalar(ctx, "SELECT name FROM people WHERE id = 1")
			},
		},
	)
	promReg := prometheus.NewRegistry()
	e := newTestEngine(t, DialectDuckDB, reg, WithMetrics(observability.NewMetrics(promReg)), WithMaxWorkers(2))

	all := domain.Kwargs{}
	filtered := domain.Kwargs{"row_condition": "id > 1", "condition_parser": "sql"}
	var tasks []metric.Task
	for _, id := range []metric.Identity{
		metric.NewIdentity("people.count", all, nil),
		metric.NewIdentity("people.max_id", all, nil),
		metric.NewIdentity("people.count", filtered, nil),
		metric.NewIdentity("people.first_name", all, nil),
	} {
		p, err := reg.Provider(id.Name, metric.BackendSQL)
		require.NoError(t, err)
		tasks = append(tasks, metric.Task{Metric: id, Provider: p})
	}

	results := e.ResolveMetrics(ctx, tasks)
	require.Len(t, results, 4)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	assert.Equal(t, int64(3), results[tasks[0].Metric.Key()].Value)
	assert.Equal(t, int64(3), results[tasks[1].Metric.Key()].Value)
	assert.Equal(t, int64(2), results[tasks[2].Metric.Key()].Value)
	assert.Equal(t, "ann", results[tasks[3].Metric.Key()].Value)

	// A failing aggregate fails every metric bundled with it.
	bad, err := reg.Provider("people.bad", metric.BackendSQL)
	require.NoError(t, err)
	badID := metric.NewIdentity("people.bad", all, nil)
	countID := metric.NewIdentity("people.count", all, nil)
	results = e.ResolveMetrics(ctx, []metric.Task{
		{Metric: badID, Provider: bad},
		{Metric: countID, Provider: tasks[0].Provider},
	})
	var ee *domain.ExecutionEngineError
	assert.True(t, errors.As(results[badID.Key()].Err, &ee))
	assert.True(t, errors.As(results[countID.Key()].Err, &ee))
}
