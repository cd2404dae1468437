package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"duck-expect/internal/ddl"
	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
	"duck-expect/internal/observability"
)

var _ metric.Engine = (*Engine)(nil)

// Engine resolves metrics by issuing SQL against a database/sql pool.
type Engine struct {
	db         *sql.DB
	dialect    Dialect
	registry   *metric.Registry
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxWorkers int

	mu      sync.RWMutex
	batches map[string]string
	active  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records issued statements into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxWorkers bounds concurrent queries per resolution level.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) { e.maxWorkers = n }
}

// New creates an engine over db.
func New(db *sql.DB, dialect Dialect, reg *metric.Registry, opts ...Option) *Engine {
	e := &Engine{
		db:         db,
		dialect:    dialect,
		registry:   reg,
		logger:     slog.Default(),
		maxWorkers: 4,
		batches:    map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend implements metric.Engine.
func (e *Engine) Backend() metric.Backend { return metric.BackendSQL }

// Registry implements metric.Engine.
func (e *Engine) Registry() *metric.Registry { return e.registry }

// Dialect returns the SQL dialect.
func (e *Engine) Dialect() Dialect { return e.dialect }

// DB returns the underlying pool.
func (e *Engine) DB() *sql.DB { return e.db }

// RegisterBatch maps batchID onto an existing table and makes it active.
func (e *Engine) RegisterBatch(batchID, table string) error {
	if err := ddl.ValidateTableName(table); err != nil {
		return domain.ErrValidation("%v", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[batchID] = table
	e.active = batchID
	return nil
}

// ActiveBatchID returns the most recently registered batch id.
func (e *Engine) ActiveBatchID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *Engine) tableFor(filter domain.RowFilter) (string, error) {
	if filter.Table != "" {
		if err := ddl.ValidateTableName(filter.Table); err != nil {
			return "", domain.ErrValidation("%v", err)
		}
		return filter.Table, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	batchID := filter.BatchID
	if batchID == "" {
		if e.active == "" {
			return "", domain.ErrValidation("no batch is specified and no batch is registered")
		}
		batchID = e.active
	}
	table, ok := e.batches[batchID]
	if !ok {
		return "", domain.ErrNotFound("unable to find batch with batch_id %q", batchID)
	}
	return table, nil
}

// GetDomainRecords returns a selectable over the rows the domain kwargs
// select. row_condition and ignore_row_if are pushed into its WHERE clause.
func (e *Engine) GetDomainRecords(kw domain.Kwargs) (Selectable, error) {
	filter, err := domain.ParseRowFilter(kw)
	if err != nil {
		return Selectable{}, err
	}
	table, err := e.tableFor(filter)
	if err != nil {
		return Selectable{}, err
	}

	var where []string
	if filter.RowCondition != "" {
		if filter.ConditionParser != ConditionParser {
			return Selectable{}, domain.ErrValidation("condition_parser must be %q for the SQL backend, got %q", ConditionParser, filter.ConditionParser)
		}
		where = append(where, "("+filter.RowCondition+")")
	}

	_, isColumn := kw.String(domain.KeyColumn)
	if !isColumn && filter.IgnoreRowIf != "" {
		clause, err := ignoreRowIfClause(kw, filter.IgnoreRowIf)
		if err != nil {
			return Selectable{}, err
		}
		if clause != "" {
			where = append(where, clause)
		}
	}

	q := fmt.Sprintf("SELECT %s AS %s, * FROM %s", e.dialect.rowIDExpr(), Quote(RowIDColumn), Quote(table))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return Selectable{Query: q}, nil
}

func ignoreRowIfClause(kw domain.Kwargs, ignoreRowIf string) (string, error) {
	var (
		subset []string
		joiner string
	)
	a, okA := kw.String(domain.KeyColumnA)
	b, okB := kw.String(domain.KeyColumnB)
	list, okList := kw.Strings(domain.KeyColumnList)
	switch {
	case okA && okB:
		subset = []string{a, b}
		switch ignoreRowIf {
		case "both_values_are_missing":
			joiner = " AND "
		case "either_value_is_missing":
			joiner = " OR "
		case "neither", "never":
			return "", nil
		default:
			return "", domain.ErrValidation("unrecognized value of ignore_row_if %q", ignoreRowIf)
		}
	case okList:
		subset = list
		switch ignoreRowIf {
		case "all_values_are_missing":
			joiner = " AND "
		case "any_value_is_missing":
			joiner = " OR "
		case "never":
			return "", nil
		default:
			return "", domain.ErrValidation("unrecognized value of ignore_row_if %q", ignoreRowIf)
		}
	default:
		return "", nil
	}
	parts := make([]string, len(subset))
	for i, col := range subset {
		parts[i] = Quote(col) + " IS NULL"
	}
	return "NOT (" + strings.Join(parts, joiner) + ")", nil
}

// GetComputeDomain returns the domain selectable with the compute and
// accessor kwargs split for domainType.
func (e *Engine) GetComputeDomain(kw domain.Kwargs, domainType domain.MetricDomainType, accessorKeys ...string) (Selectable, domain.Kwargs, domain.Kwargs, error) {
	sel, err := e.GetDomainRecords(kw)
	if err != nil {
		return Selectable{}, nil, nil, err
	}
	compute, accessor, err := domain.SplitDomainKwargs(kw, domainType, accessorKeys...)
	if err != nil {
		return Selectable{}, nil, nil, err
	}
	return sel, compute, accessor, nil
}

// ResolveMetrics implements metric.Engine. Aggregate partials sharing a
// selectable are bundled into one SELECT; other metrics run individually.
func (e *Engine) ResolveMetrics(ctx context.Context, tasks []metric.Task) map[metric.Key]metric.Result {
	var aggregates, others []metric.Task
	for _, t := range tasks {
		if t.Provider != nil && t.Provider.FnType == metric.FnAggregate {
			aggregates = append(aggregates, t)
		} else {
			others = append(others, t)
		}
	}

	results := metric.RunTasks(ctx, e, others, e.maxWorkers)
	for key, res := range e.resolveAggregates(ctx, aggregates) {
		results[key] = res
	}
	return results
}

type aggregateBundle struct {
	from  Selectable
	keys  []metric.Key
	exprs []string
}

func (e *Engine) resolveAggregates(ctx context.Context, tasks []metric.Task) map[metric.Key]metric.Result {
	results := make(map[metric.Key]metric.Result, len(tasks))
	bundles := map[string]*aggregateBundle{}
	for _, t := range tasks {
		key := t.Metric.Key()
		v, err := metric.Invoke(ctx, e, t)
		if err != nil {
			results[key] = metric.Result{Err: err}
			continue
		}
		agg, ok := v.(Aggregate)
		if !ok {
			results[key] = metric.Result{Err: domain.ErrMetricProvider("aggregate metric %s returned %T", t.Metric.Name, v)}
			continue
		}
		b, ok := bundles[agg.From.Query]
		if !ok {
			b = &aggregateBundle{from: agg.From}
			bundles[agg.From.Query] = b
		}
		b.keys = append(b.keys, key)
		b.exprs = append(b.exprs, agg.Expr)
	}

	queries := make([]string, 0, len(bundles))
	for q := range bundles {
		queries = append(queries, q)
	}
	sort.Strings(queries)

	var mu sync.Mutex
	var g errgroup.Group
	if e.maxWorkers > 0 {
		g.SetLimit(e.maxWorkers)
	}
	for _, q := range queries {
		b := bundles[q]
		g.Go(func() error {
			values, err := e.runBundle(ctx, b)
			mu.Lock()
			defer mu.Unlock()
			for i, key := range b.keys {
				if err != nil {
					results[key] = metric.Result{Err: err}
					continue
				}
				results[key] = metric.Result{Value: values[i]}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) runBundle(ctx context.Context, b *aggregateBundle) ([]any, error) {
	cols := make([]string, len(b.exprs))
	for i, expr := range b.exprs {
		cols[i] = fmt.Sprintf("%s AS %s", expr, Quote(fmt.Sprintf("agg_%d", i)))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), b.from.From("domain"))
	e.logger.Debug("bundled aggregate query", "aggregates", len(b.exprs))
	rows, err := e.Query(ctx, "aggregate", q)
	if err != nil {
		return nil, err
	}
	if len(rows.Rows) != 1 {
		return nil, domain.ErrExecutionEngine(nil, "aggregate query returned %d rows", len(rows.Rows))
	}
	return rows.Rows[0], nil
}

// Rows is a fully read result set.
type Rows struct {
	Columns []string
	Rows    [][]any
}

// Records returns the rows as maps keyed by column name.
func (r *Rows) Records() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			rec[col] = row[j]
		}
		out[i] = rec
	}
	return out
}

// Column returns the values of column j.
func (r *Rows) Column(j int) []any {
	out := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row[j]
	}
	return out
}

// Query runs q and reads every row. Driver failures are wrapped in
// domain.ExecutionEngineError.
func (e *Engine) Query(ctx context.Context, kind, q string) (*Rows, error) {
	e.metrics.SQLQuery(kind)
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, domain.ErrExecutionEngine(err, "%s query failed", kind)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, domain.ErrExecutionEngine(err, "read columns")
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, domain.ErrExecutionEngine(err, "scan %s row", kind)
		}
		for i, v := range vals {
			vals[i] = domain.NormalizeValue(v)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrExecutionEngine(err, "iterate %s rows", kind)
	}
	return out, nil
}

// QueryScalar runs q and returns the single value it produces.
func (e *Engine) QueryScalar(ctx context.Context, q string) (any, error) {
	rows, err := e.Query(ctx, "scalar", q)
	if err != nil {
		return nil, err
	}
	if len(rows.Rows) != 1 || len(rows.Columns) != 1 {
		return nil, domain.ErrExecutionEngine(nil, "scalar query returned %d rows and %d columns", len(rows.Rows), len(rows.Columns))
	}
	return rows.Rows[0][0], nil
}

// ColumnInfo describes one column of a selectable.
type ColumnInfo struct {
	Name string
	Type string
}

// DescribeColumns returns the table columns of sel, excluding RowIDColumn.
func (e *Engine) DescribeColumns(ctx context.Context, sel Selectable) ([]ColumnInfo, error) {
	e.metrics.SQLQuery("describe")
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", sel.From("t")))
	if err != nil {
		return nil, domain.ErrExecutionEngine(err, "describe columns")
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, domain.ErrExecutionEngine(err, "read column types")
	}
	out := make([]ColumnInfo, 0, len(types))
	for _, ct := range types {
		if ct.Name() == RowIDColumn {
			continue
		}
		out = append(out, ColumnInfo{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName())})
	}
	return out, nil
}
