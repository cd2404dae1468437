package builtin

import (
	"context"
	"fmt"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
)

// ColumnType is one entry of the table.column_types metric.
type ColumnType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

const defaultHeadRows = 5

var tableDomainKeys = []string{domain.KeyBatchID, domain.KeyTable, domain.KeyRowCondition, domain.KeyConditionParser}

func tableProvider(name string, backend metric.Backend, valueKeys []string, fn metric.ComputeFunc) metric.Provider {
	return metric.Provider{
		Name:       name,
		Backend:    backend,
		FnType:     metric.FnValue,
		DomainType: domain.DomainTable,
		DomainKeys: tableDomainKeys,
		ValueKeys:  valueKeys,
		Compute:    fn,
	}
}

func registerTable(reg *metric.Registry) error {
	headKeys := []string{"n_rows", "fetch_all"}
	typeKeys := []string{"include_nested"}
	providers := []metric.Provider{
		tableProvider("table.row_count", metric.BackendMemory, nil, memoryRowCount),
		tableProvider("table.columns", metric.BackendMemory, nil, memoryColumns),
		tableProvider("table.column_types", metric.BackendMemory, typeKeys, memoryColumnTypes),
		tableProvider("table.head", metric.BackendMemory, headKeys, memoryHead),

		tableProvider("table.row_count", metric.BackendSQL, nil, passThroughCount),
		tableProvider("table.columns", metric.BackendSQL, nil, sqlColumns),
		tableProvider("table.column_types", metric.BackendSQL, typeKeys, sqlColumnTypes),
		tableProvider("table.head", metric.BackendSQL, headKeys, sqlHead),

		tableProvider("table.row_count", metric.BackendLazy, nil, lazyRowCount),
		tableProvider("table.columns", metric.BackendLazy, nil, lazyColumns),
		tableProvider("table.column_types", metric.BackendLazy, typeKeys, lazyColumnTypes),
		tableProvider("table.head", metric.BackendLazy, headKeys, lazyHead),
	}
	rowCountAgg := tableProvider("table.row_count.aggregate_fn", metric.BackendSQL, nil, sqlRowCountAggregate)
	rowCountAgg.FnType = metric.FnAggregate
	providers = append(providers, rowCountAgg)

	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func headLimit(kw domain.Kwargs) int {
	if kw.Bool("fetch_all", false) {
		return 0
	}
	if n, ok := domain.AsInt(kw["n_rows"]); ok && n > 0 {
		return n
	}
	return defaultHeadRows
}

// In-memory.

func memoryEngine(eng metric.Engine) (*memory.Engine, error) {
	e, ok := eng.(*memory.Engine)
	if !ok {
		return nil, domain.ErrMetricProvider("provider requires the memory backend, got %s", eng.Backend())
	}
	return e, nil
}

func memoryRecords(eng metric.Engine, task metric.Task) (*memory.Frame, error) {
	e, err := memoryEngine(eng)
	if err != nil {
		return nil, err
	}
	return e.GetDomainRecords(task.Metric.DomainKwargs)
}

func memoryRowCount(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := memoryRecords(eng, task)
	if err != nil {
		return nil, err
	}
	return f.Len(), nil
}

func memoryColumns(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := memoryRecords(eng, task)
	if err != nil {
		return nil, err
	}
	return f.Columns(), nil
}

func memoryColumnTypes(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := memoryRecords(eng, task)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnType, 0, len(f.Columns()))
	for _, col := range f.Columns() {
		typ, err := f.ColumnType(col)
		if err != nil {
			return nil, err
		}
		out = append(out, ColumnType{Name: col, Type: typ})
	}
	return out, nil
}

func memoryHead(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := memoryRecords(eng, task)
	if err != nil {
		return nil, err
	}
	if n := headLimit(task.Metric.ValueKwargs); n > 0 {
		f = f.Head(n)
	}
	return f.Records(), nil
}

// SQL.

func sqlEngine(eng metric.Engine) (*sqlengine.Engine, error) {
	e, ok := eng.(*sqlengine.Engine)
	if !ok {
		return nil, domain.ErrMetricProvider("provider requires the sql backend, got %s", eng.Backend())
	}
	return e, nil
}

func sqlRecords(eng metric.Engine, task metric.Task) (*sqlengine.Engine, sqlengine.Selectable, error) {
	e, err := sqlEngine(eng)
	if err != nil {
		return nil, sqlengine.Selectable{}, err
	}
	sel, err := e.GetDomainRecords(task.Metric.DomainKwargs)
	return e, sel, err
}

func sqlRowCountAggregate(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
	_, sel, err := sqlRecords(eng, task)
	if err != nil {
		return nil, err
	}
	return sqlengine.Aggregate{Expr: "COUNT(*)", From: sel}, nil
}

// passThroughCount reads a resolved COUNT aggregate.
func passThroughCount(_ context.Context, _ metric.Engine, task metric.Task) (any, error) {
	v, ok := task.Dependency(metric.DepMetricPartialFn)
	if !ok {
		return nil, domain.ErrMetricProvider("metric %q is missing dependency %q", task.Metric.Name, metric.DepMetricPartialFn)
	}
	n, _ := domain.AsInt(domain.NormalizeValue(v))
	return n, nil
}

func sqlColumns(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
	e, sel, err := sqlRecords(eng, task)
	if err != nil {
		return nil, err
	}
	info, err := e.DescribeColumns(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(info))
	for i, c := range info {
		out[i] = c.Name
	}
	return out, nil
}

func sqlColumnTypes(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
	e, sel, err := sqlRecords(eng, task)
	if err != nil {
		return nil, err
	}
	info, err := e.DescribeColumns(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnType, len(info))
	for i, c := range info {
		out[i] = ColumnType{Name: c.Name, Type: c.Type}
	}
	return out, nil
}

func sqlHead(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
	e, sel, err := sqlRecords(eng, task)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", sel.From("h"), sqlengine.Quote(sqlengine.RowIDColumn))
	if n := headLimit(task.Metric.ValueKwargs); n > 0 {
		q += fmt.Sprintf(" LIMIT %d", n)
	}
	rows, err := e.Query(ctx, "head", q)
	if err != nil {
		return nil, err
	}
	records := rows.Records()
	for _, rec := range records {
		delete(rec, sqlengine.RowIDColumn)
	}
	return records, nil
}

// Lazy.

func lazyRecords(eng metric.Engine, task metric.Task) (*lazy.Frame, error) {
	e, ok := eng.(*lazy.Engine)
	if !ok {
		return nil, domain.ErrMetricProvider("provider requires the lazy backend, got %s", eng.Backend())
	}
	return e.GetDomainRecords(task.Metric.DomainKwargs)
}

func lazyRowCount(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := lazyRecords(eng, task)
	if err != nil {
		return nil, err
	}
	return f.Count(ctx)
}

func lazyColumns(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := lazyRecords(eng, task)
	if err != nil {
		return nil, err
	}
	return f.Columns(), nil
}

func lazyColumnTypes(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := lazyRecords(eng, task)
	if err != nil {
		return nil, err
	}
	rows, err := f.Collect(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnType, 0, len(f.Columns()))
	for _, col := range f.Columns() {
		values := make([]any, len(rows))
		for i, r := range rows {
			values[i] = r.Values[col]
		}
		out = append(out, ColumnType{Name: col, Type: memory.InferType(values)})
	}
	return out, nil
}

func lazyHead(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
	f, err := lazyRecords(eng, task)
	if err != nil {
		return nil, err
	}
	rows, err := f.Collect(ctx, headLimit(task.Metric.ValueKwargs))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values
	}
	return out, nil
}
