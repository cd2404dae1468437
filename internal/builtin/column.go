package builtin

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
)

// columnReducer computes an aggregate from the non-null values of a column.
type columnReducer func(values []any) (any, error)

type columnAggregate struct {
	name   string
	reduce columnReducer
	// sqlExpr renders the pushed-down aggregate over a quoted column; nil
	// means the SQL backend computes the metric with its own query.
	sqlExpr func(col string) string
	// finish post-processes the aggregate row value on the SQL backend.
	finish func(v any) (any, error)
	sqlRun func(ctx context.Context, e *sqlengine.Engine, sel sqlengine.Selectable, col string) (any, error)
}

var columnDomainKeys = []string{domain.KeyBatchID, domain.KeyTable, domain.KeyRowCondition, domain.KeyConditionParser, domain.KeyColumn}

func columnAggregates() []columnAggregate {
	return []columnAggregate{
		{
			name:    "column.min",
			reduce:  reduceExtreme(-1),
			sqlExpr: func(col string) string { return "MIN(" + col + ")" },
		},
		{
			name:    "column.max",
			reduce:  reduceExtreme(1),
			sqlExpr: func(col string) string { return "MAX(" + col + ")" },
		},
		{
			name:    "column.mean",
			reduce:  reduceMean,
			sqlExpr: func(col string) string { return "AVG(CAST(" + col + " AS DOUBLE))" },
		},
		{
			name:   "column.standard_deviation",
			reduce: reduceStdev,
			sqlExpr: func(col string) string {
				x := "CAST(" + col + " AS DOUBLE)"
				return fmt.Sprintf(
					"CASE WHEN COUNT(%[1]s) < 2 THEN NULL ELSE (SUM(%[1]s * %[1]s) - SUM(%[1]s) * SUM(%[1]s) / COUNT(%[1]s)) / (COUNT(%[1]s) - 1) END",
					x)
			},
			finish: func(v any) (any, error) {
				variance, ok := domain.AsFloat(domain.NormalizeValue(v))
				if !ok {
					return nil, nil
				}
				return math.Sqrt(math.Max(variance, 0)), nil
			},
		},
		{
			name:   "column.distinct_values",
			reduce: reduceDistinct,
			sqlRun: sqlDistinct,
		},
	}
}

func registerColumnAggregates(reg *metric.Registry) error {
	for _, agg := range columnAggregates() {
		base := metric.Provider{
			Name:               agg.name,
			FnType:             metric.FnValue,
			DomainType:         domain.DomainColumn,
			DomainKeys:         columnDomainKeys,
			NeedsTableMetadata: true,
		}

		mem := base
		mem.Backend, mem.Compute = metric.BackendMemory, memoryColumnAggregate(agg.reduce)
		lz := base
		lz.Backend, lz.Compute = metric.BackendLazy, lazyColumnAggregate(agg.reduce)
		providers := []metric.Provider{mem, lz}

		if agg.sqlExpr != nil {
			aggFn := base
			aggFn.Name = agg.name + metric.SuffixAggregateFn
			aggFn.Backend, aggFn.FnType = metric.BackendSQL, metric.FnAggregate
			aggFn.Compute = sqlColumnAggregateFn(agg.sqlExpr)
			value := base
			value.Backend, value.Compute = metric.BackendSQL, sqlAggregateValue(agg.finish)
			providers = append(providers, aggFn, value)
		} else {
			value := base
			value.Backend, value.Compute = metric.BackendSQL, sqlColumnQuery(agg.sqlRun)
			providers = append(providers, value)
		}

		for _, p := range providers {
			if err := reg.Register(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// column returns the accessor column of a column-domain task after checking
// it against the resolved table.columns dependency.
func column(task metric.Task) (string, error) {
	name, ok := task.Metric.DomainKwargs.String(domain.KeyColumn)
	if !ok || name == "" {
		return "", domain.ErrInvalidAccessorKey("metric %q requires %q in its domain kwargs", task.Metric.Name, domain.KeyColumn)
	}
	if cols, ok := task.TableColumns(); ok && !slices.Contains(cols, name) {
		return "", domain.ErrInvalidAccessorKey("column %q does not exist in this batch", name)
	}
	return name, nil
}

func nonNull(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func memoryColumnAggregate(reduce columnReducer) metric.ComputeFunc {
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		name, err := column(task)
		if err != nil {
			return nil, err
		}
		f, err := memoryRecords(eng, task)
		if err != nil {
			return nil, err
		}
		values, err := f.Column(name)
		if err != nil {
			return nil, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", name)
		}
		return reduce(nonNull(values))
	}
}

func lazyColumnAggregate(reduce columnReducer) metric.ComputeFunc {
	return func(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
		name, err := column(task)
		if err != nil {
			return nil, err
		}
		f, err := lazyRecords(eng, task)
		if err != nil {
			return nil, err
		}
		values, err := f.Column(ctx, name)
		if err != nil {
			return nil, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", name)
		}
		return reduce(nonNull(values))
	}
}

func sqlColumnAggregateFn(expr func(col string) string) metric.ComputeFunc {
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		name, err := column(task)
		if err != nil {
			return nil, err
		}
		_, sel, err := sqlRecords(eng, task)
		if err != nil {
			return nil, err
		}
		return sqlengine.Aggregate{Expr: expr(sqlengine.Quote(name)), From: sel}, nil
	}
}

func sqlAggregateValue(finish func(any) (any, error)) metric.ComputeFunc {
	return func(_ context.Context, _ metric.Engine, task metric.Task) (any, error) {
		v, ok := task.Dependency(metric.DepMetricPartialFn)
		if !ok {
			return nil, domain.ErrMetricProvider("metric %q is missing dependency %q", task.Metric.Name, metric.DepMetricPartialFn)
		}
		v = domain.NormalizeValue(v)
		if finish != nil {
			return finish(v)
		}
		return v, nil
	}
}

func sqlColumnQuery(run func(context.Context, *sqlengine.Engine, sqlengine.Selectable, string) (any, error)) metric.ComputeFunc {
	return func(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
		name, err := column(task)
		if err != nil {
			return nil, err
		}
		e, sel, err := sqlRecords(eng, task)
		if err != nil {
			return nil, err
		}
		return run(ctx, e, sel, sqlengine.Quote(name))
	}
}

func sqlDistinct(ctx context.Context, e *sqlengine.Engine, sel sqlengine.Selectable, col string) (any, error) {
	rows, err := e.Query(ctx, "distinct_values",
		fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", col, sel.From("d"), col))
	if err != nil {
		return nil, err
	}
	return reduceDistinct(rows.Column(0))
}

func reduceExtreme(sign int) columnReducer {
	return func(values []any) (any, error) {
		var best any
		for _, v := range values {
			if best == nil || domain.CompareValues(v, best)*sign > 0 {
				best = v
			}
		}
		return best, nil
	}
}

func numeric(values []any) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, ok := domain.AsFloat(v)
		if !ok {
			return nil, domain.ErrComputation(nil, "value %v (%T) is not numeric", v, v)
		}
		out[i] = f
	}
	return out, nil
}

func reduceMean(values []any) (any, error) {
	xs, err := numeric(values)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, nil
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), nil
}

func reduceStdev(values []any) (any, error) {
	xs, err := numeric(values)
	if err != nil {
		return nil, err
	}
	if len(xs) < 2 {
		return nil, nil
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1)), nil
}

func reduceDistinct(values []any) (any, error) {
	seen := map[string]bool{}
	out := make([]any, 0)
	for _, v := range values {
		if v == nil {
			continue
		}
		key, err := domain.ValueKey(v)
		if err != nil {
			return nil, domain.ErrComputation(err, "value %v cannot be compared", v)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return domain.CompareValues(out[i], out[j]) < 0 })
	return out, nil
}
