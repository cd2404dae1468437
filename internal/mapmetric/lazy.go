package mapmetric

import (
	"context"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/metric"
)

// LazySeries is the function partial stored by the lazy backend.
type LazySeries struct {
	Frame *lazy.Frame
	Expr  lazy.Expr
}

// Expr returns the row expression of a function partial dependency.
func (in LazyInput) Expr(alias string) (lazy.Expr, error) {
	dep, ok := in.Dependencies[alias]
	if !ok {
		return lazy.Expr{}, domain.ErrMetricProvider("missing dependency %q", alias)
	}
	p, ok := dep.(metric.Partial)
	if !ok {
		return lazy.Expr{}, domain.ErrMetricProvider("dependency %q is %T, not a partial", alias, dep)
	}
	series, ok := p.Value.(LazySeries)
	if !ok {
		return lazy.Expr{}, domain.ErrMetricProvider("dependency %q is not a lazy series", alias)
	}
	if series.Expr.IsWindow() {
		return lazy.Expr{}, domain.ErrMetricProvider("dependency %q is a window expression and cannot be inlined", alias)
	}
	return series.Expr, nil
}

func lazyDomain(eng metric.Engine, task metric.Task, t domain.MetricDomainType, filterNulls bool) (*lazy.Frame, metric.Partial, LazyInput, error) {
	e, ok := eng.(*lazy.Engine)
	if !ok {
		return nil, metric.Partial{}, LazyInput{}, wrongEngine(eng, metric.BackendLazy)
	}
	if _, err := checkAccessor(task, t); err != nil {
		return nil, metric.Partial{}, LazyInput{}, err
	}
	data, compute, accessor, err := e.GetComputeDomain(task.Metric.DomainKwargs, t)
	if err != nil {
		return nil, metric.Partial{}, LazyInput{}, err
	}
	names := domain.AccessorColumns(accessor)
	if filterNulls && t == domain.DomainColumn {
		col := names[0]
		data = data.Filter(lazy.RowExpr(func(r lazy.Row) (any, error) { return r.Values[col] != nil, nil }))
	}
	in := LazyInput{
		Names:        names,
		ValueKwargs:  task.Metric.ValueKwargs.Without(domain.KeyResultFormat),
		Dependencies: task.Dependencies,
	}
	return data, metric.Partial{ComputeKwargs: compute, AccessorKwargs: accessor}, in, nil
}

// negate turns a "meets expectation" expression into an unexpected-row
// expression. A non-boolean result counts as not meeting the expectation.
func negate(meets lazy.Expr) lazy.Expr {
	if meets.IsWindow() {
		return lazy.WindowExpr(func(rows []lazy.Row) ([]any, error) {
			values, err := meets.Window(rows)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(values))
			for i, v := range values {
				b, _ := v.(bool)
				out[i] = !b
			}
			return out, nil
		})
	}
	return lazy.RowExpr(func(r lazy.Row) (any, error) {
		v, err := meets.Row(r)
		if err != nil {
			return nil, err
		}
		b, _ := v.(bool)
		return !b, nil
	})
}

func lazyCondition(c Condition) metric.ComputeFunc {
	filterNulls := c.NullFilter.enabled(true)
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		data, partial, in, err := lazyDomain(eng, task, c.DomainType, filterNulls)
		if err != nil {
			return nil, err
		}
		meets, err := c.Lazy(in)
		if err != nil {
			return nil, err
		}
		partial.Value = LazyCondition{Frame: data, Expr: negate(meets)}
		return partial, nil
	}
}

func lazyFunction(f Function) metric.ComputeFunc {
	filterNulls := f.NullFilter.enabled(false)
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		data, partial, in, err := lazyDomain(eng, task, f.DomainType, filterNulls)
		if err != nil {
			return nil, err
		}
		expr, err := f.Lazy(in)
		if err != nil {
			return nil, err
		}
		partial.Value = LazySeries{Frame: data, Expr: expr}
		return partial, nil
	}
}

func lazyRealization(suffix string, t domain.MetricDomainType) metric.ComputeFunc {
	return func(ctx context.Context, _ metric.Engine, task metric.Task) (any, error) {
		p, names, rf, err := conditionPartial(task)
		if err != nil {
			return nil, err
		}
		cond, ok := p.Value.(LazyCondition)
		if !ok {
			return nil, unexpectedPartialType(task, p.Value)
		}
		if suffix == metric.SuffixFilteredRowCount {
			return cond.Frame.Count(ctx)
		}
		unexpected := cond.Frame.Filter(cond.Expr)
		if suffix == metric.SuffixUnexpectedCount {
			return unexpected.Count(ctx)
		}

		limit := rf.Limit()
		if suffix == metric.SuffixUnexpectedValueCounts {
			limit = 0
		}
		rows, err := unexpected.Collect(ctx, limit)
		if err != nil {
			return nil, err
		}

		switch suffix {
		case metric.SuffixUnexpectedIndexList:
			out := make([]int, len(rows))
			for i, r := range rows {
				out[i] = r.Index
			}
			return out, nil
		case metric.SuffixUnexpectedRows:
			out := make([]map[string]any, len(rows))
			for i, r := range rows {
				out[i] = r.Values
			}
			return out, nil
		case metric.SuffixUnexpectedValueCounts:
			values := make([]any, len(rows))
			for i, r := range rows {
				values[i] = r.Values[names[0]]
			}
			return countValues(values, rf.Limit())
		default:
			out := make([]any, len(rows))
			for i, r := range rows {
				out[i] = shapeValue(t, names, r.Values)
			}
			return out, nil
		}
	}
}
