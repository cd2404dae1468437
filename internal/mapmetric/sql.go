package mapmetric

import (
	"context"
	"fmt"
	"strings"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
)

// Expression returns the SQL of a function partial dependency, parenthesised
// for inlining into a predicate.
func (in SQLInput) Expression(alias string) (string, error) {
	dep, ok := in.Dependencies[alias]
	if !ok {
		return "", domain.ErrMetricProvider("missing dependency %q", alias)
	}
	p, ok := dep.(metric.Partial)
	if !ok {
		return "", domain.ErrMetricProvider("dependency %q is %T, not a partial", alias, dep)
	}
	expr, ok := p.Value.(sqlengine.Expression)
	if !ok {
		return "", domain.ErrMetricProvider("dependency %q is not a SQL expression", alias)
	}
	return "(" + expr.SQL + ")", nil
}

func sqlDomain(eng metric.Engine, task metric.Task, t domain.MetricDomainType) (*sqlengine.Engine, sqlengine.Selectable, metric.Partial, SQLInput, error) {
	e, ok := eng.(*sqlengine.Engine)
	if !ok {
		return nil, sqlengine.Selectable{}, metric.Partial{}, SQLInput{}, wrongEngine(eng, metric.BackendSQL)
	}
	if _, err := checkAccessor(task, t); err != nil {
		return nil, sqlengine.Selectable{}, metric.Partial{}, SQLInput{}, err
	}
	sel, compute, accessor, err := e.GetComputeDomain(task.Metric.DomainKwargs, t)
	if err != nil {
		return nil, sqlengine.Selectable{}, metric.Partial{}, SQLInput{}, err
	}
	names := domain.AccessorColumns(accessor)
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqlengine.Quote(n)
	}
	in := SQLInput{
		Names:        names,
		Columns:      quoted,
		ValueKwargs:  task.Metric.ValueKwargs.Without(domain.KeyResultFormat),
		Dependencies: task.Dependencies,
		Dialect:      e.Dialect(),
	}
	return e, sel, metric.Partial{ComputeKwargs: compute, AccessorKwargs: accessor}, in, nil
}

func sqlCondition(c Condition) metric.ComputeFunc {
	filterNulls := c.NullFilter.enabled(true) && c.DomainType == domain.DomainColumn
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		_, sel, partial, in, err := sqlDomain(eng, task, c.DomainType)
		if err != nil {
			return nil, err
		}
		notNull := in.Column() + " IS NOT NULL"
		if filterNulls && c.Window {
			// Window functions must not see the rows the condition ignores.
			sel = sel.Where(notNull)
		}
		meets, err := c.SQL(in)
		if err != nil {
			return nil, err
		}
		predicate := fmt.Sprintf("NOT (COALESCE((%s), FALSE))", meets)
		if filterNulls && !c.Window {
			predicate += " AND " + notNull
		}
		partial.Value = sqlengine.Condition{SQL: predicate, Window: c.Window, From: sel}
		return partial, nil
	}
}

func sqlFunction(f Function) metric.ComputeFunc {
	filterNulls := f.NullFilter.enabled(false) && f.DomainType == domain.DomainColumn
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		_, sel, partial, in, err := sqlDomain(eng, task, f.DomainType)
		if err != nil {
			return nil, err
		}
		if filterNulls {
			sel = sel.Where(in.Column() + " IS NOT NULL")
		}
		expr, err := f.SQL(in)
		if err != nil {
			return nil, err
		}
		partial.Value = sqlengine.Expression{SQL: expr, Window: f.Window, From: sel}
		return partial, nil
	}
}

// sqlUnexpectedCountAggregate turns a map condition into a SUM aggregate that
// the engine bundles with other aggregates over the same domain.
func sqlUnexpectedCountAggregate(_ context.Context, _ metric.Engine, task metric.Task) (any, error) {
	p, err := task.PartialDependency(metric.DepUnexpectedCondition)
	if err != nil {
		return nil, err
	}
	cond, ok := p.Value.(sqlengine.Condition)
	if !ok {
		return nil, unexpectedPartialType(task, p.Value)
	}
	if cond.Window {
		return nil, domain.ErrMetricProvider("window condition of %q cannot be aggregated", task.Metric.Name)
	}
	return sqlengine.Aggregate{
		Expr: fmt.Sprintf("CAST(COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) AS BIGINT)", cond.SQL),
		From: cond.From,
	}, nil
}

func sqlRealization(suffix string, t domain.MetricDomainType) metric.ComputeFunc {
	return func(ctx context.Context, eng metric.Engine, task metric.Task) (any, error) {
		e, ok := eng.(*sqlengine.Engine)
		if !ok {
			return nil, wrongEngine(eng, metric.BackendSQL)
		}
		p, names, rf, err := conditionPartial(task)
		if err != nil {
			return nil, err
		}
		cond, ok := p.Value.(sqlengine.Condition)
		if !ok {
			return nil, unexpectedPartialType(task, p.Value)
		}

		if suffix == metric.SuffixFilteredRowCount {
			v, err := e.QueryScalar(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", cond.From.From("f")))
			if err != nil {
				return nil, err
			}
			return toCount(v), nil
		}

		from := cond.Unexpected().From("u")
		order := " ORDER BY " + sqlengine.Quote(sqlengine.RowIDColumn)
		limit := ""
		if n := rf.Limit(); n > 0 {
			limit = fmt.Sprintf(" LIMIT %d", n)
		}
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = sqlengine.Quote(n)
		}

		switch suffix {
		case metric.SuffixUnexpectedCount:
			v, err := e.QueryScalar(ctx, "SELECT COUNT(*) FROM "+from)
			if err != nil {
				return nil, err
			}
			return toCount(v), nil

		case metric.SuffixUnexpectedIndexList:
			rows, err := e.Query(ctx, "unexpected_index_list",
				fmt.Sprintf("SELECT %s FROM %s%s%s", sqlengine.Quote(sqlengine.RowIDColumn), from, order, limit))
			if err != nil {
				return nil, err
			}
			out := make([]int, len(rows.Rows))
			for i, row := range rows.Rows {
				out[i] = toCount(row[0])
			}
			return out, nil

		case metric.SuffixUnexpectedRows:
			rows, err := e.Query(ctx, "unexpected_rows", fmt.Sprintf("SELECT * FROM %s%s%s", from, order, limit))
			if err != nil {
				return nil, err
			}
			records := rows.Records()
			for i, rec := range records {
				records[i] = tableRecord(rec)
			}
			return records, nil

		case metric.SuffixUnexpectedValueCounts:
			rows, err := e.Query(ctx, "unexpected_value_counts",
				fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s", quoted[0], from, quoted[0]))
			if err != nil {
				return nil, err
			}
			out := make([]ValueCount, len(rows.Rows))
			for i, row := range rows.Rows {
				out[i] = ValueCount{Value: row[0], Count: toCount(row[1])}
			}
			sortValueCounts(out)
			return truncate(out, rf.Limit()), nil

		default:
			rows, err := e.Query(ctx, "unexpected_values",
				fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(quoted, ", "), from, order, limit))
			if err != nil {
				return nil, err
			}
			records := rows.Records()
			out := make([]any, len(records))
			for i, rec := range records {
				out[i] = shapeValue(t, names, rec)
			}
			return out, nil
		}
	}
}
