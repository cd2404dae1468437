package builtin

import (
	"fmt"
	"strings"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/mapmetric"
	"duck-expect/internal/metric"
)

// rowsPredicate decides one row from its accessor values, in accessor order.
type rowsPredicate func(values []any) (bool, error)

// multiCondition registers a column-pair or multicolumn condition whose
// memory and lazy forms share one Go predicate. Nulls reach the predicate.
func multiCondition(name string, t domain.MetricDomainType, valueKeys []string,
	build func(kw domain.Kwargs) (rowsPredicate, error),
	sql func(in mapmetric.SQLInput) (string, error),
) mapmetric.Condition {
	return mapmetric.Condition{
		Name:       name,
		DomainType: t,
		ValueKeys:  valueKeys,
		Memory: func(in mapmetric.MemoryInput) ([]bool, error) {
			p, err := build(in.ValueKwargs)
			if err != nil {
				return nil, err
			}
			n := len(in.Columns[0])
			out := make([]bool, n)
			row := make([]any, len(in.Columns))
			for i := 0; i < n; i++ {
				for j := range in.Columns {
					row[j] = in.Columns[j][i]
				}
				if out[i], err = p(row); err != nil {
					return nil, err
				}
			}
			return out, nil
		},
		SQL: sql,
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			p, err := build(in.ValueKwargs)
			if err != nil {
				return lazy.Expr{}, err
			}
			names := in.Names
			return lazy.RowExpr(func(r lazy.Row) (any, error) {
				row := make([]any, len(names))
				for j, n := range names {
					row[j] = r.Values[n]
				}
				return p(row)
			}), nil
		},
	}
}

func registerMultiMaps(reg *metric.Registry) error {
	conditions := []mapmetric.Condition{
		multiCondition("column_pair_values.equal", domain.DomainColumnPair, nil,
			func(domain.Kwargs) (rowsPredicate, error) {
				return func(v []any) (bool, error) {
					return v[0] != nil && v[1] != nil && domain.CompareValues(v[0], v[1]) == 0, nil
				}, nil
			},
			func(in mapmetric.SQLInput) (string, error) {
				return fmt.Sprintf("%s = %s", in.Columns[0], in.Columns[1]), nil
			},
		),
		multiCondition("column_pair_values.a_greater_than_b", domain.DomainColumnPair, []string{"or_equal"},
			func(kw domain.Kwargs) (rowsPredicate, error) {
				orEqual := kw.Bool("or_equal", false)
				return func(v []any) (bool, error) {
					if v[0] == nil || v[1] == nil {
						return false, nil
					}
					c := domain.CompareValues(v[0], v[1])
					return c > 0 || (orEqual && c == 0), nil
				}, nil
			},
			func(in mapmetric.SQLInput) (string, error) {
				op := ">"
				if in.ValueKwargs.Bool("or_equal", false) {
					op = ">="
				}
				return fmt.Sprintf("%s %s %s", in.Columns[0], op, in.Columns[1]), nil
			},
		),
		multiCondition("multicolumn_sum.equal", domain.DomainMulticolumn, []string{"sum_total"},
			func(kw domain.Kwargs) (rowsPredicate, error) {
				total, err := sumTotal(kw)
				if err != nil {
					return nil, err
				}
				return func(v []any) (bool, error) {
					sum := 0.0
					for _, x := range v {
						f, ok := domain.AsFloat(x)
						if !ok {
							return false, nil
						}
						sum += f
					}
					return sum == total, nil
				}, nil
			},
			func(in mapmetric.SQLInput) (string, error) {
				total, err := sumTotal(in.ValueKwargs)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("(%s) = %v", strings.Join(in.Columns, " + "), total), nil
			},
		),
		compoundColumnsUnique(),
	}
	for _, c := range conditions {
		if err := mapmetric.RegisterCondition(reg, c); err != nil {
			return err
		}
	}
	return nil
}

func sumTotal(kw domain.Kwargs) (float64, error) {
	total, ok := domain.AsFloat(domain.NormalizeValue(kw["sum_total"]))
	if !ok {
		return 0, domain.ErrValidation("sum_total must be numeric, got %v", kw["sum_total"])
	}
	return total, nil
}

func rowKey(values []any) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		k, err := domain.ValueKey(v)
		if err != nil {
			return "", domain.ErrComputation(err, "value %v cannot be compared", v)
		}
		parts[i] = k
	}
	return strings.Join(parts, "\x1f"), nil
}

// compoundColumnsUnique flags rows whose value combination occurs more than
// once in the domain. It needs every row, so it is a window condition.
func compoundColumnsUnique() mapmetric.Condition {
	countKeys := func(keys []string) []any {
		counts := map[string]int{}
		for _, k := range keys {
			counts[k]++
		}
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = counts[k] == 1
		}
		return out
	}
	return mapmetric.Condition{
		Name:       "compound_columns.unique",
		DomainType: domain.DomainMulticolumn,
		Window:     true,
		Memory: func(in mapmetric.MemoryInput) ([]bool, error) {
			n := len(in.Columns[0])
			keys := make([]string, n)
			row := make([]any, len(in.Columns))
			for i := 0; i < n; i++ {
				for j := range in.Columns {
					row[j] = in.Columns[j][i]
				}
				k, err := rowKey(row)
				if err != nil {
					return nil, err
				}
				keys[i] = k
			}
			unique := countKeys(keys)
			out := make([]bool, n)
			for i, u := range unique {
				out[i] = u.(bool)
			}
			return out, nil
		},
		SQL: func(in mapmetric.SQLInput) (string, error) {
			return fmt.Sprintf("COUNT(*) OVER (PARTITION BY %s) = 1", strings.Join(in.Columns, ", ")), nil
		},
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			names := in.Names
			return lazy.WindowExpr(func(rows []lazy.Row) ([]any, error) {
				keys := make([]string, len(rows))
				row := make([]any, len(names))
				for i, r := range rows {
					for j, n := range names {
						row[j] = r.Values[n]
					}
					k, err := rowKey(row)
					if err != nil {
						return nil, err
					}
					keys[i] = k
				}
				return countKeys(keys), nil
			}), nil
		},
	}
}
