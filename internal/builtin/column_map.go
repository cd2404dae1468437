package builtin

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/mapmetric"
	"duck-expect/internal/metric"
)

// rowPredicate lifts a per-value predicate onto every backend that evaluates
// conditions row by row in Go.
type rowPredicate func(v any) (bool, error)

func memoryMap(pred func(in mapmetric.MemoryInput) (rowPredicate, error)) func(mapmetric.MemoryInput) ([]bool, error) {
	return func(in mapmetric.MemoryInput) ([]bool, error) {
		p, err := pred(in)
		if err != nil {
			return nil, err
		}
		values := in.Values()
		out := make([]bool, len(values))
		for i, v := range values {
			if out[i], err = p(v); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

func lazyMap(pred func(in mapmetric.LazyInput) (rowPredicate, error)) func(mapmetric.LazyInput) (lazy.Expr, error) {
	return func(in mapmetric.LazyInput) (lazy.Expr, error) {
		p, err := pred(in)
		if err != nil {
			return lazy.Expr{}, err
		}
		col := in.Column()
		return lazy.RowExpr(func(r lazy.Row) (any, error) { return p(r.Values[col]) }), nil
	}
}

// columnPredicate registers a column condition whose memory and lazy forms
// share one Go predicate built from the value kwargs.
func columnPredicate(name string, valueKeys []string, nulls mapmetric.NullFilter,
	build func(kw domain.Kwargs) (rowPredicate, error),
	sql func(in mapmetric.SQLInput) (string, error),
) mapmetric.Condition {
	return mapmetric.Condition{
		Name:       name,
		DomainType: domain.DomainColumn,
		ValueKeys:  valueKeys,
		NullFilter: nulls,
		Memory: memoryMap(func(in mapmetric.MemoryInput) (rowPredicate, error) {
			return build(in.ValueKwargs)
		}),
		SQL: sql,
		Lazy: lazyMap(func(in mapmetric.LazyInput) (rowPredicate, error) {
			return build(in.ValueKwargs)
		}),
	}
}

func registerColumnMaps(reg *metric.Registry) error {
	conditions := []mapmetric.Condition{
		columnPredicate("column_values.nonnull", nil, mapmetric.NullFilterOff,
			func(domain.Kwargs) (rowPredicate, error) {
				return func(v any) (bool, error) { return v != nil, nil }, nil
			},
			func(in mapmetric.SQLInput) (string, error) { return in.Column() + " IS NOT NULL", nil },
		),
		columnPredicate("column_values.null", nil, mapmetric.NullFilterOff,
			func(domain.Kwargs) (rowPredicate, error) {
				return func(v any) (bool, error) { return v == nil, nil }, nil
			},
			func(in mapmetric.SQLInput) (string, error) { return in.Column() + " IS NULL", nil },
		),
		columnPredicate("column_values.in_set", []string{"value_set"}, mapmetric.NullFilterDefault, inSetPredicate, inSetSQL),
		columnPredicate("column_values.between", []string{"min_value", "max_value", "strict_min", "strict_max"},
			mapmetric.NullFilterDefault, betweenPredicate, betweenSQL),
		columnPredicate("column_values.not_match_like_pattern_list", []string{"like_pattern_list"},
			mapmetric.NullFilterDefault, notLikePredicate, notLikeSQL),
		increasingCondition(),
		valueLengthEquals(),
		zScoreUnderThreshold(),
	}
	for _, c := range conditions {
		if err := mapmetric.RegisterCondition(reg, c); err != nil {
			return err
		}
	}
	for _, f := range []mapmetric.Function{valueLength(), zScore()} {
		if err := mapmetric.RegisterFunction(reg, f); err != nil {
			return err
		}
	}
	return nil
}

func valueSet(kw domain.Kwargs) ([]any, error) {
	raw, ok := kw["value_set"]
	if !ok || raw == nil {
		return nil, domain.ErrValidation("value_set is required")
	}
	switch s := raw.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, v := range s {
			out[i] = v
		}
		return out, nil
	default:
		return nil, domain.ErrValidation("value_set must be a list, got %T", raw)
	}
}

func inSetPredicate(kw domain.Kwargs) (rowPredicate, error) {
	set, err := valueSet(kw)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(set))
	for _, v := range set {
		key, err := domain.ValueKey(v)
		if err != nil {
			return nil, domain.ErrValidation("value_set entry %v is not comparable", v)
		}
		keys[key] = true
	}
	return func(v any) (bool, error) {
		key, err := domain.ValueKey(v)
		if err != nil {
			return false, nil
		}
		return keys[key], nil
	}, nil
}

func inSetSQL(in mapmetric.SQLInput) (string, error) {
	set, err := valueSet(in.ValueKwargs)
	if err != nil {
		return "", err
	}
	if len(set) == 0 {
		return "FALSE", nil
	}
	list, err := sqlengine.LiteralList(set)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s IN (%s)", in.Column(), list), nil
}

type bounds struct {
	min, max             any
	strictMin, strictMax bool
}

func parseBounds(kw domain.Kwargs) (bounds, error) {
	b := bounds{
		min:       domain.NormalizeValue(kw["min_value"]),
		max:       domain.NormalizeValue(kw["max_value"]),
		strictMin: kw.Bool("strict_min", false),
		strictMax: kw.Bool("strict_max", false),
	}
	if b.min == nil && b.max == nil {
		return bounds{}, domain.ErrValidation("min_value and max_value cannot both be None")
	}
	if b.min != nil && b.max != nil && domain.CompareValues(b.min, b.max) > 0 {
		return bounds{}, domain.ErrValidation("min_value %v cannot be greater than max_value %v", b.min, b.max)
	}
	return b, nil
}

func (b bounds) contains(v any) bool {
	if b.min != nil {
		c := domain.CompareValues(v, b.min)
		if c < 0 || (b.strictMin && c == 0) {
			return false
		}
	}
	if b.max != nil {
		c := domain.CompareValues(v, b.max)
		if c > 0 || (b.strictMax && c == 0) {
			return false
		}
	}
	return true
}

func betweenPredicate(kw domain.Kwargs) (rowPredicate, error) {
	b, err := parseBounds(kw)
	if err != nil {
		return nil, err
	}
	return func(v any) (bool, error) { return b.contains(v), nil }, nil
}

func betweenSQL(in mapmetric.SQLInput) (string, error) {
	b, err := parseBounds(in.ValueKwargs)
	if err != nil {
		return "", err
	}
	var parts []string
	if b.min != nil {
		lit, err := sqlengine.Literal(b.min)
		if err != nil {
			return "", err
		}
		op := ">="
		if b.strictMin {
			op = ">"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", in.Column(), op, lit))
	}
	if b.max != nil {
		lit, err := sqlengine.Literal(b.max)
		if err != nil {
			return "", err
		}
		op := "<="
		if b.strictMax {
			op = "<"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", in.Column(), op, lit))
	}
	return strings.Join(parts, " AND "), nil
}

func likePatterns(kw domain.Kwargs) ([]string, error) {
	patterns, ok := kw.Strings("like_pattern_list")
	if !ok || len(patterns) == 0 {
		return nil, domain.ErrValidation("like_pattern_list must be a non-empty list of strings")
	}
	return patterns, nil
}

// likeRegexp translates a SQL LIKE pattern into an anchored regular expression.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func notLikePredicate(kw domain.Kwargs) (rowPredicate, error) {
	patterns, err := likePatterns(kw)
	if err != nil {
		return nil, err
	}
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		if res[i], err = likeRegexp(p); err != nil {
			return nil, domain.ErrValidation("invalid like pattern %q: %v", p, err)
		}
	}
	return func(v any) (bool, error) {
		s := fmt.Sprint(v)
		for _, re := range res {
			if re.MatchString(s) {
				return false, nil
			}
		}
		return true, nil
	}, nil
}

func notLikeSQL(in mapmetric.SQLInput) (string, error) {
	patterns, err := likePatterns(in.ValueKwargs)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		lit, err := sqlengine.Literal(p)
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprintf("NOT (CAST(%s AS VARCHAR) LIKE %s)", in.Column(), lit)
	}
	return strings.Join(parts, " AND "), nil
}

// increasingCondition compares each value with its predecessor in row order.
// The first row always meets the condition.
func increasingCondition() mapmetric.Condition {
	compare := func(strictly bool) func(prev, cur any) bool {
		return func(prev, cur any) bool {
			c := domain.CompareValues(cur, prev)
			if strictly {
				return c > 0
			}
			return c >= 0
		}
	}
	return mapmetric.Condition{
		Name:       "column_values.increasing",
		DomainType: domain.DomainColumn,
		ValueKeys:  []string{"strictly"},
		Window:     true,
		Memory: func(in mapmetric.MemoryInput) ([]bool, error) {
			ok := compare(in.ValueKwargs.Bool("strictly", false))
			values := in.Values()
			out := make([]bool, len(values))
			for i := range values {
				out[i] = i == 0 || ok(values[i-1], values[i])
			}
			return out, nil
		},
		SQL: func(in mapmetric.SQLInput) (string, error) {
			op := ">="
			if in.ValueKwargs.Bool("strictly", false) {
				op = ">"
			}
			return fmt.Sprintf("COALESCE(%s %s LAG(%s) OVER (ORDER BY %s), TRUE)",
				in.Column(), op, in.Column(), sqlengine.Quote(sqlengine.RowIDColumn)), nil
		},
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			ok := compare(in.ValueKwargs.Bool("strictly", false))
			col := in.Column()
			return lazy.WindowExpr(func(rows []lazy.Row) ([]any, error) {
				out := make([]any, len(rows))
				for i := range rows {
					out[i] = i == 0 || ok(rows[i-1].Values[col], rows[i].Values[col])
				}
				return out, nil
			}), nil
		},
	}
}

const valueLengthMap = "column_values.value_length.map"

func stringLength(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return int64(utf8.RuneCountInString(s))
}

func valueLength() mapmetric.Function {
	return mapmetric.Function{
		Name:       "column_values.value_length",
		DomainType: domain.DomainColumn,
		Memory: func(in mapmetric.MemoryInput) ([]any, error) {
			values := in.Values()
			out := make([]any, len(values))
			for i, v := range values {
				out[i] = stringLength(v)
			}
			return out, nil
		},
		SQL: func(in mapmetric.SQLInput) (string, error) {
			return "LENGTH(" + in.Column() + ")", nil
		},
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			col := in.Column()
			return lazy.RowExpr(func(r lazy.Row) (any, error) { return stringLength(r.Values[col]), nil }), nil
		},
	}
}

func lengthValue(kw domain.Kwargs) (int, error) {
	n, ok := domain.AsInt(kw["value"])
	if !ok || n < 0 {
		return 0, domain.ErrValidation("value must be a non-negative integer, got %v", kw["value"])
	}
	return n, nil
}

func valueLengthEquals() mapmetric.Condition {
	return mapmetric.Condition{
		Name:       "column_values.value_length.equals",
		DomainType: domain.DomainColumn,
		ValueKeys:  []string{"value"},
		Dependencies: func(id metric.Identity) map[string]metric.Identity {
			return map[string]metric.Identity{
				valueLengthMap: metric.NewIdentity(valueLengthMap, id.DomainKwargs, nil),
			}
		},
		Memory: func(in mapmetric.MemoryInput) ([]bool, error) {
			want, err := lengthValue(in.ValueKwargs)
			if err != nil {
				return nil, err
			}
			lengths, err := in.Series(valueLengthMap)
			if err != nil {
				return nil, err
			}
			out := make([]bool, len(lengths))
			for i, l := range lengths {
				n, ok := domain.AsInt(l)
				out[i] = ok && n == want
			}
			return out, nil
		},
		SQL: func(in mapmetric.SQLInput) (string, error) {
			want, err := lengthValue(in.ValueKwargs)
			if err != nil {
				return "", err
			}
			expr, err := in.Expression(valueLengthMap)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s = %d", expr, want), nil
		},
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			want, err := lengthValue(in.ValueKwargs)
			if err != nil {
				return lazy.Expr{}, err
			}
			lengths, err := in.Expr(valueLengthMap)
			if err != nil {
				return lazy.Expr{}, err
			}
			return lazy.RowExpr(func(r lazy.Row) (any, error) {
				l, err := lengths.Row(r)
				if err != nil {
					return nil, err
				}
				n, ok := domain.AsInt(l)
				return ok && n == want, nil
			}), nil
		},
	}
}

const (
	zScoreMap = "column_values.z_score.map"
	depMean   = "column.mean"
	depStdev  = "column.standard_deviation"
)

func zScoreStats(deps map[string]any) (mean, stdev float64, err error) {
	mean, okMean := domain.AsFloat(domain.NormalizeValue(deps[depMean]))
	stdev, okStdev := domain.AsFloat(domain.NormalizeValue(deps[depStdev]))
	if !okMean || !okStdev {
		return 0, 0, domain.ErrComputation(nil, "z-score needs a numeric mean and standard deviation")
	}
	if stdev == 0 {
		return 0, 0, domain.ErrComputation(nil, "z-score is undefined for a column with zero standard deviation")
	}
	return mean, stdev, nil
}

func zScoreOf(v any, mean, stdev float64) (any, error) {
	if v == nil {
		return nil, nil
	}
	x, ok := domain.AsFloat(v)
	if !ok {
		return nil, domain.ErrComputation(nil, "value %v (%T) is not numeric", v, v)
	}
	return (x - mean) / stdev, nil
}

func zScore() mapmetric.Function {
	return mapmetric.Function{
		Name:       "column_values.z_score",
		DomainType: domain.DomainColumn,
		Dependencies: func(id metric.Identity) map[string]metric.Identity {
			return map[string]metric.Identity{
				depMean:  metric.NewIdentity(depMean, id.DomainKwargs, nil),
				depStdev: metric.NewIdentity(depStdev, id.DomainKwargs, nil),
			}
		},
		Memory: func(in mapmetric.MemoryInput) ([]any, error) {
			mean, stdev, err := zScoreStats(in.Dependencies)
			if err != nil {
				return nil, err
			}
			values := in.Values()
			out := make([]any, len(values))
			for i, v := range values {
				if out[i], err = zScoreOf(v, mean, stdev); err != nil {
					return nil, err
				}
			}
			return out, nil
		},
		SQL: func(in mapmetric.SQLInput) (string, error) {
			mean, stdev, err := zScoreStats(in.Dependencies)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("(CAST(%s AS DOUBLE) - %v) / %v", in.Column(), mean, stdev), nil
		},
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			mean, stdev, err := zScoreStats(in.Dependencies)
			if err != nil {
				return lazy.Expr{}, err
			}
			col := in.Column()
			return lazy.RowExpr(func(r lazy.Row) (any, error) { return zScoreOf(r.Values[col], mean, stdev) }), nil
		},
	}
}

func zThreshold(kw domain.Kwargs) (float64, bool, error) {
	threshold, ok := domain.AsFloat(domain.NormalizeValue(kw["threshold"]))
	if !ok {
		return 0, false, domain.ErrValidation("threshold must be numeric, got %v", kw["threshold"])
	}
	return threshold, kw.Bool("double_sided", false), nil
}

func underThreshold(z any, threshold float64, doubleSided bool) bool {
	f, ok := domain.AsFloat(z)
	if !ok {
		return false
	}
	if doubleSided {
		f = math.Abs(f)
	}
	return f < threshold
}

func zScoreUnderThreshold() mapmetric.Condition {
	return mapmetric.Condition{
		Name:       "column_values.z_score.under_threshold",
		DomainType: domain.DomainColumn,
		ValueKeys:  []string{"threshold", "double_sided"},
		Dependencies: func(id metric.Identity) map[string]metric.Identity {
			return map[string]metric.Identity{
				zScoreMap: metric.NewIdentity(zScoreMap, id.DomainKwargs, nil),
			}
		},
		Memory: func(in mapmetric.MemoryInput) ([]bool, error) {
			threshold, doubleSided, err := zThreshold(in.ValueKwargs)
			if err != nil {
				return nil, err
			}
			scores, err := in.Series(zScoreMap)
			if err != nil {
				return nil, err
			}
			out := make([]bool, len(scores))
			for i, z := range scores {
				out[i] = underThreshold(z, threshold, doubleSided)
			}
			return out, nil
		},
		SQL: func(in mapmetric.SQLInput) (string, error) {
			threshold, doubleSided, err := zThreshold(in.ValueKwargs)
			if err != nil {
				return "", err
			}
			expr, err := in.Expression(zScoreMap)
			if err != nil {
				return "", err
			}
			if doubleSided {
				expr = "ABS(" + expr + ")"
			}
			return fmt.Sprintf("%s < %v", expr, threshold), nil
		},
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			threshold, doubleSided, err := zThreshold(in.ValueKwargs)
			if err != nil {
				return lazy.Expr{}, err
			}
			scores, err := in.Expr(zScoreMap)
			if err != nil {
				return lazy.Expr{}, err
			}
			return lazy.RowExpr(func(r lazy.Row) (any, error) {
				z, err := scores.Row(r)
				if err != nil {
					return nil, err
				}
				return underThreshold(z, threshold, doubleSided), nil
			}), nil
		},
	}
}
