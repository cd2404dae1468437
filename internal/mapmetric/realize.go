package mapmetric

import (
	"sort"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
)

// ValueCount is one entry of an unexpected_value_counts result.
type ValueCount struct {
	Value any `json:"value" yaml:"value"`
	Count int `json:"count" yaml:"count"`
}

// shapeValue renders the accessor values of one record the way the
// unexpected_values realization reports them: a scalar for columns, a
// two-element list for pairs and a column map for multicolumn domains.
func shapeValue(t domain.MetricDomainType, names []string, rec map[string]any) any {
	switch t {
	case domain.DomainColumnPair:
		return []any{rec[names[0]], rec[names[1]]}
	case domain.DomainMulticolumn:
		out := make(map[string]any, len(names))
		for _, n := range names {
			out[n] = rec[n]
		}
		return out
	default:
		return rec[names[0]]
	}
}

// countValues groups values, most frequent first with ties broken by value.
func countValues(values []any, limit int) ([]ValueCount, error) {
	byKey := map[string]*ValueCount{}
	var order []string
	for _, v := range values {
		key, err := domain.ValueKey(v)
		if err != nil {
			return nil, domain.ErrComputation(err, "unexpected value %v cannot be counted", v)
		}
		vc, ok := byKey[key]
		if !ok {
			vc = &ValueCount{Value: v}
			byKey[key] = vc
			order = append(order, key)
		}
		vc.Count++
	}
	out := make([]ValueCount, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sortValueCounts(out)
	return truncate(out, limit), nil
}

func sortValueCounts(vcs []ValueCount) {
	sort.SliceStable(vcs, func(i, j int) bool {
		if vcs[i].Count != vcs[j].Count {
			return vcs[i].Count > vcs[j].Count
		}
		return domain.CompareValues(vcs[i].Value, vcs[j].Value) < 0
	})
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

// tableRecord strips engine bookkeeping columns from a SQL record.
func tableRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if sqlengine.IsInternalColumn(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func conditionPartial(task metric.Task) (metric.Partial, []string, domain.ResultFormat, error) {
	p, err := task.PartialDependency(metric.DepUnexpectedCondition)
	if err != nil {
		return metric.Partial{}, nil, domain.ResultFormat{}, err
	}
	rf, err := resultFormat(task)
	if err != nil {
		return metric.Partial{}, nil, domain.ResultFormat{}, err
	}
	return p, domain.AccessorColumns(p.AccessorKwargs), rf, nil
}

func unexpectedPartialType(task metric.Task, got any) error {
	return domain.ErrMetricProvider("metric %q received a condition of type %T", task.Metric.Name, got)
}

func wrongEngine(eng metric.Engine, want metric.Backend) error {
	return domain.ErrMetricProvider("provider requires the %s backend, got %s", want, eng.Backend())
}
