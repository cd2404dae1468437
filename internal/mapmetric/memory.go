package mapmetric

import (
	"context"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/metric"
)

// Series returns the values of a function partial dependency aligned with
// the rows of in.
func (in MemoryInput) Series(alias string) ([]any, error) {
	dep, ok := in.Dependencies[alias]
	if !ok {
		return nil, domain.ErrMetricProvider("missing dependency %q", alias)
	}
	p, ok := dep.(metric.Partial)
	if !ok {
		return nil, domain.ErrMetricProvider("dependency %q is %T, not a partial", alias, dep)
	}
	series, ok := p.Value.(MemorySeries)
	if !ok {
		return nil, domain.ErrMetricProvider("dependency %q is not an in-memory series", alias)
	}
	byIndex := make(map[int]any, len(series.Index))
	for i, idx := range series.Index {
		byIndex[idx] = series.Values[i]
	}
	out := make([]any, len(in.Index))
	for i, idx := range in.Index {
		out[i] = byIndex[idx]
	}
	return out, nil
}

// memoryDomain resolves the compute domain for a map metric and applies the
// null filter to column-shaped domains.
func memoryDomain(eng metric.Engine, task metric.Task, t domain.MetricDomainType, filterNulls bool) (*memory.Frame, metric.Partial, MemoryInput, error) {
	e, ok := eng.(*memory.Engine)
	if !ok {
		return nil, metric.Partial{}, MemoryInput{}, wrongEngine(eng, metric.BackendMemory)
	}
	if _, err := checkAccessor(task, t); err != nil {
		return nil, metric.Partial{}, MemoryInput{}, err
	}
	data, compute, accessor, err := e.GetComputeDomain(task.Metric.DomainKwargs, t)
	if err != nil {
		return nil, metric.Partial{}, MemoryInput{}, err
	}
	names := domain.AccessorColumns(accessor)

	if filterNulls && t == domain.DomainColumn {
		values, err := data.Column(names[0])
		if err != nil {
			return nil, metric.Partial{}, MemoryInput{}, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", names[0])
		}
		keep := make([]bool, len(values))
		for i, v := range values {
			keep[i] = v != nil
		}
		if data, err = data.Filter(keep); err != nil {
			return nil, metric.Partial{}, MemoryInput{}, err
		}
	}

	in := MemoryInput{
		Names:        names,
		Columns:      make([][]any, len(names)),
		Index:        data.Index(),
		ValueKwargs:  task.Metric.ValueKwargs.Without(domain.KeyResultFormat),
		Dependencies: task.Dependencies,
	}
	for i, name := range names {
		values, err := data.Column(name)
		if err != nil {
			return nil, metric.Partial{}, MemoryInput{}, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", name)
		}
		in.Columns[i] = values
	}
	return data, metric.Partial{ComputeKwargs: compute, AccessorKwargs: accessor}, in, nil
}

func memoryCondition(c Condition) metric.ComputeFunc {
	filterNulls := c.NullFilter.enabled(true)
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		data, partial, in, err := memoryDomain(eng, task, c.DomainType, filterNulls)
		if err != nil {
			return nil, err
		}
		meets, err := c.Memory(in)
		if err != nil {
			return nil, err
		}
		if len(meets) != data.Len() {
			return nil, domain.ErrComputation(nil, "condition %s returned %d results for %d rows", c.Name, len(meets), data.Len())
		}
		mask := make([]bool, len(meets))
		for i, ok := range meets {
			mask[i] = !ok
		}
		partial.Value = MemoryMask{Frame: data, Mask: mask}
		return partial, nil
	}
}

func memoryFunction(f Function) metric.ComputeFunc {
	filterNulls := f.NullFilter.enabled(false)
	return func(_ context.Context, eng metric.Engine, task metric.Task) (any, error) {
		data, partial, in, err := memoryDomain(eng, task, f.DomainType, filterNulls)
		if err != nil {
			return nil, err
		}
		values, err := f.Memory(in)
		if err != nil {
			return nil, err
		}
		if len(values) != data.Len() {
			return nil, domain.ErrComputation(nil, "function %s returned %d values for %d rows", f.Name, len(values), data.Len())
		}
		partial.Value = MemorySeries{Index: in.Index, Values: values}
		return partial, nil
	}
}

func memoryRealization(suffix string, t domain.MetricDomainType) metric.ComputeFunc {
	return func(_ context.Context, _ metric.Engine, task metric.Task) (any, error) {
		p, names, rf, err := conditionPartial(task)
		if err != nil {
			return nil, err
		}
		cond, ok := p.Value.(MemoryMask)
		if !ok {
			return nil, unexpectedPartialType(task, p.Value)
		}
		if suffix == metric.SuffixFilteredRowCount {
			return cond.Frame.Len(), nil
		}
		unexpected, err := cond.Frame.Filter(cond.Mask)
		if err != nil {
			return nil, err
		}
		limit := rf.Limit()

		switch suffix {
		case metric.SuffixUnexpectedCount:
			return unexpected.Len(), nil
		case metric.SuffixUnexpectedIndexList:
			return truncate(unexpected.Index(), limit), nil
		case metric.SuffixUnexpectedRows:
			return truncate(unexpected.Records(), limit), nil
		case metric.SuffixUnexpectedValueCounts:
			values, err := unexpected.Column(names[0])
			if err != nil {
				return nil, err
			}
			return countValues(values, limit)
		default:
			records := truncate(unexpected.Records(), limit)
			out := make([]any, len(records))
			for i, rec := range records {
				out[i] = shapeValue(t, names, rec)
			}
			return out, nil
		}
	}
}
