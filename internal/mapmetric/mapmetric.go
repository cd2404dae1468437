// Package mapmetric adapts per-row business functions into registered metric
// providers. A business function sees only the accessor column values (or
// column expressions) it asks for; the adapter handles compute-domain lookup,
// column validation, null filtering, negation into an unexpected condition,
// and registration of the realization metrics derived from that condition.
package mapmetric

import (
	"context"
	"slices"

	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
)

// NullFilter controls whether rows with a null accessor value are dropped
// before a column-shaped business function runs.
type NullFilter int

const (
	// NullFilterDefault drops nulls for conditions and keeps them for functions.
	NullFilterDefault NullFilter = iota
	NullFilterOn
	NullFilterOff
)

func (n NullFilter) enabled(isCondition bool) bool {
	switch n {
	case NullFilterOn:
		return true
	case NullFilterOff:
		return false
	default:
		return isCondition
	}
}

// MemoryInput is passed to in-memory business functions. Columns holds one
// value slice per accessor column, aligned with Index.
type MemoryInput struct {
	Names        []string
	Columns      [][]any
	Index        []int
	ValueKwargs  domain.Kwargs
	Dependencies map[string]any
}

// Values returns the first accessor column.
func (in MemoryInput) Values() []any { return in.Columns[0] }

// SQLInput is passed to SQL business functions. Columns are quoted.
type SQLInput struct {
	Names        []string
	Columns      []string
	ValueKwargs  domain.Kwargs
	Dependencies map[string]any
	Dialect      sqlengine.Dialect
}

// Column returns the first quoted accessor column.
func (in SQLInput) Column() string { return in.Columns[0] }

// LazyInput is passed to lazy business functions.
type LazyInput struct {
	Names        []string
	ValueKwargs  domain.Kwargs
	Dependencies map[string]any
}

// Column returns the first accessor column name.
func (in LazyInput) Column() string { return in.Names[0] }

// Condition describes a map metric whose business functions return a
// "meets expectation" mask or predicate. Backends with a nil function are
// not registered.
type Condition struct {
	Name         string
	DomainType   domain.MetricDomainType
	ValueKeys    []string
	Dependencies metric.DependencyFunc
	NullFilter   NullFilter
	// Window marks conditions that need ordered access to every row.
	Window bool

	Memory func(in MemoryInput) ([]bool, error)
	SQL    func(in SQLInput) (string, error)
	Lazy   func(in LazyInput) (lazy.Expr, error)
}

// Function describes a map metric whose business functions return a value
// per row. It registers as <Name>.map.
type Function struct {
	Name         string
	DomainType   domain.MetricDomainType
	ValueKeys    []string
	Dependencies metric.DependencyFunc
	NullFilter   NullFilter
	Window       bool

	Memory func(in MemoryInput) ([]any, error)
	SQL    func(in SQLInput) (string, error)
	Lazy   func(in LazyInput) (lazy.Expr, error)
}

// MemoryMask is the condition partial stored by the in-memory backend:
// Mask marks unexpected rows of Frame.
type MemoryMask struct {
	Frame *memory.Frame
	Mask  []bool
}

// MemorySeries is the function partial stored by the in-memory backend.
type MemorySeries struct {
	Index  []int
	Values []any
}

// LazyCondition is the condition partial stored by the lazy backend: Expr
// yields true for unexpected rows of Frame.
type LazyCondition struct {
	Frame *lazy.Frame
	Expr  lazy.Expr
}

// realizations lists the metrics derived from a condition, per shape.
func realizations(t domain.MetricDomainType) []string {
	common := []string{
		metric.SuffixUnexpectedCount,
		metric.SuffixUnexpectedValues,
		metric.SuffixUnexpectedIndexList,
		metric.SuffixUnexpectedRows,
	}
	if t == domain.DomainColumn {
		return append(common, metric.SuffixUnexpectedValueCounts)
	}
	return append(common, metric.SuffixFilteredRowCount)
}

var resultFormatKeys = []string{domain.KeyResultFormat}

// RegisterCondition registers <name>.condition and its realization metrics
// on every backend the condition implements.
func RegisterCondition(reg *metric.Registry, c Condition) error {
	if c.DomainType == "" {
		c.DomainType = domain.DomainColumn
	}
	valueKeys := slices.Concat(c.ValueKeys, resultFormatKeys)
	condType := metric.FnMapCondition
	if c.Window {
		condType = metric.FnWindowCondition
	}

	var providers []metric.Provider
	add := func(backend metric.Backend, suffix string, fnType metric.FnType, compute metric.ComputeFunc, deps metric.DependencyFunc) {
		providers = append(providers, metric.Provider{
			Name:               c.Name + suffix,
			Backend:            backend,
			FnType:             fnType,
			DomainType:         c.DomainType,
			DomainKeys:         domainKeys(c.DomainType),
			ValueKeys:          valueKeys,
			Compute:            compute,
			Dependencies:       deps,
			NeedsTableMetadata: true,
		})
	}

	if c.Memory != nil {
		add(metric.BackendMemory, metric.SuffixCondition, condType, memoryCondition(c), c.Dependencies)
		for _, suffix := range realizations(c.DomainType) {
			add(metric.BackendMemory, suffix, metric.FnValue, memoryRealization(suffix, c.DomainType), nil)
		}
	}
	if c.SQL != nil {
		add(metric.BackendSQL, metric.SuffixCondition, condType, sqlCondition(c), c.Dependencies)
		for _, suffix := range realizations(c.DomainType) {
			if suffix == metric.SuffixUnexpectedCount && !c.Window {
				add(metric.BackendSQL, suffix+metric.SuffixAggregateFn, metric.FnAggregate, sqlUnexpectedCountAggregate, nil)
				add(metric.BackendSQL, suffix, metric.FnValue, passThroughPartial, nil)
				continue
			}
			add(metric.BackendSQL, suffix, metric.FnValue, sqlRealization(suffix, c.DomainType), nil)
		}
	}
	if c.Lazy != nil {
		add(metric.BackendLazy, metric.SuffixCondition, condType, lazyCondition(c), c.Dependencies)
		for _, suffix := range realizations(c.DomainType) {
			add(metric.BackendLazy, suffix, metric.FnValue, lazyRealization(suffix, c.DomainType), nil)
		}
	}

	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunction registers <name>.map on every backend the function implements.
func RegisterFunction(reg *metric.Registry, f Function) error {
	if f.DomainType == "" {
		f.DomainType = domain.DomainColumn
	}
	fnType := metric.FnMap
	if f.Window {
		fnType = metric.FnWindow
	}
	base := metric.Provider{
		Name:               f.Name + metric.SuffixMap,
		FnType:             fnType,
		DomainType:         f.DomainType,
		DomainKeys:         domainKeys(f.DomainType),
		ValueKeys:          f.ValueKeys,
		Dependencies:       f.Dependencies,
		NeedsTableMetadata: true,
	}
	if f.Memory != nil {
		p := base
		p.Backend, p.Compute = metric.BackendMemory, memoryFunction(f)
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	if f.SQL != nil {
		p := base
		p.Backend, p.Compute = metric.BackendSQL, sqlFunction(f)
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	if f.Lazy != nil {
		p := base
		p.Backend, p.Compute = metric.BackendLazy, lazyFunction(f)
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func domainKeys(t domain.MetricDomainType) []string {
	keys := []string{domain.KeyBatchID, domain.KeyTable, domain.KeyRowCondition, domain.KeyConditionParser}
	switch t {
	case domain.DomainColumn:
		return append(keys, domain.KeyColumn)
	case domain.DomainColumnPair:
		return append(keys, domain.KeyColumnA, domain.KeyColumnB, domain.KeyIgnoreRowIf)
	case domain.DomainMulticolumn:
		return append(keys, domain.KeyColumnList, domain.KeyIgnoreRowIf)
	default:
		return keys
	}
}

// accessorNames validates the accessor columns against the resolved
// table.columns dependency and returns them in accessor order.
func accessorNames(task metric.Task, accessor domain.Kwargs) ([]string, error) {
	names := domain.AccessorColumns(accessor)
	if len(names) == 0 {
		return nil, domain.ErrInvalidAccessorKey("metric %q requires an accessor column", task.Metric.Name)
	}
	tableColumns, ok := task.TableColumns()
	if !ok {
		return nil, domain.ErrMetricProvider("metric %q is missing its table.columns dependency", task.Metric.Name)
	}
	for _, name := range names {
		if !slices.Contains(tableColumns, name) {
			return nil, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", name)
		}
	}
	return names, nil
}

// checkAccessor validates accessor columns named directly in the domain
// kwargs before any backend work happens.
func checkAccessor(task metric.Task, t domain.MetricDomainType) ([]string, error) {
	_, accessor, err := domain.SplitDomainKwargs(task.Metric.DomainKwargs, t)
	if err != nil {
		return nil, domain.ErrInvalidAccessorKey("%s", err.Error())
	}
	return accessorNames(task, accessor)
}

func resultFormat(task metric.Task) (domain.ResultFormat, error) {
	return domain.ParseResultFormat(task.Metric.ValueKwargs[domain.KeyResultFormat])
}

// passThroughPartial returns the resolved aggregate of the sibling
// aggregate_fn metric.
func passThroughPartial(_ context.Context, _ metric.Engine, task metric.Task) (any, error) {
	v, ok := task.Dependency(metric.DepMetricPartialFn)
	if !ok {
		return nil, domain.ErrMetricProvider("metric %q is missing dependency %q", task.Metric.Name, metric.DepMetricPartialFn)
	}
	return toCount(v), nil
}

func toCount(v any) int {
	switch n := domain.NormalizeValue(v).(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
