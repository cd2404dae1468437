package metric

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/domain"
)

func noop(context.Context, Engine, Task) (any, error) { return nil, nil }

func TestIdentityKey_OrderIndependent(t *testing.T) {
	a := NewIdentity("column.min",
		domain.Kwargs{"column": "x", "batch_id": "b", "nested": map[string]any{"z": 1, "a": []any{1, 2}}},
		domain.Kwargs{"strict": true, "n": 2},
	)
	b := NewIdentity("column.min",
		domain.Kwargs{"nested": map[string]any{"a": []any{1, 2}, "z": 1}, "batch_id": "b", "column": "x"},
		domain.Kwargs{"n": 2, "strict": true},
	)
	assert.Equal(t, a.Key(), b.Key())

	c := NewIdentity("column.min", domain.Kwargs{"column": "y", "batch_id": "b"}, nil)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestIdentityKey_NilAndEmptyKwargsMatch(t *testing.T) {
	a := Identity{Name: "table.row_count"}
	b := NewIdentity("table.row_count", domain.Kwargs{}, domain.Kwargs{})
	assert.Equal(t, a.Key(), b.Key())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Provider{Name: "table.row_count", Backend: BackendMemory, Compute: noop}))

	err := r.Register(Provider{Name: "table.row_count", Backend: BackendMemory, Compute: noop})
	require.Error(t, err)

	assert.True(t, r.Has("table.row_count", BackendMemory))
	assert.False(t, r.Has("table.row_count", BackendSQL))

	_, err = r.Provider("table.row_count", BackendSQL)
	var nf *domain.MetricProviderNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "sql", nf.Backend)

	var base *domain.MetricProviderError
	assert.True(t, errors.As(err, &base))
}

func registerMapFamily(t *testing.T, r *Registry, backend Backend, withAggregate bool) {
	t.Helper()
	col := domain.DomainColumn
	providers := []Provider{
		{Name: "column_values.nonnull.condition", FnType: FnMapCondition, DomainType: col, NeedsTableMetadata: true},
		{Name: "column_values.nonnull.unexpected_count", DomainType: col, NeedsTableMetadata: true},
		{Name: "column_values.nonnull.unexpected_values", DomainType: col, NeedsTableMetadata: true},
		{Name: "column_values.nonnull.unexpected_rows", DomainType: col, NeedsTableMetadata: true},
		{Name: "table.columns"},
		{Name: "table.column_types"},
		{Name: "table.row_count"},
	}
	if withAggregate {
		providers = append(providers, Provider{Name: "column_values.nonnull.unexpected_count.aggregate_fn", FnType: FnAggregate, DomainType: col, NeedsTableMetadata: true})
	}
	for _, p := range providers {
		p.Backend = backend
		p.Compute = noop
		require.NoError(t, r.Register(p))
	}
}

func TestDependencies_UnexpectedCountWithoutAggregate(t *testing.T) {
	r := NewRegistry()
	registerMapFamily(t, r, BackendMemory, false)

	id := NewIdentity("column_values.nonnull.unexpected_count",
		domain.Kwargs{"column": "age", "batch_id": "b1"},
		domain.Kwargs{"result_format": map[string]any{"result_format": "BASIC"}, "mostly": 0.9},
	)
	deps, err := r.Dependencies(id, BackendMemory)
	require.NoError(t, err)

	cond, ok := deps[DepUnexpectedCondition]
	require.True(t, ok)
	assert.Equal(t, "column_values.nonnull.condition", cond.Name)
	assert.Equal(t, domain.Kwargs{"column": "age", "batch_id": "b1"}, cond.DomainKwargs)
	assert.Equal(t, domain.Kwargs{"mostly": 0.9}, cond.ValueKwargs)
	_, hasPartial := deps[DepMetricPartialFn]
	assert.False(t, hasPartial)

	cols := deps[DepTableColumns]
	assert.Equal(t, domain.Kwargs{"batch_id": "b1"}, cols.DomainKwargs)
	types := deps[DepTableColumnTypes]
	assert.Equal(t, domain.Kwargs{"include_nested": true}, types.ValueKwargs)
	_, ok = deps[DepTableRowCount]
	assert.True(t, ok)
}

func TestDependencies_UnexpectedCountPrefersAggregate(t *testing.T) {
	r := NewRegistry()
	registerMapFamily(t, r, BackendSQL, true)

	id := NewIdentity("column_values.nonnull.unexpected_count", domain.Kwargs{"column": "age"}, nil)
	deps, err := r.Dependencies(id, BackendSQL)
	require.NoError(t, err)

	partial, ok := deps[DepMetricPartialFn]
	require.True(t, ok)
	assert.Equal(t, "column_values.nonnull.unexpected_count.aggregate_fn", partial.Name)
	_, hasCond := deps[DepUnexpectedCondition]
	assert.False(t, hasCond)

	aggDeps, err := r.Dependencies(partial, BackendSQL)
	require.NoError(t, err)
	assert.Equal(t, "column_values.nonnull.condition", aggDeps[DepUnexpectedCondition].Name)
}

func TestDependencies_RealizationMetricsUseCondition(t *testing.T) {
	r := NewRegistry()
	registerMapFamily(t, r, BackendMemory, false)

	for _, name := range []string{"column_values.nonnull.unexpected_values", "column_values.nonnull.unexpected_rows"} {
		deps, err := r.Dependencies(NewIdentity(name, domain.Kwargs{"column": "a"}, nil), BackendMemory)
		require.NoError(t, err)
		assert.Equal(t, "column_values.nonnull.condition", deps[DepUnexpectedCondition].Name, name)
	}
}

func TestDependencies_PairDomainStripsIgnoreRowIf(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Provider{
		Name: "column_pair_values.equal.condition", Backend: BackendMemory, Compute: noop,
		FnType: FnMapCondition, DomainType: domain.DomainColumnPair, NeedsTableMetadata: true,
	}))
	id := NewIdentity("column_pair_values.equal.condition",
		domain.Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "both_values_are_missing", "batch_id": "x"}, nil)
	deps, err := r.Dependencies(id, BackendMemory)
	require.NoError(t, err)
	assert.Equal(t, domain.Kwargs{"batch_id": "x"}, deps[DepTableColumns].DomainKwargs)
}

func TestDependencies_MapSibling(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Provider{Name: "column_values.value_length", Backend: BackendMemory, Compute: noop, DomainType: domain.DomainColumn}))
	require.NoError(t, r.Register(Provider{Name: "column_values.value_length.map", Backend: BackendMemory, Compute: noop, FnType: FnMap, DomainType: domain.DomainColumn}))

	deps, err := r.Dependencies(NewIdentity("column_values.value_length", domain.Kwargs{"column": "a"}, nil), BackendMemory)
	require.NoError(t, err)
	assert.Equal(t, "column_values.value_length.map", deps[DepMetricMapFn].Name)
}

func TestDependencies_UnknownMetric(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dependencies(NewIdentity("nope.condition", nil, nil), BackendMemory)
	var base *domain.MetricProviderError
	require.True(t, errors.As(err, &base))
}

func TestDependencies_CustomDescriptor(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Provider{
		Name: "column.standard_deviation", Backend: BackendMemory, Compute: noop, DomainType: domain.DomainColumn,
		Dependencies: func(id Identity) map[string]Identity {
			return map[string]Identity{"column.mean": NewIdentity("column.mean", id.DomainKwargs, nil)}
		},
	}))
	deps, err := r.Dependencies(NewIdentity("column.standard_deviation", domain.Kwargs{"column": "a"}, nil), BackendMemory)
	require.NoError(t, err)
	assert.Equal(t, "column.mean", deps["column.mean"].Name)
}
