package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDomainKwargs(t *testing.T) {
	tests := []struct {
		name         string
		kw           Kwargs
		domainType   MetricDomainType
		wantCompute  Kwargs
		wantAccessor Kwargs
		wantErr      bool
	}{
		{
			name:         "column",
			kw:           Kwargs{"column": "age", "batch_id": "b1", "row_condition": "age > 3", "condition_parser": "cel"},
			domainType:   DomainColumn,
			wantCompute:  Kwargs{"batch_id": "b1", "row_condition": "age > 3", "condition_parser": "cel"},
			wantAccessor: Kwargs{"column": "age"},
		},
		{
			name:         "column pair keeps ignore_row_if in compute domain",
			kw:           Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "both_values_are_missing"},
			domainType:   DomainColumnPair,
			wantCompute:  Kwargs{"ignore_row_if": "both_values_are_missing"},
			wantAccessor: Kwargs{"column_A": "a", "column_B": "b"},
		},
		{
			name:         "multicolumn",
			kw:           Kwargs{"column_list": []any{"a", "b", "c"}},
			domainType:   DomainMulticolumn,
			wantCompute:  Kwargs{},
			wantAccessor: Kwargs{"column_list": []any{"a", "b", "c"}},
		},
		{
			name:         "multicolumn with one column",
			kw:           Kwargs{"column_list": []string{"a"}},
			domainType:   DomainMulticolumn,
			wantCompute:  Kwargs{},
			wantAccessor: Kwargs{"column_list": []string{"a"}},
		},
		{
			name:       "multicolumn needs a column",
			kw:         Kwargs{"column_list": []string{}},
			domainType: DomainMulticolumn,
			wantErr:    true,
		},
		{
			name:       "column missing",
			kw:         Kwargs{"batch_id": "b1"},
			domainType: DomainColumn,
			wantErr:    true,
		},
		{
			name:         "table",
			kw:           Kwargs{"batch_id": "b1"},
			domainType:   DomainTable,
			wantCompute:  Kwargs{"batch_id": "b1"},
			wantAccessor: Kwargs{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compute, accessor, err := SplitDomainKwargs(tt.kw, tt.domainType)
			if tt.wantErr {
				require.Error(t, err)
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCompute, compute)
			assert.Equal(t, tt.wantAccessor, accessor)
		})
	}
}

func TestSplitDomainKwargs_DoesNotMutateInput(t *testing.T) {
	kw := Kwargs{"column": "a", "batch_id": "b"}
	_, _, err := SplitDomainKwargs(kw, DomainColumn)
	require.NoError(t, err)
	assert.Equal(t, Kwargs{"column": "a", "batch_id": "b"}, kw)
}

func TestTableDependencyKeys(t *testing.T) {
	assert.Equal(t, []string{"column"}, DomainColumn.TableDependencyKeys())
	assert.Equal(t, []string{"column_A", "column_B", "ignore_row_if"}, DomainColumnPair.TableDependencyKeys())
	assert.Equal(t, []string{"column_list", "ignore_row_if"}, DomainMulticolumn.TableDependencyKeys())
	assert.Nil(t, DomainTable.TableDependencyKeys())
}

func TestParseMetricDomain(t *testing.T) {
	d, err := ParseMetricDomain(Kwargs{"column_A": "x", "column_B": "y", "ignore_row_if": "never", "batch_id": "b"}, DomainColumnPair)
	require.NoError(t, err)
	pair, ok := d.(ColumnPairDomain)
	require.True(t, ok)
	assert.Equal(t, "x", pair.ColumnA)
	assert.Equal(t, "never", pair.IgnoreRowIf)
	assert.Equal(t, Kwargs{"column_A": "x", "column_B": "y", "ignore_row_if": "never", "batch_id": "b"}, pair.Kwargs())

	_, err = ParseMetricDomain(Kwargs{"column": "x", "row_condition": "x > 1"}, DomainColumn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition_parser")

	d, err = ParseMetricDomain(Kwargs{"column_list": []any{"b"}}, DomainMulticolumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, d.(MulticolumnDomain).Columns)

	_, err = ParseMetricDomain(Kwargs{"column_list": []any{}}, DomainMulticolumn)
	require.Error(t, err)
}

func TestInferDomainType(t *testing.T) {
	assert.Equal(t, DomainColumn, InferDomainType(Kwargs{"column": "a"}))
	assert.Equal(t, DomainColumnPair, InferDomainType(Kwargs{"column_A": "a", "column_B": "b"}))
	assert.Equal(t, DomainMulticolumn, InferDomainType(Kwargs{"column_list": []string{"a", "b"}}))
	assert.Equal(t, DomainTable, InferDomainType(Kwargs{"batch_id": "x"}))
}

func TestParseResultFormat(t *testing.T) {
	rf, err := ParseResultFormat(nil)
	require.NoError(t, err)
	assert.Equal(t, ResultBasic, rf.Level)
	assert.Equal(t, 20, rf.Limit())

	rf, err = ParseResultFormat("complete")
	require.NoError(t, err)
	assert.Equal(t, ResultComplete, rf.Level)
	assert.Equal(t, 0, rf.Limit())

	rf, err = ParseResultFormat(map[string]any{"result_format": "SUMMARY", "partial_unexpected_count": 3, "include_unexpected_rows": true})
	require.NoError(t, err)
	assert.Equal(t, 3, rf.Limit())
	assert.True(t, rf.IncludeUnexpectedRows)

	_, err = ParseResultFormat(map[string]any{"result_format": "BOOLEAN_ONLY", "include_unexpected_rows": true})
	require.Error(t, err)

	_, err = ParseResultFormat("VERBOSE")
	require.Error(t, err)
}

func TestMetricProviderNotFoundError_IsProviderError(t *testing.T) {
	err := error(ErrProviderNotFound("column.min", "sql"))
	var base *MetricProviderError
	require.True(t, errors.As(err, &base))
	assert.Contains(t, base.Message, "column.min")
}
