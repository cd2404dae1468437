package memory

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrame([]string{"a", "b", "name"}, [][]any{
		{1, 10, "x"},
		{2, nil, "y"},
		{nil, nil, "z"},
		{4, 40, nil},
	})
	require.NoError(t, err)
	return f
}

func TestFrame_Basics(t *testing.T) {
	f := testFrame(t)
	assert.Equal(t, 4, f.Len())
	assert.Equal(t, []string{"a", "b", "name"}, f.Columns())

	col, err := f.Column("a")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), nil, int64(4)}, col)

	filtered, err := f.Filter([]bool{false, true, false, true})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, filtered.Index())
	assert.Equal(t, map[string]any{"a": int64(4), "b": int64(40), "name": nil}, filtered.Row(1))

	assert.Equal(t, 2, f.Head(2).Len())
	assert.Equal(t, 4, f.Head(-1).Len())

	_, err = f.Column("missing")
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestFrame_NaNIsNull(t *testing.T) {
	f, err := NewFrame([]string{"x"}, [][]any{{math.NaN()}, {1.5}})
	require.NoError(t, err)
	col, _ := f.Column("x")
	assert.Nil(t, col[0])
}

func TestInferType(t *testing.T) {
	assert.Equal(t, "int64", InferType([]any{int64(1), nil}))
	assert.Equal(t, "float64", InferType([]any{int64(1), 2.5}))
	assert.Equal(t, "object", InferType([]any{int64(1), "x"}))
	assert.Equal(t, "null", InferType([]any{nil}))
}

func TestGetDomainRecords(t *testing.T) {
	e := New(metric.NewRegistry())
	e.LoadBatch("b1", testFrame(t))

	tests := []struct {
		name      string
		kw        domain.Kwargs
		wantIndex []int
		wantErr   bool
	}{
		{name: "active batch", kw: domain.Kwargs{}, wantIndex: []int{0, 1, 2, 3}},
		{name: "row condition", kw: domain.Kwargs{"row_condition": "a >= 2", "condition_parser": "cel"}, wantIndex: []int{1, 3}},
		{name: "wrong parser", kw: domain.Kwargs{"row_condition": "a >= 2", "condition_parser": "pandas"}, wantErr: true},
		{name: "missing parser", kw: domain.Kwargs{"row_condition": "a >= 2"}, wantErr: true},
		{name: "pair both missing", kw: domain.Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "both_values_are_missing"}, wantIndex: []int{0, 1, 3}},
		{name: "pair either missing", kw: domain.Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "either_value_is_missing"}, wantIndex: []int{0, 3}},
		{name: "pair neither", kw: domain.Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "neither"}, wantIndex: []int{0, 1, 2, 3}},
		{name: "pair bad value", kw: domain.Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "sometimes"}, wantErr: true},
		{name: "multi all missing", kw: domain.Kwargs{"column_list": []string{"a", "b"}, "ignore_row_if": "all_values_are_missing"}, wantIndex: []int{0, 1, 3}},
		{name: "multi any missing", kw: domain.Kwargs{"column_list": []string{"a", "b", "name"}, "ignore_row_if": "any_value_is_missing"}, wantIndex: []int{0}},
		{name: "unknown batch", kw: domain.Kwargs{"batch_id": "nope"}, wantErr: true},
		{name: "named table", kw: domain.Kwargs{"table": "t"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := e.GetDomainRecords(tt.kw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIndex, f.Index())
		})
	}
}

func TestGetComputeDomain(t *testing.T) {
	e := New(metric.NewRegistry())
	e.LoadBatch("b1", testFrame(t))

	f, compute, accessor, err := e.GetComputeDomain(domain.Kwargs{"batch_id": "b1", "column": "a"}, domain.DomainColumn)
	require.NoError(t, err)
	assert.Equal(t, 4, f.Len())
	assert.Equal(t, domain.Kwargs{"batch_id": "b1"}, compute)
	assert.Equal(t, domain.Kwargs{"column": "a"}, accessor)
}

func TestNoBatchLoaded(t *testing.T) {
	e := New(metric.NewRegistry())
	_, err := e.GetDomainRecords(domain.Kwargs{})
	require.Error(t, err)
}
