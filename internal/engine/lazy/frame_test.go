package lazy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
)

func sampleFrame(t *testing.T, partitions int) *Frame {
	t.Helper()
	f, err := FromRows([]string{"a", "b"}, [][]any{
		{1, "x"}, {3, "y"}, {2, nil}, {5, "z"}, {nil, "w"},
	}, partitions, 2)
	require.NoError(t, err)
	return f
}

func TestFrame_RowPlan(t *testing.T) {
	ctx := context.Background()
	f := sampleFrame(t, 3)
	assert.Equal(t, 3, f.NumPartitions())

	doubled := f.WithColumn("a2", RowExpr(func(r Row) (any, error) {
		if r.Values["a"] == nil {
			return nil, nil
		}
		return r.Values["a"].(int64) * 2, nil
	}))
	big := doubled.Filter(RowExpr(func(r Row) (any, error) {
		v, ok := r.Values["a2"].(int64)
		return ok && v > 4, nil
	}))

	n, err := big.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := big.Collect(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Index)

	// The source frame is unchanged by planning.
	n, err = f.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"a", "b", "a2"}, doubled.Columns())
}

func TestFrame_WindowSeesAllPartitionsInOrder(t *testing.T) {
	ctx := context.Background()
	f := sampleFrame(t, 4)
	withPrev := f.WithColumn("prev_index", WindowExpr(func(rows []Row) ([]any, error) {
		out := make([]any, len(rows))
		for i := range rows {
			if i > 0 {
				out[i] = rows[i-1].Index
			}
		}
		return out, nil
	}))
	col, err := withPrev.Column(ctx, "prev_index")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 0, 1, 2, 3}, col)
}

func TestFrame_ErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	f := sampleFrame(t, 2).Filter(RowExpr(func(Row) (any, error) { return nil, boom }))
	_, err := f.Count(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestEngine_GetDomainRecords(t *testing.T) {
	ctx := context.Background()
	e := New(metric.NewRegistry())
	e.LoadBatch("b", sampleFrame(t, 2))

	f, err := e.GetDomainRecords(domain.Kwargs{"row_condition": "a > 1", "condition_parser": "cel"})
	require.NoError(t, err)
	n, err := f.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err = e.GetDomainRecords(domain.Kwargs{"column_A": "a", "column_B": "b", "ignore_row_if": "either_value_is_missing"})
	require.NoError(t, err)
	n, err = f.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = e.GetDomainRecords(domain.Kwargs{"column_list": []string{"a", "nope"}, "ignore_row_if": "any_value_is_missing"})
	var invalid *domain.InvalidMetricAccessorDomainKwargsKeyError
	require.True(t, errors.As(err, &invalid))

	_, err = e.GetDomainRecords(domain.Kwargs{"row_condition": "a > 1", "condition_parser": "sql"})
	require.Error(t, err)
}
