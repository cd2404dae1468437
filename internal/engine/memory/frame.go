// Package memory implements the materialized in-memory execution backend.
package memory

import (
	"fmt"

	"duck-expect/internal/domain"
)

// Frame is an immutable column-oriented table. nil is the null marker. Each
// row keeps its position in the originally loaded batch so index lists stay
// stable across filtering.
type Frame struct {
	columns []string
	data    map[string][]any
	index   []int
}

// NewFrame builds a frame from row-major data.
func NewFrame(columns []string, rows [][]any) (*Frame, error) {
	data := make(map[string][]any, len(columns))
	for _, col := range columns {
		data[col] = make([]any, 0, len(rows))
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, domain.ErrValidation("row %d has %d values, expected %d", i, len(row), len(columns))
		}
		for j, col := range columns {
			data[col] = append(data[col], domain.NormalizeValue(row[j]))
		}
	}
	return FromColumns(columns, data)
}

// FromColumns builds a frame from column-major data. All columns must have
// equal length.
func FromColumns(columns []string, data map[string][]any) (*Frame, error) {
	seen := make(map[string]bool, len(columns))
	n := -1
	out := make(map[string][]any, len(columns))
	for _, col := range columns {
		if seen[col] {
			return nil, domain.ErrValidation("duplicate column %q", col)
		}
		seen[col] = true
		values, ok := data[col]
		if !ok {
			return nil, domain.ErrValidation("missing data for column %q", col)
		}
		if n >= 0 && len(values) != n {
			return nil, domain.ErrValidation("column %q has %d values, expected %d", col, len(values), n)
		}
		n = len(values)
		norm := make([]any, len(values))
		for i, v := range values {
			norm[i] = domain.NormalizeValue(v)
		}
		out[col] = norm
	}
	if n < 0 {
		n = 0
	}
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	return &Frame{columns: append([]string(nil), columns...), data: out, index: index}, nil
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return append([]string(nil), f.columns...) }

// Len returns the row count.
func (f *Frame) Len() int { return len(f.index) }

// Index returns the original row positions.
func (f *Frame) Index() []int { return append([]int(nil), f.index...) }

// HasColumn reports whether the frame has the column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Column returns the values of one column.
func (f *Frame) Column(name string) ([]any, error) {
	values, ok := f.data[name]
	if !ok {
		return nil, domain.ErrNotFound("column %q not found", name)
	}
	return values, nil
}

// Row returns row i as a map.
func (f *Frame) Row(i int) map[string]any {
	row := make(map[string]any, len(f.columns))
	for _, col := range f.columns {
		row[col] = f.data[col][i]
	}
	return row
}

// Records returns every row as a map.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.Len())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Filter returns the rows where mask is true.
func (f *Frame) Filter(mask []bool) (*Frame, error) {
	if len(mask) != f.Len() {
		return nil, fmt.Errorf("mask length %d does not match frame length %d", len(mask), f.Len())
	}
	keep := make([]int, 0, len(mask))
	for i, m := range mask {
		if m {
			keep = append(keep, i)
		}
	}
	return f.take(keep), nil
}

// Head returns the first n rows; n < 0 returns every row.
func (f *Frame) Head(n int) *Frame {
	if n < 0 || n >= f.Len() {
		return f
	}
	keep := make([]int, n)
	for i := range keep {
		keep[i] = i
	}
	return f.take(keep)
}

// Select returns a frame with only the named columns.
func (f *Frame) Select(columns ...string) (*Frame, error) {
	data := make(map[string][]any, len(columns))
	for _, col := range columns {
		values, err := f.Column(col)
		if err != nil {
			return nil, err
		}
		data[col] = values
	}
	return &Frame{columns: append([]string(nil), columns...), data: data, index: f.index}, nil
}

func (f *Frame) take(rows []int) *Frame {
	data := make(map[string][]any, len(f.columns))
	for _, col := range f.columns {
		src := f.data[col]
		dst := make([]any, len(rows))
		for i, r := range rows {
			dst[i] = src[r]
		}
		data[col] = dst
	}
	index := make([]int, len(rows))
	for i, r := range rows {
		index[i] = f.index[r]
	}
	return &Frame{columns: f.columns, data: data, index: index}
}

// ColumnType infers a column's type from its non-null values: int64,
// float64, string, bool, object (mixed or nested) or null (all missing).
func (f *Frame) ColumnType(name string) (string, error) {
	values, err := f.Column(name)
	if err != nil {
		return "", err
	}
	return InferType(values), nil
}

// InferType infers a value-list type as described on ColumnType.
func InferType(values []any) string {
	kind := ""
	for _, v := range values {
		var k string
		switch v.(type) {
		case nil:
			continue
		case int64:
			k = "int64"
		case float64:
			k = "float64"
		case string:
			k = "string"
		case bool:
			k = "bool"
		default:
			k = "object"
		}
		switch {
		case kind == "":
			kind = k
		case kind == k:
		case (kind == "int64" && k == "float64") || (kind == "float64" && k == "int64"):
			kind = "float64"
		default:
			return "object"
		}
	}
	if kind == "" {
		return "null"
	}
	return kind
}
