// Package lazy implements the distributed-style execution backend: rows are
// split into partitions and transformations are recorded as a plan that only
// runs when a result is requested. Row-wise steps run per partition in
// parallel; window steps see every row in order.
package lazy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"duck-expect/internal/domain"
)

// Row is one record with its position in the loaded batch.
type Row struct {
	Index  int
	Values map[string]any
}

// Expr computes a value per row. Exactly one of Row or Window is set.
type Expr struct {
	Row    func(Row) (any, error)
	Window func([]Row) ([]any, error)
}

// RowExpr wraps a row-wise function.
func RowExpr(fn func(Row) (any, error)) Expr { return Expr{Row: fn} }

// WindowExpr wraps a function over the full ordered row set.
func WindowExpr(fn func([]Row) ([]any, error)) Expr { return Expr{Window: fn} }

// IsWindow reports whether the expression needs every row at once.
func (e Expr) IsWindow() bool { return e.Window != nil }

type stepKind int

const (
	stepWithColumn stepKind = iota
	stepFilter
)

type step struct {
	kind stepKind
	name string
	expr Expr
}

// Frame is an immutable lazily evaluated partitioned table.
type Frame struct {
	columns    []string
	partitions [][]Row
	plan       []step
	workers    int
}

// FromRows splits row-major data into n partitions.
func FromRows(columns []string, rows [][]any, n, workers int) (*Frame, error) {
	if n <= 0 {
		n = 1
	}
	size := (len(rows) + n - 1) / n
	if size == 0 {
		size = 1
	}
	var parts [][]Row
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		part := make([]Row, 0, end-start)
		for i := start; i < end; i++ {
			if len(rows[i]) != len(columns) {
				return nil, domain.ErrValidation("row %d has %d values, expected %d", i, len(rows[i]), len(columns))
			}
			values := make(map[string]any, len(columns))
			for j, col := range columns {
				values[col] = domain.NormalizeValue(rows[i][j])
			}
			part = append(part, Row{Index: i, Values: values})
		}
		parts = append(parts, part)
	}
	return &Frame{columns: append([]string(nil), columns...), partitions: parts, workers: workers}, nil
}

// Columns returns the column names, including planned WithColumn outputs.
func (f *Frame) Columns() []string {
	cols := append([]string(nil), f.columns...)
	for _, s := range f.plan {
		if s.kind == stepWithColumn {
			cols = append(cols, s.name)
		}
	}
	return cols
}

// NumPartitions returns the partition count of the source data.
func (f *Frame) NumPartitions() int { return len(f.partitions) }

// HasColumn reports whether name is a source or planned column.
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns() {
		if c == name {
			return true
		}
	}
	return false
}

func (f *Frame) with(s step) *Frame {
	plan := make([]step, len(f.plan), len(f.plan)+1)
	copy(plan, f.plan)
	return &Frame{columns: f.columns, partitions: f.partitions, plan: append(plan, s), workers: f.workers}
}

// WithColumn plans a derived column.
func (f *Frame) WithColumn(name string, e Expr) *Frame {
	return f.with(step{kind: stepWithColumn, name: name, expr: e})
}

// Filter plans a row filter; rows where e yields true are kept.
func (f *Frame) Filter(e Expr) *Frame {
	return f.with(step{kind: stepFilter, expr: e})
}

// FilterColumn keeps rows whose boolean column is true.
func (f *Frame) FilterColumn(name string) *Frame {
	return f.Filter(RowExpr(func(r Row) (any, error) { return r.Values[name], nil }))
}

// Execute runs the plan and returns the resulting partitions.
func (f *Frame) Execute(ctx context.Context) ([][]Row, error) {
	parts := f.partitions
	for i := 0; i < len(f.plan); {
		if f.plan[i].expr.IsWindow() {
			next, err := applyWindow(parts, f.plan[i])
			if err != nil {
				return nil, err
			}
			parts = next
			i++
			continue
		}
		j := i
		for j < len(f.plan) && !f.plan[j].expr.IsWindow() {
			j++
		}
		next, err := f.applyRowStage(ctx, parts, f.plan[i:j])
		if err != nil {
			return nil, err
		}
		parts = next
		i = j
	}
	return parts, nil
}

func (f *Frame) applyRowStage(ctx context.Context, parts [][]Row, steps []step) ([][]Row, error) {
	out := make([][]Row, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	if f.workers > 0 {
		g.SetLimit(f.workers)
	}
	for p, part := range parts {
		g.Go(func() error {
			rows := make([]Row, 0, len(part))
			for _, r := range part {
				if err := ctx.Err(); err != nil {
					return err
				}
				keep := true
				for _, s := range steps {
					v, err := s.expr.Row(r)
					if err != nil {
						return err
					}
					if s.kind == stepFilter {
						if b, _ := v.(bool); !b {
							keep = false
							break
						}
						continue
					}
					r = withValue(r, s.name, v)
				}
				if keep {
					rows = append(rows, r)
				}
			}
			out[p] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func applyWindow(parts [][]Row, s step) ([][]Row, error) {
	var all []Row
	for _, part := range parts {
		all = append(all, part...)
	}
	values, err := s.expr.Window(all)
	if err != nil {
		return nil, err
	}
	if len(values) != len(all) {
		return nil, domain.ErrExecutionEngine(nil, "window expression returned %d values for %d rows", len(values), len(all))
	}
	rows := make([]Row, 0, len(all))
	for i, r := range all {
		if s.kind == stepFilter {
			if b, _ := values[i].(bool); b {
				rows = append(rows, r)
			}
			continue
		}
		rows = append(rows, withValue(r, s.name, values[i]))
	}
	return [][]Row{rows}, nil
}

func withValue(r Row, name string, v any) Row {
	values := make(map[string]any, len(r.Values)+1)
	for k, existing := range r.Values {
		values[k] = existing
	}
	values[name] = v
	return Row{Index: r.Index, Values: values}
}

// Count executes the plan and counts the result rows.
func (f *Frame) Count(ctx context.Context) (int, error) {
	parts, err := f.Execute(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, part := range parts {
		n += len(part)
	}
	return n, nil
}

// Collect executes the plan and returns up to limit rows in batch order;
// limit <= 0 returns every row.
func (f *Frame) Collect(ctx context.Context, limit int) ([]Row, error) {
	parts, err := f.Execute(ctx)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, part := range parts {
		for _, r := range part {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// Column executes the plan and returns one column's values in batch order.
func (f *Frame) Column(ctx context.Context, name string) ([]any, error) {
	if !f.HasColumn(name) {
		return nil, domain.ErrNotFound("column %q not found", name)
	}
	rows, err := f.Collect(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values[name]
	}
	return out, nil
}
