package metric

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"duck-expect/internal/domain"
)

// Engine is the contract every execution backend implements.
type Engine interface {
	// Backend is the registry key providers are looked up under.
	Backend() Backend
	// Registry returns the provider registry the engine dispatches through.
	Registry() *Registry
	// ResolveMetrics computes every task. Dependencies of each task must
	// already be resolved and present in Task.Dependencies.
	ResolveMetrics(ctx context.Context, tasks []Task) map[Key]Result
}

// Task is one metric ready to compute.
type Task struct {
	Metric       Identity
	Provider     *Provider
	Dependencies map[string]any
}

// Result is the outcome of one task.
type Result struct {
	Value any
	Err   error
}

// Dependency returns a resolved dependency value by alias.
func (t Task) Dependency(alias string) (any, bool) {
	v, ok := t.Dependencies[alias]
	return v, ok
}

// PartialDependency returns a resolved Partial dependency by alias.
func (t Task) PartialDependency(alias string) (Partial, error) {
	v, ok := t.Dependencies[alias]
	if !ok {
		return Partial{}, domain.ErrMetricProvider("metric %q is missing dependency %q", t.Metric.Name, alias)
	}
	p, ok := v.(Partial)
	if !ok {
		return Partial{}, domain.ErrMetricProvider("dependency %q of %q is %T, not a partial", alias, t.Metric.Name, v)
	}
	return p, nil
}

// TableColumns returns the resolved table.columns dependency.
func (t Task) TableColumns() ([]string, bool) {
	v, ok := t.Dependencies[DepTableColumns]
	if !ok {
		return nil, false
	}
	cols, ok := v.([]string)
	return cols, ok
}

// RunTasks invokes each task's provider with at most limit running at once.
// A failing task does not cancel its siblings.
func RunTasks(ctx context.Context, eng Engine, tasks []Task, limit int) map[Key]Result {
	results := make(map[Key]Result, len(tasks))
	var mu sync.Mutex

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, task := range tasks {
		g.Go(func() error {
			value, err := Invoke(ctx, eng, task)
			mu.Lock()
			results[task.Metric.Key()] = Result{Value: value, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Invoke runs one task's provider, honouring context cancellation.
func Invoke(ctx context.Context, eng Engine, task Task) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if task.Provider == nil {
		return nil, domain.ErrProviderNotFound(task.Metric.Name, string(eng.Backend()))
	}
	value, err := task.Provider.Compute(ctx, eng, task)
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", task.Metric.Name, err)
	}
	return value, nil
}
