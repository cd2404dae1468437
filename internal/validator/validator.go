package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
	"duck-expect/internal/observability"
)

// Validator resolves metric requests against one engine, sharing one cache
// across every request of a run.
type Validator struct {
	engine  metric.Engine
	cache   *Cache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithMetrics records resolution counters into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithCache shares an existing cache.
func WithCache(c *Cache) Option {
	return func(v *Validator) { v.cache = c }
}

// New creates a Validator with a fresh cache.
func New(engine metric.Engine, opts ...Option) *Validator {
	v := &Validator{
		engine: engine,
		cache:  NewCache(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Cache returns the run cache.
func (v *Validator) Cache() *Cache { return v.cache }

// Engine returns the engine metrics are resolved on.
func (v *Validator) Engine() metric.Engine { return v.engine }

type node struct {
	id       metric.Identity
	provider *metric.Provider
	deps     map[string]metric.Key
}

// graph is the dependency closure of a request.
type graph struct {
	nodes map[metric.Key]*node
	order []metric.Key
}

// ResolveOne resolves a single metric.
func (v *Validator) ResolveOne(ctx context.Context, id metric.Identity) (any, error) {
	values, err := v.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return values[id.Key()], nil
}

// Resolve computes every requested metric and its dependency closure.
// Dependencies are resolved before their dependents; independent metrics of
// one level are handed to the engine together. Any failure aborts the
// request and nothing failed is cached.
func (v *Validator) Resolve(ctx context.Context, ids ...metric.Identity) (map[metric.Key]any, error) {
	g, err := v.buildGraph(ids)
	if err != nil {
		return nil, err
	}

	pending := map[metric.Key]*node{}
	for _, key := range g.order {
		if _, ok := v.cache.Get(key); ok {
			v.metrics.CacheHit()
			continue
		}
		pending[key] = g.nodes[key]
	}

	for level := 0; len(pending) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ready := v.readyTasks(g, pending)
		if len(ready) == 0 {
			return nil, domain.ErrMetricProvider("metric dependency graph could not make progress with %d pending metrics", len(pending))
		}

		start := time.Now()
		results := v.engine.ResolveMetrics(ctx, ready)
		v.metrics.ObserveLevel(time.Since(start))

		var errs []error
		for _, task := range ready {
			key := task.Metric.Key()
			delete(pending, key)
			res, ok := results[key]
			if !ok {
				errs = append(errs, domain.ErrMetricProvider("engine returned no result for %s", task.Metric.Name))
				continue
			}
			if res.Err != nil {
				v.metrics.MetricFailed(string(v.engine.Backend()))
				errs = append(errs, res.Err)
				continue
			}
			v.metrics.MetricResolved(string(v.engine.Backend()))
			v.cache.Put(key, res.Value)
		}
		v.logger.Debug("resolved metric level",
			"level", level, "metrics", len(ready), "failed", len(errs), "elapsed", time.Since(start))
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
	}

	out := make(map[metric.Key]any, len(ids))
	for _, id := range ids {
		key := id.Key()
		val, ok := v.cache.Get(key)
		if !ok {
			return nil, domain.ErrMetricProvider("metric %s was not resolved", id.Name)
		}
		out[key] = val
	}
	return out, nil
}

func (v *Validator) readyTasks(g *graph, pending map[metric.Key]*node) []metric.Task {
	var tasks []metric.Task
	for _, key := range g.order {
		n, ok := pending[key]
		if !ok {
			continue
		}
		depValues := make(map[string]any, len(n.deps))
		ready := true
		for alias, depKey := range n.deps {
			val, ok := v.cache.Get(depKey)
			if !ok {
				ready = false
				break
			}
			depValues[alias] = val
		}
		if ready {
			tasks = append(tasks, metric.Task{Metric: n.id, Provider: n.provider, Dependencies: depValues})
		}
	}
	return tasks
}

// buildGraph expands the dependency closure depth-first. g.order lists keys
// in post-order so every dependency precedes its dependents.
func (v *Validator) buildGraph(ids []metric.Identity) (*graph, error) {
	g := &graph{nodes: map[metric.Key]*node{}}
	visiting := map[metric.Key]bool{}
	backend := v.engine.Backend()
	registry := v.engine.Registry()

	var visit func(id metric.Identity, path []string) error
	visit = func(id metric.Identity, path []string) error {
		key := id.Key()
		if _, done := g.nodes[key]; done {
			return nil
		}
		if visiting[key] {
			return domain.ErrMetricProvider("metric dependency cycle: %v -> %s", path, id.Name)
		}
		visiting[key] = true
		defer delete(visiting, key)

		provider, err := registry.Provider(id.Name, backend)
		if err != nil {
			return err
		}
		deps, err := registry.Dependencies(id, backend)
		if err != nil {
			return fmt.Errorf("dependencies of %s: %w", id.Name, err)
		}
		n := &node{id: id, provider: provider, deps: make(map[string]metric.Key, len(deps))}
		for alias, dep := range deps {
			if err := visit(dep, append(path, id.Name)); err != nil {
				return err
			}
			n.deps[alias] = dep.Key()
		}
		g.nodes[key] = n
		g.order = append(g.order, key)
		return nil
	}

	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return g, nil
}
