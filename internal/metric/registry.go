package metric

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"duck-expect/internal/domain"
)

// Backend identifies an execution backend family.
type Backend string

// Backends.
const (
	BackendMemory Backend = "memory"
	BackendSQL    Backend = "sql"
	BackendLazy   Backend = "lazy"
)

// ParseBackend maps a backend name to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendMemory, BackendSQL, BackendLazy:
		return b, nil
	default:
		return "", domain.ErrValidation("unknown backend %q (expected memory, sql or lazy)", s)
	}
}

// FnType tells the backend how to treat a provider's return value.
type FnType string

// Provider function types.
const (
	FnValue           FnType = "value"
	FnAggregate       FnType = "aggregate_fn"
	FnMapCondition    FnType = "map_condition_fn"
	FnWindowCondition FnType = "window_condition_fn"
	FnMap             FnType = "map_fn"
	FnWindow          FnType = "window_fn"
)

// IsPartial reports whether the provider returns a Partial rather than a
// final value.
func (t FnType) IsPartial() bool {
	return t != FnValue
}

// IsCondition reports whether the partial is a boolean condition.
func (t FnType) IsCondition() bool {
	return t == FnMapCondition || t == FnWindowCondition
}

// Partial is the value stored for partial metrics: a backend-native value
// (mask, column, predicate or aggregate expression) plus the domain split it
// was built against.
type Partial struct {
	Value          any
	ComputeKwargs  domain.Kwargs
	AccessorKwargs domain.Kwargs
}

// ComputeFunc computes one metric. Dependencies carries the resolved values
// of the task's direct dependencies keyed by alias.
type ComputeFunc func(ctx context.Context, eng Engine, task Task) (any, error)

// DependencyFunc returns metric-specific dependencies keyed by alias.
type DependencyFunc func(id Identity) map[string]Identity

// Provider describes how one metric is computed on one backend.
type Provider struct {
	Name       string
	Backend    Backend
	FnType     FnType
	DomainType domain.MetricDomainType
	DomainKeys []string
	ValueKeys  []string
	Compute    ComputeFunc

	// Dependencies adds dependencies beyond the structural rules.
	Dependencies DependencyFunc

	// NeedsTableMetadata makes the resolver add table.columns,
	// table.column_types and table.row_count on the table-level domain.
	NeedsTableMetadata bool
}

type registryKey struct {
	name    string
	backend Backend
}

// Registry maps (metric name, backend) to a provider. It is populated by an
// explicit registration routine at startup and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[registryKey]*Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[registryKey]*Provider{}}
}

// Register adds a provider. Registering the same name twice for one backend
// is an error.
func (r *Registry) Register(p Provider) error {
	if p.Name == "" {
		return domain.ErrValidation("provider name is required")
	}
	if p.Compute == nil {
		return domain.ErrValidation("provider %q has no compute function", p.Name)
	}
	if _, err := ParseBackend(string(p.Backend)); err != nil {
		return fmt.Errorf("register %q: %w", p.Name, err)
	}
	if p.FnType == "" {
		p.FnType = FnValue
	}
	if p.DomainType == "" {
		p.DomainType = domain.DomainTable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{name: p.Name, backend: p.Backend}
	if _, exists := r.providers[key]; exists {
		return domain.ErrValidation("metric %q already registered for backend %q", p.Name, p.Backend)
	}
	r.providers[key] = &p
	return nil
}

// MustRegister registers each provider and panics on error. Intended for
// startup registration routines with static input.
func (r *Registry) MustRegister(providers ...Provider) {
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Provider returns the provider for name on backend.
func (r *Registry) Provider(name string, backend Backend) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[registryKey{name: name, backend: backend}]
	if !ok {
		return nil, domain.ErrProviderNotFound(name, string(backend))
	}
	return p, nil
}

// Has reports whether a provider exists for name on backend.
func (r *Registry) Has(name string, backend Backend) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[registryKey{name: name, backend: backend}]
	return ok
}

// Providers returns every provider registered for backend, sorted by name.
func (r *Registry) Providers(backend Backend) []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0)
	for key, p := range r.providers {
		if key.backend == backend {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
