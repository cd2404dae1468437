package lazy

import (
	"context"
	"log/slog"
	"sync"

	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
	"duck-expect/internal/rowcond"
)

var _ metric.Engine = (*Engine)(nil)

// Engine resolves metrics by building lazy plans over partitioned frames.
type Engine struct {
	registry   *metric.Registry
	logger     *slog.Logger
	maxWorkers int
	conditions *rowcond.Cache

	mu      sync.RWMutex
	batches map[string]*Frame
	active  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxWorkers bounds concurrent metric computations per level.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) { e.maxWorkers = n }
}

// New creates an engine dispatching through reg.
func New(reg *metric.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:   reg,
		logger:     slog.Default(),
		maxWorkers: 4,
		conditions: rowcond.NewCache(),
		batches:    map[string]*Frame{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend implements metric.Engine.
func (e *Engine) Backend() metric.Backend { return metric.BackendLazy }

// Registry implements metric.Engine.
func (e *Engine) Registry() *metric.Registry { return e.registry }

// ResolveMetrics implements metric.Engine.
func (e *Engine) ResolveMetrics(ctx context.Context, tasks []metric.Task) map[metric.Key]metric.Result {
	return metric.RunTasks(ctx, e, tasks, e.maxWorkers)
}

// LoadBatch stores a frame under batchID and makes it active.
func (e *Engine) LoadBatch(batchID string, f *Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[batchID] = f
	e.active = batchID
	e.logger.Debug("loaded lazy batch", "batch_id", batchID, "partitions", f.NumPartitions())
}

// ActiveBatchID returns the most recently loaded batch id.
func (e *Engine) ActiveBatchID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *Engine) batch(batchID string) (*Frame, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if batchID == "" {
		if e.active == "" {
			return nil, domain.ErrValidation("no batch is specified and no batch is loaded")
		}
		batchID = e.active
	}
	f, ok := e.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound("unable to find batch with batch_id %q", batchID)
	}
	return f, nil
}

// GetDomainRecords plans the row selection described by the domain kwargs.
func (e *Engine) GetDomainRecords(kw domain.Kwargs) (*Frame, error) {
	filter, err := domain.ParseRowFilter(kw)
	if err != nil {
		return nil, err
	}
	if filter.Table != "" {
		return nil, domain.ErrValidation("the lazy backend does not support multiple named tables")
	}
	data, err := e.batch(filter.BatchID)
	if err != nil {
		return nil, err
	}

	if filter.RowCondition != "" {
		if filter.ConditionParser != rowcond.Parser {
			return nil, domain.ErrValidation("condition_parser must be %q for the lazy backend, got %q", rowcond.Parser, filter.ConditionParser)
		}
		cond, err := e.conditions.Get(filter.RowCondition, data.Columns())
		if err != nil {
			return nil, err
		}
		data = data.Filter(RowExpr(func(r Row) (any, error) { return cond.Match(r.Values), nil }))
	}

	if _, ok := kw.String(domain.KeyColumn); ok || filter.IgnoreRowIf == "" {
		return data, nil
	}

	var (
		subset []string
		all    bool
	)
	a, okA := kw.String(domain.KeyColumnA)
	b, okB := kw.String(domain.KeyColumnB)
	list, okList := kw.Strings(domain.KeyColumnList)
	switch {
	case okA && okB:
		subset = []string{a, b}
		switch filter.IgnoreRowIf {
		case "both_values_are_missing":
			all = true
		case "either_value_is_missing":
		case "neither", "never":
			return data, nil
		default:
			return nil, domain.ErrValidation("unrecognized value of ignore_row_if %q", filter.IgnoreRowIf)
		}
	case okList:
		subset = list
		switch filter.IgnoreRowIf {
		case "all_values_are_missing":
			all = true
		case "any_value_is_missing":
		case "never":
			return data, nil
		default:
			return nil, domain.ErrValidation("unrecognized value of ignore_row_if %q", filter.IgnoreRowIf)
		}
	default:
		return data, nil
	}
	for _, col := range subset {
		if !data.HasColumn(col) {
			return nil, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", col)
		}
	}
	return data.Filter(RowExpr(func(r Row) (any, error) {
		missing := 0
		for _, col := range subset {
			if r.Values[col] == nil {
				missing++
			}
		}
		if all {
			return missing < len(subset), nil
		}
		return missing == 0, nil
	})), nil
}

// GetComputeDomain returns the planned domain with the kwargs split for domainType.
func (e *Engine) GetComputeDomain(kw domain.Kwargs, domainType domain.MetricDomainType, accessorKeys ...string) (*Frame, domain.Kwargs, domain.Kwargs, error) {
	data, err := e.GetDomainRecords(kw)
	if err != nil {
		return nil, nil, nil, err
	}
	compute, accessor, err := domain.SplitDomainKwargs(kw, domainType, accessorKeys...)
	if err != nil {
		return nil, nil, nil, err
	}
	return data, compute, accessor, nil
}
