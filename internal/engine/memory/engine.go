package memory

import (
	"context"
	"log/slog"
	"sync"

	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
	"duck-expect/internal/rowcond"
)

var _ metric.Engine = (*Engine)(nil)

// Engine resolves metrics over frames held in memory.
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

// WithMaxWorkers bounds how many metrics of one level compute concurrently.
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
func (e *Engine) Backend() metric.Backend { return metric.BackendMemory }

// Registry implements metric.Engine.
func (e *Engine) Registry() *metric.Registry { return e.registry }

// ResolveMetrics implements metric.Engine.
func (e *Engine) ResolveMetrics(ctx context.Context, tasks []metric.Task) map[metric.Key]metric.Result {
	return metric.RunTasks(ctx, e, tasks, e.maxWorkers)
}

// LoadBatch stores a frame under batchID and makes it the active batch.
func (e *Engine) LoadBatch(batchID string, f *Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[batchID] = f
	e.active = batchID
	e.logger.Debug("loaded batch", "batch_id", batchID, "rows", f.Len(), "columns", len(f.columns))
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

// GetDomainRecords returns the rows selected by the domain kwargs: the batch,
// narrowed by row_condition and then by ignore_row_if.
func (e *Engine) GetDomainRecords(kw domain.Kwargs) (*Frame, error) {
	filter, err := domain.ParseRowFilter(kw)
	if err != nil {
		return nil, err
	}
	if filter.Table != "" {
		return nil, domain.ErrValidation("the in-memory backend does not support multiple named tables")
	}
	data, err := e.batch(filter.BatchID)
	if err != nil {
		return nil, err
	}

	if filter.RowCondition != "" {
		if filter.ConditionParser != rowcond.Parser {
			return nil, domain.ErrValidation("condition_parser must be %q for the in-memory backend, got %q", rowcond.Parser, filter.ConditionParser)
		}
		cond, err := e.conditions.Get(filter.RowCondition, data.Columns())
		if err != nil {
			return nil, err
		}
		mask := make([]bool, data.Len())
		for i := range mask {
			mask[i] = cond.Match(data.Row(i))
		}
		if data, err = data.Filter(mask); err != nil {
			return nil, err
		}
	}

	if _, ok := kw.String(domain.KeyColumn); ok {
		return data, nil
	}
	if filter.IgnoreRowIf == "" {
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
	return dropMissing(data, subset, all)
}

// dropMissing drops rows where all (or any) of the subset columns are null.
func dropMissing(f *Frame, subset []string, all bool) (*Frame, error) {
	cols := make([][]any, len(subset))
	for i, name := range subset {
		values, err := f.Column(name)
		if err != nil {
			return nil, domain.ErrInvalidAccessorKey("column %q does not exist in this batch", name)
		}
		cols[i] = values
	}
	mask := make([]bool, f.Len())
	for r := range mask {
		missing := 0
		for _, values := range cols {
			if values[r] == nil {
				missing++
			}
		}
		if all {
			mask[r] = missing < len(cols)
		} else {
			mask[r] = missing == 0
		}
	}
	return f.Filter(mask)
}

// GetComputeDomain returns the domain records together with the compute and
// accessor kwargs split for domainType.
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
