package expectation

import (
	"context"
	"log/slog"

	"duck-expect/internal/domain"
	"duck-expect/internal/mapmetric"
	"duck-expect/internal/metric"
	"duck-expect/internal/observability"
	"duck-expect/internal/validator"
)

const nonNullMetric = "column_values.nonnull"

// Runner evaluates suites.
type Runner struct {
	catalog     *Catalog
	logger      *slog.Logger
	metrics     *observability.Metrics
	defaultRF   domain.ResultFormat
	onValidator func(*validator.Validator)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records expectation outcomes and resolution counters into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithPartialUnexpectedCount sets the partial list cap used when an
// expectation has no result_format of its own.
func WithPartialUnexpectedCount(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.defaultRF.PartialUnexpectedCount = n
		}
	}
}

// WithResultFormat sets the format used when an expectation has none.
func WithResultFormat(rf domain.ResultFormat) Option {
	return func(r *Runner) { r.defaultRF = rf }
}

// withValidatorHook exposes each run's validator to tests.
func withValidatorHook(fn func(*validator.Validator)) Option {
	return func(r *Runner) { r.onValidator = fn }
}

// NewRunner creates a Runner over cat.
func NewRunner(cat *Catalog, opts ...Option) *Runner {
	r := &Runner{
		catalog:   cat,
		logger:    slog.Default(),
		defaultRF: domain.DefaultResultFormat(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates every expectation of suite against batchID on eng. Each run
// gets a fresh resolution cache. An expectation that fails to evaluate
// records exception_info in its own result; failed metrics are never cached
// so siblings are unaffected.
func (r *Runner) Run(ctx context.Context, eng metric.Engine, suite *Suite, batchID string) (*SuiteResult, error) {
	v := validator.New(eng, validator.WithLogger(r.logger), validator.WithMetrics(r.metrics))
	if r.onValidator != nil {
		r.onValidator(v)
	}
	out := &SuiteResult{Suite: suite.Name, BatchID: batchID, Success: true, Results: []Result{}}

	for _, cfg := range suite.Expectations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := r.evaluate(ctx, v, cfg, batchID)
		outcome := "success"
		switch {
		case res.ExceptionInfo.RaisedException:
			outcome = "error"
			r.logger.Warn("expectation raised an exception",
				"expectation", cfg.Type, "kind", res.ExceptionInfo.Kind, "error", res.ExceptionInfo.Message)
		case !res.Success:
			outcome = "failure"
		}
		r.metrics.ExpectationEvaluated(outcome)
		out.add(res)
	}

	r.logger.Info("suite evaluated",
		"suite", suite.Name, "batch_id", batchID, "success", out.Success,
		"evaluated", out.Statistics.Evaluated, "unsuccessful", out.Statistics.Unsuccessful,
		"cached_metrics", v.Cache().Len())
	return out, nil
}

func (r *Runner) evaluate(ctx context.Context, v *validator.Validator, cfg Configuration, batchID string) Result {
	res := Result{Configuration: cfg, Result: map[string]any{}}
	fail := func(err error) Result {
		res.Success = false
		res.ExceptionInfo = exceptionInfo(err)
		return res
	}

	def, err := r.catalog.Lookup(cfg.Type)
	if err != nil {
		return fail(err)
	}
	if err := def.validate(cfg.Kwargs); err != nil {
		return fail(err)
	}
	rf := r.defaultRF
	if raw, ok := cfg.Kwargs[domain.KeyResultFormat]; ok {
		if rf, err = domain.ParseResultFormat(raw); err != nil {
			return fail(err)
		}
	}

	switch def.Family {
	case FamilyMap:
		mostly := 1.0
		if m, ok := domain.AsFloat(cfg.Kwargs["mostly"]); ok {
			mostly = m
		}
		obs, err := r.observeMap(ctx, v, def, cfg.Kwargs, batchID, rf)
		if err != nil {
			return fail(err)
		}
		res.Success = mapSuccess(obs, mostly)
		res.Result = formatMapResult(obs, rf)
	default:
		id := metric.NewIdentity(def.Metric, def.domainKwargs(cfg.Kwargs, batchID), def.valueKwargs(cfg.Kwargs))
		observed, err := v.ResolveOne(ctx, id)
		if err != nil {
			return fail(err)
		}
		if def.Observe != nil {
			observed = def.Observe(observed)
		}
		ok, details, err := def.Evaluate(observed, cfg.Kwargs)
		if err != nil {
			return fail(err)
		}
		res.Success = ok
		res.Result = formatAggregateResult(observed, details, rf)
	}
	return res
}

// observeMap requests the metrics a map expectation needs at rf's level.
// BOOLEAN_ONLY requests no unexpected detail.
func (r *Runner) observeMap(ctx context.Context, v *validator.Validator, def Definition, kw domain.Kwargs, batchID string, rf domain.ResultFormat) (mapObservation, error) {
	dom := def.domainKwargs(kw, batchID)
	value := def.valueKwargs(kw)
	detail := value.Clone()
	detail[domain.KeyResultFormat] = rf.Kwargs()

	name := func(suffix string) string { return def.Metric + suffix }
	count := metric.NewIdentity(name(metric.SuffixUnexpectedCount), dom, value)
	rows := metric.NewIdentity(metric.DepTableRowCount, dom.Without(def.DomainType.TableDependencyKeys()...), nil)
	ids := []metric.Identity{count, rows}

	var missing *metric.Identity
	switch {
	case def.DomainType == domain.DomainColumn && def.Metric != nonNullMetric && def.Metric != "column_values.null":
		id := metric.NewIdentity(nonNullMetric+metric.SuffixUnexpectedCount, dom, nil)
		missing = &id
	case def.DomainType != domain.DomainColumn:
		id := metric.NewIdentity(name(metric.SuffixFilteredRowCount), dom, value)
		missing = &id
	}
	if missing != nil {
		ids = append(ids, *missing)
	}

	var values, index, counts, unexpectedRows *metric.Identity
	want := func(dst **metric.Identity, suffix string) {
		id := metric.NewIdentity(name(suffix), dom, detail)
		*dst = &id
		ids = append(ids, id)
	}
	if rf.Level != domain.ResultBooleanOnly {
		want(&values, metric.SuffixUnexpectedValues)
		if rf.Level != domain.ResultBasic {
			want(&index, metric.SuffixUnexpectedIndexList)
			if def.DomainType == domain.DomainColumn {
				want(&counts, metric.SuffixUnexpectedValueCounts)
			}
		}
		if rf.IncludeUnexpectedRows {
			want(&unexpectedRows, metric.SuffixUnexpectedRows)
		}
	}

	got, err := v.Resolve(ctx, ids...)
	if err != nil {
		return mapObservation{}, err
	}

	var obs mapObservation
	if obs.unexpectedCount, err = asCount(got[count.Key()], count.Name); err != nil {
		return obs, err
	}
	if obs.elementCount, err = asCount(got[rows.Key()], rows.Name); err != nil {
		return obs, err
	}
	if missing != nil {
		n, err := asCount(got[missing.Key()], missing.Name)
		if err != nil {
			return obs, err
		}
		obs.missingCount = n
		if def.DomainType != domain.DomainColumn {
			// filtered_row_count counts the rows that survive ignore_row_if.
			obs.missingCount = obs.elementCount - n
		}
	}
	if values != nil {
		list, ok := got[values.Key()].([]any)
		if !ok {
			return obs, typeError(values.Name, got[values.Key()])
		}
		obs.values, obs.hasValues = list, true
	}
	if index != nil {
		list, ok := got[index.Key()].([]int)
		if !ok {
			return obs, typeError(index.Name, got[index.Key()])
		}
		obs.indexList, obs.hasIndex = list, true
	}
	if counts != nil {
		list, ok := got[counts.Key()].([]mapmetric.ValueCount)
		if !ok {
			return obs, typeError(counts.Name, got[counts.Key()])
		}
		obs.valueCounts, obs.hasCounts = list, true
	}
	if unexpectedRows != nil {
		obs.rows, obs.hasRows = got[unexpectedRows.Key()], true
	}
	return obs, nil
}

func asCount(v any, name string) (int, error) {
	switch n := domain.NormalizeValue(v).(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, typeError(name, v)
}

func typeError(name string, v any) error {
	return domain.ErrComputation(nil, "metric %s returned unexpected type %T", name, v)
}
