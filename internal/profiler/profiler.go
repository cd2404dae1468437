package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"duck-expect/internal/domain"
	"duck-expect/internal/expectation"
	"duck-expect/internal/metric"
	"duck-expect/internal/observability"
	"duck-expect/internal/parameter"
	"duck-expect/internal/validator"
)

type rule struct {
	name         string
	domains      DomainBuilder
	parameters   []ParameterBuilder
	expectations []ExpectationBuilderConfig
}

// Profiler runs a compiled configuration against batches.
type Profiler struct {
	name      string
	variables map[string]any
	rules     []rule
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records resolution counters into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Profiler) { p.metrics = m }
}

// New compiles cfg. Unknown builder kinds and expectation types are
// rejected here, before any data is read.
func New(cfg *Config, cat *expectation.Catalog, opts ...Option) (*Profiler, error) {
	p := &Profiler{name: cfg.Name, variables: cfg.Variables, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if len(cfg.Rules) == 0 {
		return nil, domain.ErrProfilerExecution("profiler %q has no rules", cfg.Name)
	}
	seen := map[string]bool{}
	for i, rc := range cfg.Rules {
		if rc.Name == "" {
			return nil, domain.ErrProfilerExecution("rule %d requires a name", i)
		}
		if seen[rc.Name] {
			return nil, domain.ErrProfilerExecution("duplicate rule name %q", rc.Name)
		}
		seen[rc.Name] = true

		r := rule{name: rc.Name, expectations: rc.ExpectationConfigurationBuilders}
		var err error
		if r.domains, err = newDomainBuilder(rc.DomainBuilder); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		for _, pc := range rc.ParameterBuilders {
			pb, err := newParameterBuilder(pc)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
			}
			r.parameters = append(r.parameters, pb)
		}
		for _, ec := range rc.ExpectationConfigurationBuilders {
			if _, err := cat.Lookup(ec.ExpectationType); err != nil {
				return nil, fmt.Errorf("rule %q: %w", rc.Name, domain.ErrProfilerExecution("%v", err))
			}
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

// Output is the result of one profiling run.
type Output struct {
	Suite *expectation.Suite
	// Parameters holds every parameter container keyed by domain ID, plus
	// the variables container under "variables".
	Parameters json.RawMessage
}

// Profile runs every rule against batchID and returns the generated suite.
// All metrics of the run share one resolution cache.
func (p *Profiler) Profile(ctx context.Context, eng metric.Engine, batchID string) (*Output, error) {
	v := validator.New(eng, validator.WithLogger(p.logger), validator.WithMetrics(p.metrics))
	ns := parameter.NewNamespace(p.variables)
	suite := expectation.NewSuite(p.name)

	for _, r := range p.rules {
		domains, err := r.domains.Domains(ctx, v, batchID, r.name)
		if err != nil {
			return nil, fmt.Errorf("rule %q: build domains: %w", r.name, err)
		}
		for _, dom := range domains {
			for _, pb := range r.parameters {
				if err := pb.Build(ctx, v, ns, dom); err != nil {
					return nil, fmt.Errorf("rule %q: build parameters for %s: %w", r.name, dom.ID(), err)
				}
			}
			for _, ec := range r.expectations {
				cfg, err := buildExpectation(ns, dom, ec)
				if err != nil {
					return nil, fmt.Errorf("rule %q: build %s for %s: %w", r.name, ec.ExpectationType, dom.ID(), err)
				}
				suite.Add(cfg)
			}
		}
		p.logger.Debug("profiler rule complete", "rule", r.name, "domains", len(domains))
	}

	params, err := json.Marshal(ns.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("serialise parameters: %w", err)
	}
	p.logger.Info("profile complete",
		"profiler", p.name, "batch_id", batchID, "expectations", len(suite.Expectations), "cached_metrics", v.Cache().Len())
	return &Output{Suite: suite, Parameters: params}, nil
}

// buildExpectation resolves every fully-qualified name in the builder's
// kwargs against the domain's namespace.
func buildExpectation(ns *parameter.Namespace, dom parameter.Domain, ec ExpectationBuilderConfig) (expectation.Configuration, error) {
	kw, err := ns.Resolve(ec.Kwargs, dom)
	if err != nil {
		return expectation.Configuration{}, err
	}
	resolved, ok := kw.(domain.Kwargs)
	if !ok || resolved == nil {
		resolved = domain.Kwargs{}
	}
	cfg := expectation.Configuration{Type: ec.ExpectationType, Kwargs: plain(resolved).(domain.Kwargs)}
	if len(ec.Meta) > 0 {
		cfg.Meta = map[string]any{}
		for k, v := range ec.Meta {
			cfg.Meta[k] = v
		}
	}
	cfg.Meta = withProfilerMeta(cfg.Meta, dom)
	return cfg, nil
}

func withProfilerMeta(meta map[string]any, dom parameter.Domain) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["profiler_details"] = map[string]any{"rule": dom.RuleName, "domain_type": string(dom.Type)}
	return meta
}

// plain converts parameter Nodes in resolved values back to ordinary maps.
func plain(v any) any {
	switch t := v.(type) {
	case domain.Kwargs:
		out := make(domain.Kwargs, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	case parameter.Node:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}
