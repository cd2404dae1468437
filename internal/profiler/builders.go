package profiler

import (
	"context"
	"slices"
	"strings"

	"duck-expect/internal/builtin"
	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
	"duck-expect/internal/parameter"
	"duck-expect/internal/validator"
)

// Semantic column types understood by the column domain builder.
const (
	SemanticNumeric  = "numeric"
	SemanticText     = "text"
	SemanticBoolean  = "boolean"
	SemanticDatetime = "datetime"
	SemanticOther    = "other"
)

// DomainBuilder lists the domains a rule runs on.
type DomainBuilder interface {
	Domains(ctx context.Context, v *validator.Validator, batchID, rule string) ([]parameter.Domain, error)
}

// ParameterBuilder computes parameters for one domain.
type ParameterBuilder interface {
	Build(ctx context.Context, v *validator.Validator, ns *parameter.Namespace, dom parameter.Domain) error
}

func newDomainBuilder(cfg DomainBuilderConfig) (DomainBuilder, error) {
	switch cfg.Kind {
	case "table":
		return tableDomainBuilder{cfg: cfg}, nil
	case "column":
		for _, t := range cfg.IncludeSemanticTypes {
			switch t {
			case SemanticNumeric, SemanticText, SemanticBoolean, SemanticDatetime, SemanticOther:
			default:
				return nil, domain.ErrProfilerExecution("unknown semantic type %q", t)
			}
		}
		return columnDomainBuilder{cfg: cfg}, nil
	default:
		return nil, domain.ErrProfilerExecution("unknown domain builder kind %q", cfg.Kind)
	}
}

func baseKwargs(cfg DomainBuilderConfig, batchID string) domain.Kwargs {
	kw := domain.Kwargs{}
	if batchID != "" {
		kw[domain.KeyBatchID] = batchID
	}
	if cfg.RowCondition != "" {
		kw[domain.KeyRowCondition] = cfg.RowCondition
		if cfg.ConditionParser != "" {
			kw[domain.KeyConditionParser] = cfg.ConditionParser
		}
	}
	return kw
}

type tableDomainBuilder struct {
	cfg DomainBuilderConfig
}

func (b tableDomainBuilder) Domains(_ context.Context, _ *validator.Validator, batchID, rule string) ([]parameter.Domain, error) {
	return []parameter.Domain{{Type: domain.DomainTable, Kwargs: baseKwargs(b.cfg, batchID), RuleName: rule}}, nil
}

type columnDomainBuilder struct {
	cfg DomainBuilderConfig
}

func (b columnDomainBuilder) Domains(ctx context.Context, v *validator.Validator, batchID, rule string) ([]parameter.Domain, error) {
	table := baseKwargs(b.cfg, batchID)
	typesID := metric.NewIdentity(metric.DepTableColumnTypes, table, domain.Kwargs{"include_nested": true})
	got, err := v.Resolve(ctx, typesID)
	if err != nil {
		return nil, err
	}
	types, ok := got[typesID.Key()].([]builtin.ColumnType)
	if !ok {
		return nil, domain.ErrComputation(nil, "%s returned %T", metric.DepTableColumnTypes, got[typesID.Key()])
	}

	for _, name := range b.cfg.IncludeColumnNames {
		if !slices.ContainsFunc(types, func(c builtin.ColumnType) bool { return c.Name == name }) {
			return nil, domain.ErrProfilerExecution("include_column_names names %q, which is not a column of this batch", name)
		}
	}

	var out []parameter.Domain
	for _, col := range types {
		if len(b.cfg.IncludeColumnNames) > 0 && !slices.Contains(b.cfg.IncludeColumnNames, col.Name) {
			continue
		}
		if slices.Contains(b.cfg.ExcludeColumnNames, col.Name) {
			continue
		}
		if len(b.cfg.IncludeSemanticTypes) > 0 && !slices.Contains(b.cfg.IncludeSemanticTypes, SemanticType(col.Type)) {
			continue
		}
		kw := table.Clone()
		kw[domain.KeyColumn] = col.Name
		out = append(out, parameter.Domain{Type: domain.DomainColumn, Kwargs: kw, RuleName: rule})
	}
	return out, nil
}

// SemanticType classifies a backend column type name.
func SemanticType(typ string) string {
	u := strings.ToUpper(typ)
	switch {
	case strings.HasPrefix(u, "BOOL"):
		return SemanticBoolean
	case strings.Contains(u, "INTERVAL"):
		return SemanticOther
	case strings.Contains(u, "INT"), strings.Contains(u, "FLOAT"), strings.Contains(u, "DOUBLE"),
		strings.Contains(u, "DECIMAL"), strings.Contains(u, "NUMERIC"), strings.Contains(u, "REAL"):
		return SemanticNumeric
	case strings.Contains(u, "CHAR"), strings.Contains(u, "TEXT"), u == "STRING":
		return SemanticText
	case strings.Contains(u, "DATE"), strings.Contains(u, "TIME"):
		return SemanticDatetime
	default:
		return SemanticOther
	}
}

func newParameterBuilder(cfg ParameterBuilderConfig) (ParameterBuilder, error) {
	if cfg.Name == "" {
		return nil, domain.ErrProfilerExecution("parameter builder of kind %q requires a name", cfg.Kind)
	}
	if _, err := parameter.ParseSegment(cfg.Name); err != nil || strings.ContainsAny(cfg.Name, "[.") {
		return nil, domain.ErrProfilerExecution("parameter builder name %q must be a bare identifier", cfg.Name)
	}
	switch cfg.Kind {
	case "metric":
		if cfg.MetricName == "" {
			return nil, domain.ErrProfilerExecution("metric parameter builder %q requires metric_name", cfg.Name)
		}
		return metricParameterBuilder{cfg: cfg}, nil
	case "value_set":
		cfg.MetricName = "column.distinct_values"
		return metricParameterBuilder{cfg: cfg, details: map[string]any{"parse_strings_as_datetimes": false}}, nil
	default:
		return nil, domain.ErrProfilerExecution("unknown parameter builder kind %q", cfg.Kind)
	}
}

// metricParameterBuilder resolves one metric on the domain and stores it
// as $parameter.<name>.value with its configuration under .details.
type metricParameterBuilder struct {
	cfg     ParameterBuilderConfig
	details map[string]any
}

func (b metricParameterBuilder) Build(ctx context.Context, v *validator.Validator, ns *parameter.Namespace, dom parameter.Domain) error {
	domainKwargs, err := b.kwargs(ns, dom, b.cfg.MetricDomainKwargs, parameter.DomainKwargsName)
	if err != nil {
		return err
	}
	valueKwargs, err := b.kwargs(ns, dom, b.cfg.MetricValueKwargs, "")
	if err != nil {
		return err
	}

	value, err := v.ResolveOne(ctx, metric.NewIdentity(b.cfg.MetricName, domainKwargs, valueKwargs))
	if err != nil {
		return err
	}

	details := map[string]any{
		"metric_configuration": map[string]any{
			"metric_name":         b.cfg.MetricName,
			"domain_kwargs":       map[string]any(domainKwargs),
			"metric_value_kwargs": map[string]any(valueKwargs),
		},
	}
	for k, d := range b.details {
		details[k] = d
	}
	prefix := parameter.Sigil + parameter.RootParameter + parameter.Separator + b.cfg.Name + parameter.Separator
	return ns.SetAll(map[string]any{
		prefix + parameter.KeyValue:   value,
		prefix + parameter.KeyDetails: details,
	}, dom)
}

// kwargs resolves a kwargs setting: a fully-qualified name, a mapping whose
// values may be fully-qualified names, or nothing (def is used).
func (b metricParameterBuilder) kwargs(ns *parameter.Namespace, dom parameter.Domain, raw any, def string) (domain.Kwargs, error) {
	if raw == nil && def != "" {
		raw = def
	}
	if raw == nil {
		return domain.Kwargs{}, nil
	}
	resolved, err := ns.Resolve(raw, dom)
	if err != nil {
		return nil, err
	}
	switch t := resolved.(type) {
	case map[string]any:
		return domain.Kwargs(t).Clone(), nil
	case domain.Kwargs:
		return t.Clone(), nil
	case parameter.Node:
		return domain.Kwargs(t).Clone(), nil
	default:
		return nil, domain.ErrProfilerExecution("parameter builder %q: kwargs must resolve to a mapping, got %T", b.cfg.Name, resolved)
	}
}
