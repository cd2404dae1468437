package expectation

import (
	"slices"
	"sort"
	"sync"

	"duck-expect/internal/domain"
)

// Family groups expectations that are evaluated the same way.
type Family string

// Expectation families.
const (
	FamilyMap       Family = "map"
	FamilyAggregate Family = "aggregate"
)

// Evaluator decides success for an aggregate expectation from the
// observed metric value.
type Evaluator func(observed any, kw domain.Kwargs) (success bool, details map[string]any, err error)

// Definition describes how one expectation type is computed.
type Definition struct {
	Type       string
	Family     Family
	DomainType domain.MetricDomainType
	// Metric is the condition base name for map expectations and the
	// observed metric for aggregate expectations.
	Metric string
	// ValueKeys are forwarded from the expectation kwargs to the metric.
	ValueKeys []string
	Required  []string
	// Observe converts the resolved metric into the observed value.
	Observe  func(v any) any
	Evaluate Evaluator
}

func (d Definition) domainKeys() []string {
	keys := []string{domain.KeyRowCondition, domain.KeyConditionParser}
	switch d.DomainType {
	case domain.DomainColumn:
		return append(keys, domain.KeyColumn)
	case domain.DomainColumnPair:
		return append(keys, domain.KeyColumnA, domain.KeyColumnB, domain.KeyIgnoreRowIf)
	case domain.DomainMulticolumn:
		return append(keys, domain.KeyColumnList, domain.KeyIgnoreRowIf)
	default:
		return keys
	}
}

func (d Definition) validate(kw domain.Kwargs) error {
	for _, key := range d.DomainType.AccessorKeys() {
		if _, ok := kw[key]; !ok {
			return domain.ErrValidation("%s requires %q", d.Type, key)
		}
	}
	for _, key := range d.Required {
		if _, ok := kw[key]; !ok {
			return domain.ErrValidation("%s requires %q", d.Type, key)
		}
	}
	if raw, ok := kw["mostly"]; ok {
		m, ok := domain.AsFloat(raw)
		if !ok || m < 0 || m > 1 {
			return domain.ErrValidation("mostly must be a number between 0 and 1")
		}
	}
	if raw, ok := kw[domain.KeyResultFormat]; ok {
		if _, err := domain.ParseResultFormat(raw); err != nil {
			return err
		}
	}
	return nil
}

// domainKwargs picks the domain portion of kw and pins it to batchID.
func (d Definition) domainKwargs(kw domain.Kwargs, batchID string) domain.Kwargs {
	out := domain.Kwargs{}
	for _, key := range d.domainKeys() {
		if v, ok := kw[key]; ok {
			out[key] = v
		}
	}
	if batchID != "" {
		out[domain.KeyBatchID] = batchID
	}
	return out
}

// valueKwargs picks the metric value kwargs from kw.
func (d Definition) valueKwargs(kw domain.Kwargs) domain.Kwargs {
	out := domain.Kwargs{}
	for _, key := range d.ValueKeys {
		if v, ok := kw[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Catalog maps expectation types to definitions.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: map[string]Definition{}}
}

// Register adds a definition. Types must be unique.
func (c *Catalog) Register(def Definition) error {
	if def.Type == "" || def.Metric == "" {
		return domain.ErrValidation("expectation definition requires a type and a metric")
	}
	if def.Family == FamilyAggregate && def.Evaluate == nil {
		return domain.ErrValidation("aggregate expectation %q requires an evaluator", def.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[def.Type]; ok {
		return domain.ErrValidation("expectation %q is already registered", def.Type)
	}
	c.defs[def.Type] = def
	return nil
}

// Lookup returns the definition for an expectation type.
func (c *Catalog) Lookup(typ string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[typ]
	if !ok {
		return Definition{}, domain.ErrNotFound("unknown expectation type %q", typ)
	}
	return def, nil
}

// Types lists registered expectation types in sorted order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.defs))
	for typ := range c.defs {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// DefaultCatalog returns every builtin expectation.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, def := range builtinDefinitions() {
		if err := c.Register(def); err != nil {
			panic(err)
		}
	}
	return c
}

func columnMap(typ, metricName string, valueKeys, required []string) Definition {
	return Definition{
		Type: typ, Family: FamilyMap, DomainType: domain.DomainColumn,
		Metric: metricName, ValueKeys: valueKeys, Required: required,
	}
}

func builtinDefinitions() []Definition {
	between := []string{"min_value", "max_value", "strict_min", "strict_max"}
	defs := []Definition{
		columnMap("expect_column_values_to_not_be_null", "column_values.nonnull", nil, nil),
		columnMap("expect_column_values_to_be_null", "column_values.null", nil, nil),
		columnMap("expect_column_values_to_be_in_set", "column_values.in_set", []string{"value_set"}, []string{"value_set"}),
		columnMap("expect_column_values_to_be_between", "column_values.between", between, nil),
		columnMap("expect_column_values_to_be_increasing", "column_values.increasing", []string{"strictly"}, nil),
		columnMap("expect_column_values_to_not_match_like_pattern_list", "column_values.not_match_like_pattern_list",
			[]string{"like_pattern_list"}, []string{"like_pattern_list"}),
		columnMap("expect_column_value_lengths_to_equal", "column_values.value_length.equals", []string{"value"}, []string{"value"}),
		columnMap("expect_column_value_z_scores_to_be_less_than", "column_values.z_score.under_threshold",
			[]string{"threshold", "double_sided"}, []string{"threshold"}),
		columnMap("expect_column_values_to_satisfy_udf", "column_values.udf", []string{"udf"}, []string{"udf"}),
		{
			Type: "expect_column_pair_values_to_be_equal", Family: FamilyMap, DomainType: domain.DomainColumnPair,
			Metric: "column_pair_values.equal",
		},
		{
			Type: "expect_column_pair_values_a_to_be_greater_than_b", Family: FamilyMap, DomainType: domain.DomainColumnPair,
			Metric: "column_pair_values.a_greater_than_b", ValueKeys: []string{"or_equal"},
		},
		{
			Type: "expect_multicolumn_sum_to_equal", Family: FamilyMap, DomainType: domain.DomainMulticolumn,
			Metric: "multicolumn_sum.equal", ValueKeys: []string{"sum_total"}, Required: []string{"sum_total"},
		},
		{
			Type: "expect_compound_columns_to_be_unique", Family: FamilyMap, DomainType: domain.DomainMulticolumn,
			Metric: "compound_columns.unique",
		},
		{
			Type: "expect_table_row_count_to_equal", Family: FamilyAggregate, DomainType: domain.DomainTable,
			Metric: "table.row_count", Required: []string{"value"}, Evaluate: equalsValue,
		},
		{
			Type: "expect_table_row_count_to_be_between", Family: FamilyAggregate, DomainType: domain.DomainTable,
			Metric: "table.row_count", Evaluate: betweenBounds,
		},
		{
			Type: "expect_table_column_count_to_equal", Family: FamilyAggregate, DomainType: domain.DomainTable,
			Metric: "table.columns", Required: []string{"value"}, Evaluate: equalsValue,
			Observe: func(v any) any {
				if cols, ok := v.([]string); ok {
					return len(cols)
				}
				return v
			},
		},
		{
			Type: "expect_table_columns_to_match_set", Family: FamilyAggregate, DomainType: domain.DomainTable,
			Metric: "table.columns", Required: []string{"column_set"}, Evaluate: columnsMatchSet,
		},
	}
	for _, agg := range []struct{ typ, metric string }{
		{"expect_column_min_to_be_between", "column.min"},
		{"expect_column_max_to_be_between", "column.max"},
		{"expect_column_mean_to_be_between", "column.mean"},
		{"expect_column_stdev_to_be_between", "column.standard_deviation"},
	} {
		defs = append(defs, Definition{
			Type: agg.typ, Family: FamilyAggregate, DomainType: domain.DomainColumn,
			Metric: agg.metric, Evaluate: betweenBounds,
		})
	}
	return defs
}

func equalsValue(observed any, kw domain.Kwargs) (bool, map[string]any, error) {
	want, ok := domain.AsFloat(domain.NormalizeValue(kw["value"]))
	if !ok {
		return false, nil, domain.ErrValidation("value must be numeric, got %T", kw["value"])
	}
	got, ok := domain.AsFloat(domain.NormalizeValue(observed))
	return ok && got == want, nil, nil
}

// betweenBounds implements the min_value/max_value check shared by the
// range expectations. A nil bound is open; a nil observation fails.
func betweenBounds(observed any, kw domain.Kwargs) (bool, map[string]any, error) {
	minV, hasMin := kw["min_value"], kw["min_value"] != nil
	maxV, hasMax := kw["max_value"], kw["max_value"] != nil
	if !hasMin && !hasMax {
		return false, nil, domain.ErrValidation("min_value and max_value cannot both be empty")
	}
	if observed == nil {
		return false, nil, nil
	}
	if hasMin {
		c := domain.CompareValues(observed, minV)
		if c < 0 || (c == 0 && kw.Bool("strict_min", false)) {
			return false, nil, nil
		}
	}
	if hasMax {
		c := domain.CompareValues(observed, maxV)
		if c > 0 || (c == 0 && kw.Bool("strict_max", false)) {
			return false, nil, nil
		}
	}
	return true, nil, nil
}

func columnsMatchSet(observed any, kw domain.Kwargs) (bool, map[string]any, error) {
	want, ok := kw.Strings("column_set")
	if !ok {
		return false, nil, domain.ErrValidation("column_set must be a list of column names")
	}
	got, ok := observed.([]string)
	if !ok {
		return false, nil, domain.ErrComputation(nil, "table.columns returned %T", observed)
	}
	var missing, unexpected []string
	for _, c := range want {
		if !slices.Contains(got, c) {
			missing = append(missing, c)
		}
	}
	for _, c := range got {
		if !slices.Contains(want, c) {
			unexpected = append(unexpected, c)
		}
	}
	details := map[string]any{}
	if len(missing) > 0 || len(unexpected) > 0 {
		details["mismatched"] = map[string]any{"missing": missing, "unexpected": unexpected}
	}
	if kw.Bool("exact_match", true) {
		return len(missing) == 0 && len(unexpected) == 0, details, nil
	}
	return len(missing) == 0, details, nil
}
