package profiler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/builtin"
	"duck-expect/internal/domain"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/expectation"
)

const profilerYAML = `
apiVersion: duck-expect/v1
kind: Profiler
name: trips
variables:
  mostly: 0.95
rules:
  - name: numeric_ranges
    domain_builder:
      kind: column
      include_semantic_types: [numeric]
      exclude_column_names: [id]
    parameter_builders:
      - kind: metric
        name: min
        metric_name: column.min
      - kind: metric
        name: max
        metric_name: column.max
        metric_domain_kwargs: $domain.domain_kwargs
    expectation_configuration_builders:
      - expectation_type: expect_column_values_to_be_between
        kwargs:
          column: $domain.domain_kwargs.column
          min_value: $parameter.min.value
          max_value: $parameter.max.value
          mostly: $variables.mostly
  - name: categories
    domain_builder:
      kind: column
      include_column_names: [city]
    parameter_builders:
      - kind: value_set
        name: cities
    expectation_configuration_builders:
      - expectation_type: expect_column_values_to_be_in_set
        kwargs:
          column: $domain.domain_kwargs["column"]
          value_set: $parameter.cities.value
  - name: table
    domain_builder:
      kind: table
    parameter_builders:
      - kind: metric
        name: row_count
        metric_name: table.row_count
    expectation_configuration_builders:
      - expectation_type: expect_table_row_count_to_equal
        kwargs:
          value: $parameter.row_count.value
`

func newEngine(t *testing.T) *memory.Engine {
	t.Helper()
	reg, err := builtin.NewRegistry()
	require.NoError(t, err)
	eng := memory.New(reg)
	f, err := memory.FromColumns([]string{"id", "fare", "distance", "city"}, map[string][]any{
		"id":       {1, 2, 3, 4},
		"fare":     {12.5, 8.0, nil, 30.25},
		"distance": {3, 1, 2, 9},
		"city":     {"oslo", "bergen", "oslo", nil},
	})
	require.NoError(t, err)
	eng.LoadBatch("trips", f)
	return eng
}

func loadProfiler(t *testing.T, doc string) *Profiler {
	t.Helper()
	cfg, err := LoadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	p, err := New(cfg, expectation.DefaultCatalog())
	require.NoError(t, err)
	return p
}

func TestProfile_BuildsSuite(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	out, err := loadProfiler(t, profilerYAML).Profile(ctx, eng, "trips")
	require.NoError(t, err)

	suite := out.Suite
	require.Len(t, suite.Expectations, 4)
	assert.Equal(t, "trips", suite.Name)

	fare := suite.Expectations[0]
	assert.Equal(t, "expect_column_values_to_be_between", fare.Type)
	assert.Equal(t, "fare", fare.Kwargs["column"])
	assert.Equal(t, 8.0, fare.Kwargs["min_value"])
	assert.Equal(t, 30.25, fare.Kwargs["max_value"])
	assert.Equal(t, 0.95, fare.Kwargs["mostly"])

	distance := suite.Expectations[1]
	assert.Equal(t, "distance", distance.Kwargs["column"])
	assert.Equal(t, int64(1), distance.Kwargs["min_value"])
	assert.Equal(t, int64(9), distance.Kwargs["max_value"])

	cities := suite.Expectations[2]
	assert.Equal(t, "city", cities.Kwargs["column"])
	assert.Equal(t, []any{"bergen", "oslo"}, cities.Kwargs["value_set"])

	assert.Equal(t, 4, suite.Expectations[3].Kwargs["value"])

	// A suite generated from a batch validates that batch.
	res, err := expectation.NewRunner(expectation.DefaultCatalog()).Run(ctx, eng, suite, "trips")
	require.NoError(t, err)
	assert.True(t, res.Success, "%+v", res.Results)

	var params map[string]map[string]any
	require.NoError(t, json.Unmarshal(out.Parameters, &params))
	assert.Contains(t, params, "variables")
	assert.Len(t, params, 5)
}

func TestProfile_ParameterDetails(t *testing.T) {
	ctx := context.Background()
	cfg, err := LoadConfig(strings.NewReader(profilerYAML))
	require.NoError(t, err)
	cfg.Rules = cfg.Rules[2:]
	p, err := New(cfg, expectation.DefaultCatalog())
	require.NoError(t, err)
	out, err := p.Profile(ctx, newEngine(t), "trips")
	require.NoError(t, err)

	var params map[string]map[string]any
	require.NoError(t, json.Unmarshal(out.Parameters, &params))
	require.Len(t, params, 2)
	for id, roots := range params {
		if id == "variables" {
			assert.Equal(t, map[string]any{"mostly": 0.95}, roots["variables"])
			continue
		}
		rowCount := roots["parameter"].(map[string]any)["row_count"].(map[string]any)
		assert.InDelta(t, 4, rowCount["value"], 0)
		details := rowCount["details"].(map[string]any)["metric_configuration"].(map[string]any)
		assert.Equal(t, "table.row_count", details["metric_name"])
		assert.Equal(t, map[string]any{"batch_id": "trips"}, details["domain_kwargs"])
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"domain kind", func(c *Config) { c.Rules[0].DomainBuilder.Kind = "rows" }, "unknown domain builder kind"},
		{"semantic type", func(c *Config) { c.Rules[0].DomainBuilder.IncludeSemanticTypes = []string{"money"} }, "unknown semantic type"},
		{"parameter kind", func(c *Config) { c.Rules[0].ParameterBuilders[0].Kind = "guess" }, "unknown parameter builder kind"},
		{"parameter name", func(c *Config) { c.Rules[0].ParameterBuilders[0].Name = "a.b" }, "bare identifier"},
		{"metric name", func(c *Config) { c.Rules[0].ParameterBuilders[0].MetricName = "" }, "requires metric_name"},
		{"expectation type", func(c *Config) { c.Rules[0].ExpectationConfigurationBuilders[0].ExpectationType = "expect_magic" }, "unknown expectation type"},
		{"duplicate rule", func(c *Config) { c.Rules[1].Name = c.Rules[0].Name }, "duplicate rule name"},
		{"no rules", func(c *Config) { c.Rules = nil }, "has no rules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(strings.NewReader(profilerYAML))
			require.NoError(t, err)
			tt.edit(cfg)
			_, err = New(cfg, expectation.DefaultCatalog())
			var pe *domain.ProfilerExecutionError
			require.True(t, errors.As(err, &pe), "%v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestProfile_ResolutionErrors(t *testing.T) {
	ctx := context.Background()
	doc := strings.Replace(profilerYAML, "$parameter.max.value", "$parameter.maximum.value", 1)
	_, err := loadProfiler(t, doc).Profile(ctx, newEngine(t), "trips")
	var nf *domain.ParameterNotFoundError
	require.True(t, errors.As(err, &nf), "%v", err)
	assert.Equal(t, "maximum", nf.Segment)

	doc = strings.Replace(profilerYAML, "include_column_names: [city]", "include_column_names: [town]", 1)
	_, err = loadProfiler(t, doc).Profile(ctx, newEngine(t), "trips")
	var pe *domain.ProfilerExecutionError
	assert.True(t, errors.As(err, &pe), "%v", err)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("apiVersion: duck-expect/v1\nkind: ExpectationSuite\nname: x\n"))
	var pe *domain.ProfilerExecutionError
	assert.True(t, errors.As(err, &pe))

	_, err = LoadConfig(strings.NewReader("apiVersion: duck-expect/v1\nkind: Profiler\nname: x\nrules:\n  - name: r\n    bogus: 1\n"))
	assert.True(t, errors.As(err, &pe))
}

func TestSemanticType(t *testing.T) {
	for typ, want := range map[string]string{
		"int64": SemanticNumeric, "float64": SemanticNumeric, "BIGINT": SemanticNumeric, "DECIMAL(10,2)": SemanticNumeric,
		"string": SemanticText, "VARCHAR": SemanticText, "TEXT": SemanticText,
		"bool": SemanticBoolean, "BOOLEAN": SemanticBoolean,
		"TIMESTAMP": SemanticDatetime, "DATE": SemanticDatetime,
		"INTERVAL": SemanticOther, "object": SemanticOther, "null": SemanticOther,
	} {
		assert.Equal(t, want, SemanticType(typ), typ)
	}
}
