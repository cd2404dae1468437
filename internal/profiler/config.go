// Package profiler builds expectation suites from a batch: domain builders
// pick what to profile, parameter builders compute metrics into the
// parameter namespace and expectation builders turn those parameters into
// expectation configurations.
package profiler

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"duck-expect/internal/domain"
	"duck-expect/internal/expectation"
)

// KindProfiler is the document kind of a profiler configuration.
const KindProfiler = "Profiler"

// Config is a profiler configuration document.
type Config struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Name       string         `yaml:"name"`
	Variables  map[string]any `yaml:"variables,omitempty"`
	Rules      []RuleConfig   `yaml:"rules"`
}

// RuleConfig pairs one domain builder with the builders run per domain.
type RuleConfig struct {
	Name                             string                     `yaml:"name"`
	DomainBuilder                    DomainBuilderConfig        `yaml:"domain_builder"`
	ParameterBuilders                []ParameterBuilderConfig   `yaml:"parameter_builders,omitempty"`
	ExpectationConfigurationBuilders []ExpectationBuilderConfig `yaml:"expectation_configuration_builders"`
}

// DomainBuilderConfig selects the domains of a rule.
type DomainBuilderConfig struct {
	Kind                 string   `yaml:"kind"`
	IncludeColumnNames   []string `yaml:"include_column_names,omitempty"`
	ExcludeColumnNames   []string `yaml:"exclude_column_names,omitempty"`
	IncludeSemanticTypes []string `yaml:"include_semantic_types,omitempty"`
	RowCondition         string   `yaml:"row_condition,omitempty"`
	ConditionParser      string   `yaml:"condition_parser,omitempty"`
}

// ParameterBuilderConfig computes one parameter per domain. Name is the
// key under $parameter; the metric kwargs may hold fully-qualified names.
type ParameterBuilderConfig struct {
	Kind               string `yaml:"kind"`
	Name               string `yaml:"name"`
	MetricName         string `yaml:"metric_name,omitempty"`
	MetricDomainKwargs any    `yaml:"metric_domain_kwargs,omitempty"`
	MetricValueKwargs  any    `yaml:"metric_value_kwargs,omitempty"`
}

// ExpectationBuilderConfig renders one expectation per domain.
type ExpectationBuilderConfig struct {
	ExpectationType string         `yaml:"expectation_type"`
	Kwargs          domain.Kwargs  `yaml:"kwargs"`
	Meta            map[string]any `yaml:"meta,omitempty"`
}

// LoadConfig decodes a YAML profiler configuration. Unknown fields are
// rejected.
func LoadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read profiler config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, domain.ErrProfilerExecution("parse profiler config: %v", err)
	}
	if cfg.APIVersion != expectation.SupportedAPIVersion {
		return nil, domain.ErrProfilerExecution("unsupported apiVersion %q (expected %q)", cfg.APIVersion, expectation.SupportedAPIVersion)
	}
	if cfg.Kind != KindProfiler {
		return nil, domain.ErrProfilerExecution("unexpected kind %q (expected %q)", cfg.Kind, KindProfiler)
	}
	return &cfg, nil
}

// LoadConfigFile reads a profiler configuration from path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // intentional: reading user-specified profiler configs
	if err != nil {
		return nil, fmt.Errorf("open profiler config: %w", err)
	}
	defer f.Close()
	cfg, err := LoadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
