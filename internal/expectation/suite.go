// Package expectation maps declarative expectation configurations onto
// metric requests, evaluates them against one batch and formats results.
package expectation

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"duck-expect/internal/domain"
)

// Document header values.
const (
	SupportedAPIVersion = "duck-expect/v1"
	KindSuite           = "ExpectationSuite"
)

// Configuration is one expectation: its type plus domain and value kwargs
// in a single mapping.
type Configuration struct {
	Type   string         `yaml:"expectation_type" json:"expectation_type"`
	Kwargs domain.Kwargs  `yaml:"kwargs" json:"kwargs"`
	Meta   map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// Suite is a named, ordered list of expectations.
type Suite struct {
	APIVersion   string          `yaml:"apiVersion" json:"apiVersion"`
	Kind         string          `yaml:"kind" json:"kind"`
	Name         string          `yaml:"name" json:"name"`
	Expectations []Configuration `yaml:"expectations" json:"expectations"`
	Meta         map[string]any  `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// NewSuite returns an empty suite with the document header filled in.
func NewSuite(name string) *Suite {
	return &Suite{APIVersion: SupportedAPIVersion, Kind: KindSuite, Name: name}
}

// Add appends an expectation.
func (s *Suite) Add(cfg Configuration) {
	s.Expectations = append(s.Expectations, cfg)
}

// LoadSuite decodes a YAML suite. Unknown fields are rejected.
func LoadSuite(r io.Reader) (*Suite, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	var s Suite
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, domain.ErrValidation("parse suite: %v", err)
	}
	if s.APIVersion != SupportedAPIVersion {
		return nil, domain.ErrValidation("unsupported apiVersion %q (expected %q)", s.APIVersion, SupportedAPIVersion)
	}
	if s.Kind != KindSuite {
		return nil, domain.ErrValidation("unexpected kind %q (expected %q)", s.Kind, KindSuite)
	}
	if s.Name == "" {
		return nil, domain.ErrValidation("suite name is required")
	}
	for i := range s.Expectations {
		if s.Expectations[i].Kwargs == nil {
			s.Expectations[i].Kwargs = domain.Kwargs{}
		}
	}
	return &s, nil
}

// LoadSuiteFile reads a suite from path.
func LoadSuiteFile(path string) (*Suite, error) {
	f, err := os.Open(path) //nolint:gosec // intentional: reading user-specified suite files
	if err != nil {
		return nil, fmt.Errorf("open suite: %w", err)
	}
	defer f.Close()
	s, err := LoadSuite(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks every expectation against the catalog without touching
// any data.
func (s *Suite) Validate(cat *Catalog) error {
	for i, cfg := range s.Expectations {
		def, err := cat.Lookup(cfg.Type)
		if err != nil {
			return fmt.Errorf("expectation %d: %w", i, err)
		}
		if err := def.validate(cfg.Kwargs); err != nil {
			return fmt.Errorf("expectation %d (%s): %w", i, cfg.Type, err)
		}
	}
	return nil
}

// YAML renders the suite as a document LoadSuite accepts.
func (s *Suite) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
