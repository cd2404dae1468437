// Package builtin registers the standard metric providers. Registration is
// explicit: callers build a registry and pass it to Register at startup.
package builtin

import (
	"fmt"

	"duck-expect/internal/mapmetric"
	"duck-expect/internal/metric"
	"duck-expect/internal/udf"
)

// Option configures Register.
type Option func(*options)

type options struct {
	udf *udf.Runtime
}

// WithUDFRuntime sets the Starlark runtime backing column_values.udf.
func WithUDFRuntime(rt *udf.Runtime) Option {
	return func(o *options) { o.udf = rt }
}

// Register adds every builtin provider to reg.
func Register(reg *metric.Registry, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.udf == nil {
		o.udf = udf.NewRuntime()
	}

	steps := []struct {
		name string
		fn   func(*metric.Registry) error
	}{
		{"table", registerTable},
		{"column aggregates", registerColumnAggregates},
		{"column maps", registerColumnMaps},
		{"multicolumn maps", registerMultiMaps},
		{"udf", func(r *metric.Registry) error { return mapmetric.RegisterCondition(r, udfCondition(o.udf)) }},
	}
	for _, s := range steps {
		if err := s.fn(reg); err != nil {
			return fmt.Errorf("register %s metrics: %w", s.name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry populated with every builtin provider.
func NewRegistry(opts ...Option) (*metric.Registry, error) {
	reg := metric.NewRegistry()
	if err := Register(reg, opts...); err != nil {
		return nil, err
	}
	return reg, nil
}
