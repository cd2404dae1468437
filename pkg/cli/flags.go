package cli

import (
	"github.com/spf13/pflag"

	"duck-expect/internal/metric"
)

// engineValue is a --engine flag that only accepts known backends.
type engineValue metric.Backend

var _ pflag.Value = (*engineValue)(nil)

func newEngineValue(def metric.Backend, p *metric.Backend) *engineValue {
	*p = def
	return (*engineValue)(p)
}

func (e *engineValue) String() string { return string(*e) }

func (e *engineValue) Set(s string) error {
	b, err := metric.ParseBackend(s)
	if err != nil {
		return err
	}
	*e = engineValue(b)
	return nil
}

func (e *engineValue) Type() string { return "engine" }

// addEngineFlag registers --engine on flags, defaulting to the memory backend.
func addEngineFlag(flags *pflag.FlagSet, p *metric.Backend) {
	flags.Var(newEngineValue(metric.BackendMemory, p), "engine", "Execution engine (memory, sql, lazy)")
}
