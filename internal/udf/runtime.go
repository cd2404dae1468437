// Package udf runs user-defined row predicates written in Starlark.
package udf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"duck-expect/internal/domain"
)

const (
	defaultMaxSteps   = uint64(50_000)
	defaultTimeout    = 2 * time.Second
	maxModuleBytes    = 64 * 1024
	predicateFunction = "check"
)

// Predicate is a compiled Starlark function of one value returning a bool.
type Predicate struct {
	source   string
	fn       starlark.Value
	maxSteps uint64
	timeout  time.Duration
}

// Runtime compiles predicates once per distinct source.
type Runtime struct {
	maxSteps uint64
	timeout  time.Duration

	mu    sync.Mutex
	cache map[string]*Predicate
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxSteps bounds the Starlark execution steps of one call.
func WithMaxSteps(n uint64) Option {
	return func(r *Runtime) { r.maxSteps = n }
}

// WithTimeout bounds the wall-clock time of one call.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.timeout = d }
}

// NewRuntime creates a predicate runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		maxSteps: defaultMaxSteps,
		timeout:  defaultTimeout,
		cache:    map[string]*Predicate{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile returns the predicate for source. The source is either a module
// defining check(value), or a single expression over value.
func (r *Runtime) Compile(source string) (*Predicate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[source]; ok {
		return p, nil
	}

	if strings.TrimSpace(source) == "" {
		return nil, domain.ErrValidation("udf source cannot be empty")
	}
	if len(source) > maxModuleBytes {
		return nil, domain.ErrValidation("udf source exceeds %d bytes", maxModuleBytes)
	}
	module := source
	if !strings.Contains(source, "def "+predicateFunction+"(") {
		module = fmt.Sprintf("def %s(value):\n    return %s\n", predicateFunction, strings.TrimSpace(source))
	}

	thread := &starlark.Thread{Name: "udf-compile"}
	thread.SetMaxExecutionSteps(r.maxSteps)
	var globals starlark.StringDict
	if err := runWithTimeout(thread, r.timeout, func() error {
		loaded, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, "udf.star", module, nil)
		if err != nil {
			return err
		}
		globals = loaded
		return nil
	}); err != nil {
		return nil, domain.ErrValidation("compile udf: %v", err)
	}
	fn, ok := globals[predicateFunction]
	if !ok {
		return nil, domain.ErrValidation("udf module must define %s(value)", predicateFunction)
	}
	if _, ok := fn.(starlark.Callable); !ok {
		return nil, domain.ErrValidation("udf %s is %s, not a function", predicateFunction, fn.Type())
	}

	p := &Predicate{source: source, fn: fn, maxSteps: r.maxSteps, timeout: r.timeout}
	r.cache[source] = p
	return p, nil
}

// Source returns the text the predicate was compiled from.
func (p *Predicate) Source() string { return p.source }

// Eval calls the predicate on one value.
func (p *Predicate) Eval(value any) (bool, error) {
	arg, err := toStarlark(value)
	if err != nil {
		return false, err
	}
	thread := &starlark.Thread{Name: "udf-eval"}
	thread.SetMaxExecutionSteps(p.maxSteps)

	var result starlark.Value
	if err := runWithTimeout(thread, p.timeout, func() error {
		out, err := starlark.Call(thread, p.fn, starlark.Tuple{arg}, nil)
		if err != nil {
			return err
		}
		result = out
		return nil
	}); err != nil {
		return false, domain.ErrComputation(err, "udf failed on value %v", value)
	}
	b, ok := result.(starlark.Bool)
	if !ok {
		return false, domain.ErrComputation(nil, "udf must return a bool, got %s", result.Type())
	}
	return bool(b), nil
}

func toStarlark(v any) (starlark.Value, error) {
	switch n := domain.NormalizeValue(v).(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(n), nil
	case int64:
		return starlark.MakeInt64(n), nil
	case float64:
		return starlark.Float(n), nil
	case string:
		return starlark.String(n), nil
	case time.Time:
		return starlark.String(n.Format(time.RFC3339Nano)), nil
	case []any:
		items := make([]starlark.Value, len(n))
		for i, item := range n {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return starlark.NewList(items), nil
	default:
		return nil, domain.ErrValidation("cannot pass %T to a udf", v)
	}
}

func runWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("udf execution timed out")
		err := <-done
		if err != nil {
			return fmt.Errorf("udf execution timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("udf execution timed out after %s", timeout)
	}
}
