// Package domain defines the core types and errors shared by the metric
// resolution engine, the execution backends and the parameter namespace.
package domain

import "fmt"

// NotFoundError indicates a requested batch, column or resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// MetricProviderError is the base kind for failures raised while locating or
// invoking a metric provider.
type MetricProviderError struct {
	Message string
}

func (e *MetricProviderError) Error() string { return e.Message }

// MetricProviderNotFoundError indicates that no provider is registered for a
// metric name on a given backend.
type MetricProviderNotFoundError struct {
	MetricName string
	Backend    string
}

func (e *MetricProviderNotFoundError) Error() string {
	return fmt.Sprintf("no provider found for metric %q on backend %q", e.MetricName, e.Backend)
}

// Unwrap exposes the provider-error base kind to errors.As.
func (e *MetricProviderNotFoundError) Unwrap() error {
	return &MetricProviderError{Message: e.Error()}
}

// InvalidMetricAccessorDomainKwargsKeyError indicates that a domain kwarg
// names a column that does not exist in the batch.
type InvalidMetricAccessorDomainKwargsKeyError struct {
	Message string
}

func (e *InvalidMetricAccessorDomainKwargsKeyError) Error() string { return e.Message }

// MetricComputationError indicates a failure while a provider computed its value.
type MetricComputationError struct {
	Message string
	Err     error
}

func (e *MetricComputationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *MetricComputationError) Unwrap() error { return e.Err }

// ExecutionEngineError wraps a native backend failure (driver error, plan
// failure) so callers see one error kind regardless of backend.
type ExecutionEngineError struct {
	Message string
	Err     error
}

func (e *ExecutionEngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExecutionEngineError) Unwrap() error { return e.Err }

// ParameterAttributeNameParserError indicates a malformed fully-qualified
// parameter name.
type ParameterAttributeNameParserError struct {
	Message string
}

func (e *ParameterAttributeNameParserError) Error() string { return e.Message }

// ParameterNotFoundError indicates that a path segment could not be resolved
// against a parameter tree. Segment names the offending segment.
type ParameterNotFoundError struct {
	Name    string
	Segment string
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("unable to find value for parameter name %q: key %q was not found", e.Name, e.Segment)
}

// ProfilerExecutionError indicates an invalid profiler configuration or a
// parameter name that violates namespace rules.
type ProfilerExecutionError struct {
	Message string
}

func (e *ProfilerExecutionError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrMetricProvider creates a MetricProviderError with a formatted message.
func ErrMetricProvider(format string, args ...interface{}) *MetricProviderError {
	return &MetricProviderError{Message: fmt.Sprintf(format, args...)}
}

// ErrProviderNotFound creates a MetricProviderNotFoundError.
func ErrProviderNotFound(metricName, backend string) *MetricProviderNotFoundError {
	return &MetricProviderNotFoundError{MetricName: metricName, Backend: backend}
}

// ErrInvalidAccessorKey creates an InvalidMetricAccessorDomainKwargsKeyError.
func ErrInvalidAccessorKey(format string, args ...interface{}) *InvalidMetricAccessorDomainKwargsKeyError {
	return &InvalidMetricAccessorDomainKwargsKeyError{Message: fmt.Sprintf(format, args...)}
}

// ErrComputation creates a MetricComputationError wrapping err (which may be nil).
func ErrComputation(err error, format string, args ...interface{}) *MetricComputationError {
	return &MetricComputationError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrExecutionEngine creates an ExecutionEngineError wrapping a native error.
func ErrExecutionEngine(err error, format string, args ...interface{}) *ExecutionEngineError {
	return &ExecutionEngineError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrParameterNameParser creates a ParameterAttributeNameParserError.
func ErrParameterNameParser(format string, args ...interface{}) *ParameterAttributeNameParserError {
	return &ParameterAttributeNameParserError{Message: fmt.Sprintf(format, args...)}
}

// ErrProfilerExecution creates a ProfilerExecutionError with a formatted message.
func ErrProfilerExecution(format string, args ...interface{}) *ProfilerExecutionError {
	return &ProfilerExecutionError{Message: fmt.Sprintf(format, args...)}
}
