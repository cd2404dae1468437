package expectation

import (
	"errors"
	"fmt"

	"duck-expect/internal/domain"
	"duck-expect/internal/mapmetric"
)

// ExceptionInfo records why an expectation could not be evaluated.
type ExceptionInfo struct {
	RaisedException bool   `json:"raised_exception"`
	Kind            string `json:"exception_kind,omitempty"`
	Message         string `json:"exception_message,omitempty"`
}

// Result is the outcome of one expectation.
type Result struct {
	Success       bool           `json:"success"`
	Configuration Configuration  `json:"expectation_config"`
	Result        map[string]any `json:"result"`
	ExceptionInfo ExceptionInfo  `json:"exception_info"`
}

// Statistics summarises a suite run.
type Statistics struct {
	Evaluated      int     `json:"evaluated_expectations"`
	Successful     int     `json:"successful_expectations"`
	Unsuccessful   int     `json:"unsuccessful_expectations"`
	SuccessPercent float64 `json:"success_percent"`
}

// SuiteResult is the outcome of running a suite against one batch.
type SuiteResult struct {
	Suite      string     `json:"suite_name"`
	BatchID    string     `json:"batch_id"`
	Success    bool       `json:"success"`
	Statistics Statistics `json:"statistics"`
	Results    []Result   `json:"results"`
}

func (r *SuiteResult) add(res Result) {
	r.Results = append(r.Results, res)
	r.Statistics.Evaluated++
	if res.Success {
		r.Statistics.Successful++
	} else {
		r.Statistics.Unsuccessful++
	}
	r.Success = r.Statistics.Unsuccessful == 0
	r.Statistics.SuccessPercent = 100 * float64(r.Statistics.Successful) / float64(r.Statistics.Evaluated)
}

func exceptionInfo(err error) ExceptionInfo {
	return ExceptionInfo{RaisedException: true, Kind: errorKind(err), Message: err.Error()}
}

func errorKind(err error) string {
	var (
		notFound   *domain.MetricProviderNotFoundError
		accessor   *domain.InvalidMetricAccessorDomainKwargsKeyError
		compute    *domain.MetricComputationError
		engine     *domain.ExecutionEngineError
		provider   *domain.MetricProviderError
		validation *domain.ValidationError
		missing    *domain.NotFoundError
	)
	switch {
	case errors.As(err, &notFound):
		return "MetricProviderNotFoundError"
	case errors.As(err, &accessor):
		return "InvalidMetricAccessorDomainKwargsKeyError"
	case errors.As(err, &compute):
		return "MetricComputationError"
	case errors.As(err, &engine):
		return "ExecutionEngineError"
	case errors.As(err, &provider):
		return "MetricProviderError"
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &missing):
		return "NotFoundError"
	default:
		return fmt.Sprintf("%T", err)
	}
}

// mapObservation carries the resolved metrics of one map expectation.
type mapObservation struct {
	elementCount    int
	missingCount    int
	unexpectedCount int
	values          []any
	indexList       []int
	valueCounts     []mapmetric.ValueCount
	rows            any
	hasValues       bool
	hasIndex        bool
	hasCounts       bool
	hasRows         bool
}

// mapSuccess applies mostly to the non-missing rows. With no non-missing
// rows the expectation holds vacuously.
func mapSuccess(obs mapObservation, mostly float64) bool {
	nonMissing := obs.elementCount - obs.missingCount
	if nonMissing <= 0 {
		return true
	}
	return float64(nonMissing-obs.unexpectedCount)/float64(nonMissing) >= mostly
}

func percent(n, of int) any {
	if of <= 0 {
		return nil
	}
	return 100 * float64(n) / float64(of)
}

// formatMapResult renders the result mapping for rf.
func formatMapResult(obs mapObservation, rf domain.ResultFormat) map[string]any {
	out := map[string]any{}
	if rf.Level == domain.ResultBooleanOnly {
		return out
	}
	nonMissing := obs.elementCount - obs.missingCount
	out["element_count"] = obs.elementCount
	out["missing_count"] = obs.missingCount
	out["missing_percent"] = percent(obs.missingCount, obs.elementCount)
	out["unexpected_count"] = obs.unexpectedCount
	out["unexpected_percent"] = percent(obs.unexpectedCount, nonMissing)
	out["unexpected_percent_total"] = percent(obs.unexpectedCount, obs.elementCount)
	out["unexpected_percent_nonmissing"] = percent(obs.unexpectedCount, nonMissing)
	if obs.hasValues {
		out["partial_unexpected_list"] = head(obs.values, rf.PartialUnexpectedCount)
	}
	if obs.hasRows {
		out["unexpected_rows"] = obs.rows
	}
	if rf.Level == domain.ResultBasic {
		return out
	}
	if obs.hasIndex {
		out["partial_unexpected_index_list"] = head(obs.indexList, rf.PartialUnexpectedCount)
	}
	if obs.hasCounts {
		out["partial_unexpected_counts"] = head(obs.valueCounts, rf.PartialUnexpectedCount)
	}
	if rf.Level == domain.ResultSummary {
		return out
	}
	if obs.hasValues {
		out["unexpected_list"] = obs.values
	}
	if obs.hasIndex {
		out["unexpected_index_list"] = obs.indexList
	}
	return out
}

func formatAggregateResult(observed any, details map[string]any, rf domain.ResultFormat) map[string]any {
	out := map[string]any{}
	if rf.Level == domain.ResultBooleanOnly {
		return out
	}
	out["observed_value"] = observed
	if len(details) > 0 {
		out["details"] = details
	}
	return out
}

func head[T any](s []T, n int) []T {
	if n < 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
