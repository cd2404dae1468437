package domain

import "strings"

// ResultFormatLevel controls how much detail an expectation result carries.
type ResultFormatLevel string

// Result format levels, in increasing verbosity.
const (
	ResultBooleanOnly ResultFormatLevel = "BOOLEAN_ONLY"
	ResultBasic       ResultFormatLevel = "BASIC"
	ResultSummary     ResultFormatLevel = "SUMMARY"
	ResultComplete    ResultFormatLevel = "COMPLETE"
)

// DefaultPartialUnexpectedCount caps partial unexpected lists when unset.
const DefaultPartialUnexpectedCount = 20

// ResultFormat is the parsed result_format value kwarg.
type ResultFormat struct {
	Level                  ResultFormatLevel
	PartialUnexpectedCount int
	IncludeUnexpectedRows  bool
}

// DefaultResultFormat is BASIC with the default partial count.
func DefaultResultFormat() ResultFormat {
	return ResultFormat{Level: ResultBasic, PartialUnexpectedCount: DefaultPartialUnexpectedCount}
}

// ParseResultFormat accepts either a bare level string or a map with
// result_format, partial_unexpected_count and include_unexpected_rows.
func ParseResultFormat(v any) (ResultFormat, error) {
	rf := DefaultResultFormat()
	switch t := v.(type) {
	case nil:
		return rf, nil
	case ResultFormat:
		if t.PartialUnexpectedCount == 0 && t.Level != ResultComplete {
			t.PartialUnexpectedCount = DefaultPartialUnexpectedCount
		}
		return t, nil
	case string:
		level, err := parseResultFormatLevel(t)
		if err != nil {
			return ResultFormat{}, err
		}
		rf.Level = level
		return rf, nil
	case map[string]any:
		return parseResultFormatMap(Kwargs(t))
	case Kwargs:
		return parseResultFormatMap(t)
	default:
		return ResultFormat{}, ErrValidation("result_format must be a string or mapping, got %T", v)
	}
}

func parseResultFormatMap(m Kwargs) (ResultFormat, error) {
	rf := DefaultResultFormat()
	if s, ok := m.String("result_format"); ok {
		level, err := parseResultFormatLevel(s)
		if err != nil {
			return ResultFormat{}, err
		}
		rf.Level = level
	}
	if raw, ok := m["partial_unexpected_count"]; ok {
		n, ok := AsInt(raw)
		if !ok || n < 0 {
			return ResultFormat{}, ErrValidation("partial_unexpected_count must be a non-negative integer")
		}
		rf.PartialUnexpectedCount = n
	}
	rf.IncludeUnexpectedRows = m.Bool("include_unexpected_rows", false)
	if rf.IncludeUnexpectedRows && rf.Level == ResultBooleanOnly {
		return ResultFormat{}, ErrValidation("include_unexpected_rows is not supported with BOOLEAN_ONLY")
	}
	return rf, nil
}

func parseResultFormatLevel(s string) (ResultFormatLevel, error) {
	switch level := ResultFormatLevel(strings.ToUpper(s)); level {
	case ResultBooleanOnly, ResultBasic, ResultSummary, ResultComplete:
		return level, nil
	default:
		return "", ErrValidation("unknown result_format %q", s)
	}
}

// Limit returns the row limit for detail metrics; zero means unlimited.
func (rf ResultFormat) Limit() int {
	if rf.Level == ResultComplete {
		return 0
	}
	return rf.PartialUnexpectedCount
}

// Kwargs renders the format in its mapping form for use as a value kwarg.
func (rf ResultFormat) Kwargs() Kwargs {
	return Kwargs{
		"result_format":            string(rf.Level),
		"partial_unexpected_count": rf.PartialUnexpectedCount,
		"include_unexpected_rows":  rf.IncludeUnexpectedRows,
	}
}

// AsInt converts the numeric forms produced by YAML and JSON decoding.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// AsFloat converts any numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
