package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
)

// NormalizeValue maps scalar values from any backend onto a small set of Go
// types: nil, bool, int64, float64, string, time.Time, and nested []any or
// map[string]any. NaN becomes nil.
func NormalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return NormalizeValue(float64(n))
	case float64:
		if math.IsNaN(n) {
			return nil
		}
		return n
	case []byte:
		return string(n)
	case *big.Int:
		if n == nil {
			return nil
		}
		if n.IsInt64() {
			return n.Int64()
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f
	default:
		return v
	}
}

// IsNumeric reports whether v is an int64 or float64 after normalisation.
func IsNumeric(v any) bool {
	switch NormalizeValue(v).(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

// CompareValues orders two values: nulls first, then numbers numerically,
// then booleans, times and finally everything else by string form.
func CompareValues(a, b any) int {
	a, b = NormalizeValue(a), NormalizeValue(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aNum := AsFloat(a)
	fb, bNum := AsFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// ValueKey returns a hashable key for v. Scalars key by type and value;
// slices and maps fall back to their canonical JSON encoding. The error is
// non-nil only when neither form can be produced.
func ValueKey(v any) (string, error) {
	switch n := NormalizeValue(v).(type) {
	case nil:
		return "null", nil
	case bool, int64, float64, string:
		if f, ok := AsFloat(n); ok {
			return fmt.Sprintf("n:%v", f), nil
		}
		return fmt.Sprintf("%T:%v", n, n), nil
	case time.Time:
		return "t:" + n.UTC().Format(time.RFC3339Nano), nil
	default:
		b, err := json.Marshal(n)
		if err != nil {
			return "", err
		}
		return "j:" + string(b), nil
	}
}
