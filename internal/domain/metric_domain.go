package domain

import (
	"fmt"
	"sort"
)

// Kwargs is the wire form of domain and value keyword arguments.
type Kwargs map[string]any

// Well-known domain kwarg keys.
const (
	KeyBatchID         = "batch_id"
	KeyTable           = "table"
	KeyColumn          = "column"
	KeyColumnA         = "column_A"
	KeyColumnB         = "column_B"
	KeyColumnList      = "column_list"
	KeyRowCondition    = "row_condition"
	KeyConditionParser = "condition_parser"
	KeyIgnoreRowIf     = "ignore_row_if"
	KeyResultFormat    = "result_format"
)

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (k Kwargs) Clone() Kwargs {
	out := make(Kwargs, len(k))
	for key, v := range k {
		out[key] = v
	}
	return out
}

// Without returns a copy with the given keys removed.
func (k Kwargs) Without(keys ...string) Kwargs {
	out := k.Clone()
	for _, key := range keys {
		delete(out, key)
	}
	return out
}

// String returns the string value at key.
func (k Kwargs) String(key string) (string, bool) {
	v, ok := k[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Strings returns the string list at key, accepting []string or []any.
func (k Kwargs) Strings(key string) ([]string, bool) {
	switch v := k[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Bool returns the boolean at key or def when absent.
func (k Kwargs) Bool(key string, def bool) bool {
	if b, ok := k[key].(bool); ok {
		return b
	}
	return def
}

// Keys returns the sorted key set.
func (k Kwargs) Keys() []string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MetricDomainType identifies the shape of data a metric is computed over.
type MetricDomainType string

// Domain types.
const (
	DomainTable       MetricDomainType = "table"
	DomainColumn      MetricDomainType = "column"
	DomainColumnPair  MetricDomainType = "column_pair"
	DomainMulticolumn MetricDomainType = "multicolumn"
	DomainOther       MetricDomainType = "other"
)

// AccessorKeys returns the domain kwarg keys that select within the compute domain.
func (t MetricDomainType) AccessorKeys() []string {
	switch t {
	case DomainColumn:
		return []string{KeyColumn}
	case DomainColumnPair:
		return []string{KeyColumnA, KeyColumnB}
	case DomainMulticolumn:
		return []string{KeyColumnList}
	default:
		return nil
	}
}

// TableDependencyKeys returns the keys stripped from a metric's domain to
// obtain the table-level domain its structural dependencies are computed on.
func (t MetricDomainType) TableDependencyKeys() []string {
	switch t {
	case DomainColumn:
		return []string{KeyColumn}
	case DomainColumnPair:
		return []string{KeyColumnA, KeyColumnB, KeyIgnoreRowIf}
	case DomainMulticolumn:
		return []string{KeyColumnList, KeyIgnoreRowIf}
	default:
		return nil
	}
}

// ParseMetricDomainType maps a wire name to a MetricDomainType.
func ParseMetricDomainType(s string) (MetricDomainType, error) {
	switch t := MetricDomainType(s); t {
	case DomainTable, DomainColumn, DomainColumnPair, DomainMulticolumn, DomainOther:
		return t, nil
	default:
		return "", ErrValidation("unknown metric domain type %q", s)
	}
}

// InferDomainType derives the domain type from the keys present.
func InferDomainType(kw Kwargs) MetricDomainType {
	switch {
	case kw[KeyColumn] != nil:
		return DomainColumn
	case kw[KeyColumnA] != nil && kw[KeyColumnB] != nil:
		return DomainColumnPair
	case kw[KeyColumnList] != nil:
		return DomainMulticolumn
	default:
		return DomainTable
	}
}

// SplitDomainKwargs separates kwargs into the compute domain (which rows) and
// the accessor domain (which columns within those rows). Extra accessor keys
// are moved as well; this is how table-domain metrics select columns.
func SplitDomainKwargs(kw Kwargs, t MetricDomainType, extraAccessorKeys ...string) (compute, accessor Kwargs, err error) {
	compute = kw.Clone()
	accessor = Kwargs{}
	keys := append(t.AccessorKeys(), extraAccessorKeys...)
	for _, key := range keys {
		v, ok := compute[key]
		if !ok {
			continue
		}
		accessor[key] = v
		delete(compute, key)
	}

	switch t {
	case DomainColumn:
		if _, ok := accessor[KeyColumn]; !ok {
			return nil, nil, ErrValidation("column domain requires %q", KeyColumn)
		}
	case DomainColumnPair:
		if _, ok := accessor[KeyColumnA]; !ok {
			return nil, nil, ErrValidation("column pair domain requires %q and %q", KeyColumnA, KeyColumnB)
		}
		if _, ok := accessor[KeyColumnB]; !ok {
			return nil, nil, ErrValidation("column pair domain requires %q and %q", KeyColumnA, KeyColumnB)
		}
	case DomainMulticolumn:
		cols, ok := accessor.Strings(KeyColumnList)
		if !ok {
			return nil, nil, ErrValidation("multicolumn domain requires %q", KeyColumnList)
		}
		if len(cols) == 0 {
			return nil, nil, ErrValidation("multicolumn domain requires a non-empty %q", KeyColumnList)
		}
	}
	return compute, accessor, nil
}

// RowFilter is the typed form of the row-selection kwargs shared by every
// domain variant.
type RowFilter struct {
	BatchID         string
	Table           string
	RowCondition    string
	ConditionParser string
	IgnoreRowIf     string
}

func (f RowFilter) apply(kw Kwargs) {
	if f.BatchID != "" {
		kw[KeyBatchID] = f.BatchID
	}
	if f.Table != "" {
		kw[KeyTable] = f.Table
	}
	if f.RowCondition != "" {
		kw[KeyRowCondition] = f.RowCondition
	}
	if f.ConditionParser != "" {
		kw[KeyConditionParser] = f.ConditionParser
	}
	if f.IgnoreRowIf != "" {
		kw[KeyIgnoreRowIf] = f.IgnoreRowIf
	}
}

// TableDomain selects whole rows of a batch.
type TableDomain struct {
	RowFilter
}

// ColumnDomain selects one column.
type ColumnDomain struct {
	RowFilter
	Column string
}

// ColumnPairDomain selects two columns.
type ColumnPairDomain struct {
	RowFilter
	ColumnA string
	ColumnB string
}

// MulticolumnDomain selects an ordered list of columns.
type MulticolumnDomain struct {
	RowFilter
	Columns []string
}

// MetricDomain is implemented by the tagged domain variants.
type MetricDomain interface {
	Type() MetricDomainType
	Kwargs() Kwargs
	Filter() RowFilter
}

var (
	_ MetricDomain = TableDomain{}
	_ MetricDomain = ColumnDomain{}
	_ MetricDomain = ColumnPairDomain{}
	_ MetricDomain = MulticolumnDomain{}
)

func (d TableDomain) Type() MetricDomainType       { return DomainTable }
func (d ColumnDomain) Type() MetricDomainType      { return DomainColumn }
func (d ColumnPairDomain) Type() MetricDomainType  { return DomainColumnPair }
func (d MulticolumnDomain) Type() MetricDomainType { return DomainMulticolumn }

func (d TableDomain) Filter() RowFilter       { return d.RowFilter }
func (d ColumnDomain) Filter() RowFilter      { return d.RowFilter }
func (d ColumnPairDomain) Filter() RowFilter  { return d.RowFilter }
func (d MulticolumnDomain) Filter() RowFilter { return d.RowFilter }

func (d TableDomain) Kwargs() Kwargs {
	kw := Kwargs{}
	d.apply(kw)
	return kw
}

func (d ColumnDomain) Kwargs() Kwargs {
	kw := Kwargs{KeyColumn: d.Column}
	d.apply(kw)
	return kw
}

func (d ColumnPairDomain) Kwargs() Kwargs {
	kw := Kwargs{KeyColumnA: d.ColumnA, KeyColumnB: d.ColumnB}
	d.apply(kw)
	return kw
}

func (d MulticolumnDomain) Kwargs() Kwargs {
	kw := Kwargs{KeyColumnList: append([]string(nil), d.Columns...)}
	d.apply(kw)
	return kw
}

// ParseRowFilter reads the row-selection keys from kw.
func ParseRowFilter(kw Kwargs) (RowFilter, error) {
	var f RowFilter
	for key, dst := range map[string]*string{
		KeyBatchID:         &f.BatchID,
		KeyTable:           &f.Table,
		KeyRowCondition:    &f.RowCondition,
		KeyConditionParser: &f.ConditionParser,
		KeyIgnoreRowIf:     &f.IgnoreRowIf,
	} {
		v, ok := kw[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return RowFilter{}, ErrValidation("domain kwarg %q must be a string, got %T", key, v)
		}
		*dst = s
	}
	if f.RowCondition != "" && f.ConditionParser == "" {
		return RowFilter{}, ErrValidation("row_condition requires condition_parser")
	}
	return f, nil
}

// ParseMetricDomain converts wire kwargs into the typed variant for t.
func ParseMetricDomain(kw Kwargs, t MetricDomainType) (MetricDomain, error) {
	filter, err := ParseRowFilter(kw)
	if err != nil {
		return nil, err
	}
	switch t {
	case DomainTable, DomainOther:
		return TableDomain{RowFilter: filter}, nil
	case DomainColumn:
		col, ok := kw.String(KeyColumn)
		if !ok {
			return nil, ErrValidation("column domain requires %q", KeyColumn)
		}
		return ColumnDomain{RowFilter: filter, Column: col}, nil
	case DomainColumnPair:
		a, okA := kw.String(KeyColumnA)
		b, okB := kw.String(KeyColumnB)
		if !okA || !okB {
			return nil, ErrValidation("column pair domain requires %q and %q", KeyColumnA, KeyColumnB)
		}
		return ColumnPairDomain{RowFilter: filter, ColumnA: a, ColumnB: b}, nil
	case DomainMulticolumn:
		cols, ok := kw.Strings(KeyColumnList)
		if !ok || len(cols) == 0 {
			return nil, ErrValidation("multicolumn domain requires a non-empty %q", KeyColumnList)
		}
		return MulticolumnDomain{RowFilter: filter, Columns: cols}, nil
	default:
		return nil, fmt.Errorf("unsupported domain type %q", t)
	}
}

// AccessorColumns lists the columns named by an accessor domain.
func AccessorColumns(accessor Kwargs) []string {
	var cols []string
	if c, ok := accessor.String(KeyColumn); ok {
		cols = append(cols, c)
	}
	if a, ok := accessor.String(KeyColumnA); ok {
		cols = append(cols, a)
	}
	if b, ok := accessor.String(KeyColumnB); ok {
		cols = append(cols, b)
	}
	if list, ok := accessor.Strings(KeyColumnList); ok {
		cols = append(cols, list...)
	}
	return cols
}
