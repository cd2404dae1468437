// Package parameter implements the profiler's addressable parameter tree and
// the "$"-prefixed path language used to read and write it:
//
//	$variables.false_positive_rate
//	$parameter.daily_fares.mean_values.value["friday"]
//	$parameter.weekly_fares.mean_values.value[18]['saturday']
//	$domain.domain_kwargs.column
package parameter

import (
	"fmt"
	"strconv"
	"strings"

	"duck-expect/internal/domain"
)

// Path syntax.
const (
	Sigil     = "$"
	Separator = "."

	RootVariables = "variables"
	RootParameter = "parameter"
	RootDomain    = "domain"

	DomainKwargs = "domain_kwargs"

	KeyValue           = "value"
	KeyAttributedValue = "attributed_value"
	KeyDetails         = "details"
)

// DomainKwargsName addresses the active domain's kwargs.
const DomainKwargsName = Sigil + RootDomain + Separator + DomainKwargs

var reservedTerminals = map[string]bool{
	KeyValue:           true,
	KeyAttributedValue: true,
	KeyDetails:         true,
}

// Accessor is one bracket group: an integer index or a string key.
type Accessor struct {
	Key     string
	Index   int
	IsIndex bool
}

func (a Accessor) String() string {
	if a.IsIndex {
		return "[" + strconv.Itoa(a.Index) + "]"
	}
	return `["` + a.Key + `"]`
}

// Segment is one dot-separated part of a name: an identifier followed by
// zero or more accessors.
type Segment struct {
	Raw       string
	Name      string
	Accessors []Accessor

	// ends[i] is the offset in Raw just past Accessors[i].
	ends []int
}

// Through returns the text of the segment up to and including accessor i.
func (s Segment) Through(i int) string {
	if i < 0 || i >= len(s.ends) {
		return s.Raw
	}
	return s.Raw[:s.ends[i]]
}

// Name is a parsed fully-qualified parameter name.
type Name struct {
	Raw      string
	Segments []Segment
}

// Root returns the namespace selected by the first segment.
func (n Name) Root() string { return n.Segments[0].Name }

// IsFullyQualified reports whether s carries the "$" sigil.
func IsFullyQualified(s string) bool {
	return strings.HasPrefix(s, Sigil)
}

// ParseName parses a fully-qualified name. A missing sigil is a profiler
// configuration error; a malformed segment is a parser error.
func ParseName(fqn string) (Name, error) {
	if !IsFullyQualified(fqn) {
		return Name{}, domain.ErrProfilerExecution(
			"unable to get value for parameter name %q: parameter names must start with %s (e.g. %q)", fqn, Sigil, Sigil+fqn)
	}
	parts, err := splitSegments(fqn[len(Sigil):])
	if err != nil {
		return Name{}, domain.ErrParameterNameParser("unable to parse parameter name %q: %v", fqn, err)
	}
	out := Name{Raw: fqn, Segments: make([]Segment, len(parts))}
	for i, p := range parts {
		seg, err := ParseSegment(p)
		if err != nil {
			return Name{}, err
		}
		out.Segments[i] = seg
	}
	return out, nil
}

// splitSegments splits on separators outside brackets and quotes, so string
// keys may contain dots.
func splitSegments(s string) ([]string, error) {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			if depth == 0 {
				return nil, fmt.Errorf("quote outside brackets at offset %d", i)
			}
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ']' at offset %d", i)
			}
		case c == '.' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("unterminated bracket")
	}
	return append(parts, s[start:]), nil
}

// ParseSegment parses `ident`, `ident[3]`, `ident[-1]`, `ident["k"]`,
// `ident['k']` and any chain of those accessors.
func ParseSegment(s string) (Segment, error) {
	fail := func(format string, args ...any) (Segment, error) {
		return Segment{}, domain.ErrParameterNameParser("unable to parse parameter attribute name %q: "+format, append([]any{s}, args...)...)
	}
	i := 0
	for i < len(s) && isIdentChar(s[i], i == 0) {
		i++
	}
	if i == 0 {
		return fail("expected an identifier starting with a letter")
	}
	seg := Segment{Raw: s, Name: s[:i]}
	for i < len(s) {
		if s[i] != '[' {
			return fail("unexpected %q at offset %d", s[i], i)
		}
		i++
		if i < len(s) && (s[i] == '"' || s[i] == '\'') {
			q := s[i]
			end := strings.IndexByte(s[i+1:], q)
			if end < 0 {
				return fail("unterminated string key")
			}
			key := s[i+1 : i+1+end]
			i += end + 2
			if i >= len(s) || s[i] != ']' {
				return fail("expected ']' after string key")
			}
			if key == "" {
				return fail("empty string key")
			}
			i++
			seg.Accessors = append(seg.Accessors, Accessor{Key: key})
			seg.ends = append(seg.ends, i)
			continue
		}
		end := strings.IndexByte(s[i:], ']')
		if end < 0 {
			return fail("unterminated index")
		}
		n, err := strconv.Atoi(s[i : i+end])
		if err != nil {
			return fail("index %q is not an integer", s[i:i+end])
		}
		i += end + 1
		seg.Accessors = append(seg.Accessors, Accessor{Index: n, IsIndex: true})
		seg.ends = append(seg.ends, i)
	}
	return seg, nil
}

func isIdentChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c == '_' || (c >= '0' && c <= '9'):
		return !first
	}
	return false
}
