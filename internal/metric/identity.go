// Package metric defines metric identities, the provider registry, the
// dependency resolver and the contract every execution backend implements.
package metric

import (
	"encoding/json"
	"fmt"
	"strings"

	"duck-expect/internal/domain"
)

// Identity names a metric request: a metric name plus the domain it is
// computed over and the parameters that affect its value.
type Identity struct {
	Name         string
	DomainKwargs domain.Kwargs
	ValueKwargs  domain.Kwargs
}

// Key is the canonical, comparable form of an Identity. Two identities with
// equal content produce equal keys regardless of map insertion order.
type Key struct {
	Name   string
	Domain string
	Value  string
}

// NewIdentity builds an Identity, normalising nil kwargs to empty maps.
func NewIdentity(name string, domainKwargs, valueKwargs domain.Kwargs) Identity {
	if domainKwargs == nil {
		domainKwargs = domain.Kwargs{}
	}
	if valueKwargs == nil {
		valueKwargs = domain.Kwargs{}
	}
	return Identity{Name: name, DomainKwargs: domainKwargs, ValueKwargs: valueKwargs}
}

// Key returns the canonical key used by the resolution cache.
func (id Identity) Key() Key {
	return Key{
		Name:   id.Name,
		Domain: CanonicalID(id.DomainKwargs),
		Value:  CanonicalID(id.ValueKwargs),
	}
}

func (id Identity) String() string {
	k := id.Key()
	return fmt.Sprintf("%s(domain=%s, value=%s)", k.Name, k.Domain, k.Value)
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Name, k.Domain, k.Value)
}

// HasSuffix reports whether the metric name ends with the dotted suffix.
func (id Identity) HasSuffix(suffix string) bool {
	return strings.HasSuffix(id.Name, suffix)
}

// CanonicalID renders kwargs as JSON with recursively sorted object keys.
// encoding/json sorts map keys at every depth, so nested mappings canonicalise
// for free; values JSON cannot encode fall back to their %#v rendering.
func CanonicalID(kw domain.Kwargs) string {
	if len(kw) == 0 {
		return "{}"
	}
	b, err := json.Marshal(normalise(map[string]any(kw)))
	if err != nil {
		return fmt.Sprintf("%#v", kw)
	}
	return string(b)
}

func normalise(v any) any {
	switch t := v.(type) {
	case domain.Kwargs:
		return normalise(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalise(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalise(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalise(item)
		}
		return out
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
