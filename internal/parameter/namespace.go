package parameter

import (
	"sort"
	"strings"
	"sync"

	"duck-expect/internal/domain"
	"duck-expect/internal/metric"
)

// Domain is the unit a profiler rule works on. Its ID keys the domain's
// parameter container.
type Domain struct {
	Type     domain.MetricDomainType `json:"domain_type"`
	Kwargs   domain.Kwargs           `json:"domain_kwargs"`
	RuleName string                  `json:"rule_name,omitempty"`
}

// ID is the canonical identity of the domain.
func (d Domain) ID() string {
	return metric.CanonicalID(domain.Kwargs{
		"domain_type":   string(d.Type),
		"domain_kwargs": map[string]any(d.Kwargs),
		"rule_name":     d.RuleName,
	})
}

// VariablesMarker is the single name reported for the variables namespace
// when enumerating, whatever the depth of the variables tree.
const VariablesMarker = Sigil + RootVariables + Separator + RootVariables

// Namespace pairs the variables container with one parameter container per
// domain.
type Namespace struct {
	Variables *Container

	mu         sync.Mutex
	parameters map[string]*Container
}

// NewNamespace returns a namespace whose variables tree holds vars.
func NewNamespace(vars map[string]any) *Namespace {
	ns := &Namespace{Variables: NewContainer(), parameters: map[string]*Container{}}
	if len(vars) > 0 {
		ns.Variables.SetRoot(RootVariables, ToNode(map[string]any(vars)).(Node))
	}
	return ns
}

// Parameters returns the container of dom, creating it on first use.
func (ns *Namespace) Parameters(dom Domain) *Container {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	id := dom.ID()
	c, ok := ns.parameters[id]
	if !ok {
		c = NewContainer()
		ns.parameters[id] = c
	}
	return c
}

func (ns *Namespace) lookupParameters(dom Domain) (*Container, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	c, ok := ns.parameters[dom.ID()]
	return c, ok
}

// Get resolves a fully-qualified name. $domain.domain_kwargs reads the
// active domain's kwargs; $variables reads the variables tree; $parameter
// reads the container of dom.
func (ns *Namespace) Get(fqn string, dom Domain) (any, error) {
	name, err := ParseName(fqn)
	if err != nil {
		return nil, err
	}
	path := steps(name.Segments)

	var root any
	switch name.Root() {
	case RootDomain:
		if len(name.Segments) < 2 || name.Segments[1].Name != DomainKwargs {
			return nil, domain.ErrProfilerExecution("parameter name %q must address %s", fqn, DomainKwargsName)
		}
		// Skip the "domain" and "domain_kwargs" steps.
		root, path = map[string]any(dom.Kwargs), path[2:]
		if dom.Kwargs == nil {
			root = map[string]any{}
		}
	case RootVariables:
		n, ok := ns.Variables.Root(RootVariables)
		if !ok {
			return nil, &domain.ParameterNotFoundError{Name: fqn, Segment: name.Segments[0].Raw}
		}
		root, path = n, path[1:]
	case RootParameter:
		c, ok := ns.lookupParameters(dom)
		if !ok {
			return nil, &domain.ParameterNotFoundError{Name: fqn, Segment: name.Segments[0].Raw}
		}
		n, ok := c.Root(RootParameter)
		if !ok {
			return nil, &domain.ParameterNotFoundError{Name: fqn, Segment: name.Segments[0].Raw}
		}
		root, path = n, path[1:]
	default:
		return nil, unknownRoot(fqn)
	}
	if len(name.Segments[0].Accessors) > 0 {
		return nil, domain.ErrParameterNameParser("unable to parse parameter name %q: the namespace root takes no accessors", fqn)
	}

	v, segment, ok := lookup(root, path)
	if !ok {
		return nil, &domain.ParameterNotFoundError{Name: fqn, Segment: segment}
	}
	return v, nil
}

// Set writes value at fqn, creating intermediate levels. Only the
// variables and parameter namespaces are writable.
func (ns *Namespace) Set(fqn string, value any, dom Domain) error {
	name, err := ParseName(fqn)
	if err != nil {
		return err
	}
	if len(name.Segments[0].Accessors) > 0 {
		return domain.ErrParameterNameParser("unable to parse parameter name %q: the namespace root takes no accessors", fqn)
	}
	if len(name.Segments) < 2 {
		return domain.ErrProfilerExecution("parameter name %q must name a key below its namespace", fqn)
	}

	var c *Container
	switch name.Root() {
	case RootVariables:
		c = ns.Variables
	case RootParameter:
		c = ns.Parameters(dom)
	case RootDomain:
		return domain.ErrProfilerExecution("parameter name %q is read-only", fqn)
	default:
		return unknownRoot(fqn)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var cur any
	if n, ok := c.roots[name.Root()]; ok {
		cur = n
	}
	updated, err := assign(cur, steps(name.Segments)[1:], value)
	if err != nil {
		return err
	}
	c.roots[name.Root()] = updated.(Node)
	return nil
}

// SetAll writes every name/value pair, stopping at the first failure.
func (ns *Namespace) SetAll(values map[string]any, dom Domain) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ns.Set(name, values[name], dom); err != nil {
			return err
		}
	}
	return nil
}

// Names enumerates the fully-qualified names visible from dom, sorted in
// descending order. Descent stops at the first reserved terminal literal
// (value, attributed_value, details), which ends the name. The variables
// namespace contributes only VariablesMarker.
func (ns *Namespace) Names(dom Domain) []string {
	seen := map[string]bool{}
	if _, ok := ns.Variables.Root(RootVariables); ok {
		seen[VariablesMarker] = true
	}
	if c, ok := ns.lookupParameters(dom); ok {
		for _, root := range c.RootNames() {
			n, _ := c.Root(root)
			c.mu.RLock()
			collectNames(n, []string{root}, seen)
			c.mu.RUnlock()
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

func collectNames(n Node, prefix []string, seen map[string]bool) {
	for key, v := range n {
		parts := append(append([]string(nil), prefix...), key)
		if reservedTerminals[key] {
			seen[Sigil+strings.Join(parts, Separator)] = true
			continue
		}
		if child, ok := v.(Node); ok && len(child) > 0 {
			collectNames(child, parts, seen)
			continue
		}
		seen[Sigil+strings.Join(parts, Separator)] = true
	}
}

// Values resolves every name Names reports. VariablesMarker maps to the
// whole variables tree.
func (ns *Namespace) Values(dom Domain) (map[string]any, error) {
	out := map[string]any{}
	for _, name := range ns.Names(dom) {
		if name == VariablesMarker {
			n, _ := ns.Variables.Root(RootVariables)
			out[name] = n
			continue
		}
		v, err := ns.Get(name, dom)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Resolve replaces every fully-qualified name found in v (recursively through
// lists and mappings) with its value. Other strings pass through unchanged.
func (ns *Namespace) Resolve(v any, dom Domain) (any, error) {
	switch t := v.(type) {
	case string:
		if !IsFullyQualified(t) {
			return t, nil
		}
		return ns.Get(t, dom)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := ns.Resolve(item, dom)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		return ns.resolveMap(t, dom)
	case domain.Kwargs:
		m, err := ns.resolveMap(t, dom)
		if err != nil {
			return nil, err
		}
		return domain.Kwargs(m), nil
	default:
		return v, nil
	}
}

func (ns *Namespace) resolveMap(m map[string]any, dom Domain) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, item := range m {
		r, err := ns.Resolve(item, dom)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

// Snapshot returns the variables tree and every domain's parameter
// container keyed by domain ID, for serialisation at the end of a run.
func (ns *Namespace) Snapshot() map[string]*Container {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make(map[string]*Container, len(ns.parameters)+1)
	for id, c := range ns.parameters {
		out[id] = c
	}
	out[RootVariables] = ns.Variables
	return out
}

func unknownRoot(fqn string) error {
	return domain.ErrProfilerExecution("parameter name %q must start with %s%s, %s%s or %s",
		fqn, Sigil, RootVariables, Sigil, RootParameter, DomainKwargsName)
}
