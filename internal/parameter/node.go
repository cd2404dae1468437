package parameter

import (
	"encoding/json"
	"sort"
	"sync"

	"duck-expect/internal/domain"
)

// Node is one level of a parameter tree. Values are scalars, []any lists or
// nested Nodes; plain maps written into a tree are converted to Nodes.
type Node map[string]any

// ToNode converts v and every mapping nested in it to Node form.
func ToNode(v any) any {
	switch t := v.(type) {
	case Node:
		out := make(Node, len(t))
		for k, item := range t {
			out[k] = ToNode(item)
		}
		return out
	case map[string]any:
		return ToNode(Node(t))
	case domain.Kwargs:
		return ToNode(Node(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToNode(item)
		}
		return out
	default:
		return v
	}
}

// Container holds the parameter trees of one scope keyed by root name
// ("variables" or "parameter"). It is safe for concurrent use.
type Container struct {
	mu    sync.RWMutex
	roots map[string]Node
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{roots: map[string]Node{}}
}

// Root returns the tree stored under name.
func (c *Container) Root(name string) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.roots[name]
	return n, ok
}

// SetRoot replaces the tree stored under name.
func (c *Container) SetRoot(name string, n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots[name] = n
}

// RootNames returns the sorted root names.
func (c *Container) RootNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.roots))
	for name := range c.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON serialises every root tree.
func (c *Container) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.roots)
}

// step is one lookup applied while walking a tree.
type step struct {
	key     string
	index   int
	isIndex bool
	segment string
}

// steps flattens segments into lookups, tagging each with the raw segment
// it came from for error reporting.
func steps(segments []Segment) []step {
	var out []step
	for _, seg := range segments {
		out = append(out, step{key: seg.Name, segment: seg.Name})
		for i, a := range seg.Accessors {
			out = append(out, step{key: a.Key, index: a.Index, isIndex: a.IsIndex, segment: seg.Through(i)})
		}
	}
	return out
}

// lookup walks cur along path. On failure it returns the segment text up to
// the accessor whose lookup failed.
func lookup(cur any, path []step) (any, string, bool) {
	for _, st := range path {
		if st.isIndex {
			list, ok := cur.([]any)
			if !ok {
				return nil, st.segment, false
			}
			i := st.index
			if i < 0 {
				i += len(list)
			}
			if i < 0 || i >= len(list) {
				return nil, st.segment, false
			}
			cur = list[i]
			continue
		}
		var (
			next any
			ok   bool
		)
		switch m := cur.(type) {
		case Node:
			next, ok = m[st.key]
		case map[string]any:
			next, ok = m[st.key]
		case domain.Kwargs:
			next, ok = m[st.key]
		}
		if !ok {
			return nil, st.segment, false
		}
		cur = next
	}
	return cur, "", true
}

// assign writes value at path below cur and returns the updated cur.
// Missing levels are created: lists for index steps, Nodes for key steps.
func assign(cur any, path []step, value any) (any, error) {
	if len(path) == 0 {
		return ToNode(value), nil
	}
	st := path[0]
	if st.isIndex {
		var list []any
		if cur != nil {
			l, ok := cur.([]any)
			if !ok {
				return nil, domain.ErrProfilerExecution("cannot index into %T at %q", cur, st.segment)
			}
			list = l
		}
		i := st.index
		if i < 0 {
			i += len(list)
			if i < 0 {
				return nil, domain.ErrProfilerExecution("index %d is out of range at %q", st.index, st.segment)
			}
		}
		for len(list) <= i {
			list = append(list, nil)
		}
		child, err := assign(list[i], path[1:], value)
		if err != nil {
			return nil, err
		}
		list[i] = child
		return list, nil
	}

	var n Node
	switch t := cur.(type) {
	case nil:
		n = Node{}
	case Node:
		n = t
	case map[string]any:
		n = Node(t)
	default:
		return nil, domain.ErrProfilerExecution("cannot set key %q on %T at %q", st.key, cur, st.segment)
	}
	child, err := assign(n[st.key], path[1:], value)
	if err != nil {
		return nil, err
	}
	n[st.key] = child
	return n, nil
}
