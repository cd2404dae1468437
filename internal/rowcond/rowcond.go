// Package rowcond compiles row_condition expressions for the in-memory and
// lazy backends. Expressions are CEL: every column is bound as a variable of
// dynamic type and the whole row is also available as the map `row`.
package rowcond

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"

	"duck-expect/internal/domain"
)

// Parser is the condition_parser value that selects CEL.
const Parser = "cel"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Condition is a compiled row predicate.
type Condition struct {
	expr    string
	columns []string
	program cel.Program
}

// Compile checks expr against the column set and returns a reusable
// Condition. Expressions whose checked type is known and not boolean are
// rejected; dynamic results must be boolean at evaluation to match.
func Compile(expr string, columns []string) (*Condition, error) {
	opts := []cel.EnvOption{cel.Variable("row", cel.MapType(cel.StringType, cel.DynType))}
	bound := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == "row" || !identRe.MatchString(col) {
			continue
		}
		opts = append(opts, cel.Variable(col, cel.DynType))
		bound = append(bound, col)
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create condition env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, domain.ErrValidation("invalid row_condition %q: %v", expr, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, domain.ErrValidation("row_condition %q must evaluate to a boolean, got %s", expr, t)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build condition program: %w", err)
	}
	return &Condition{expr: expr, columns: bound, program: prg}, nil
}

// Match evaluates the condition on one row. Evaluation errors (for example
// comparing a null) count as no match.
func (c *Condition) Match(row map[string]any) bool {
	vars := make(map[string]any, len(c.columns)+1)
	vars["row"] = row
	for _, col := range c.columns {
		vars[col] = row[col]
	}
	out, _, err := c.program.Eval(vars)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// String returns the source expression.
func (c *Condition) String() string { return c.expr }

// Cache memoises compiled conditions by expression and column set.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*Condition
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{items: map[string]*Condition{}}
}

// Get returns a compiled condition, compiling on first use.
func (c *Cache) Get(expr string, columns []string) (*Condition, error) {
	key := fmt.Sprintf("%s\x00%v", expr, columns)

	c.mu.RLock()
	cond, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return cond, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cond, ok := c.items[key]; ok {
		return cond, nil
	}
	cond, err := Compile(expr, columns)
	if err != nil {
		return nil, err
	}
	c.items[key] = cond
	return cond, nil
}
