// Package sqlengine implements the query-generating execution backend over
// database/sql. Metrics compile to SQL predicates and aggregates that are
// pushed down to DuckDB or SQLite.
package sqlengine

import (
	"fmt"
	"strings"

	"duck-expect/internal/ddl"
	"duck-expect/internal/domain"
)

// Dialect selects the SQL flavour.
type Dialect string

// Supported dialects.
const (
	DialectDuckDB Dialect = "duckdb"
	DialectSQLite Dialect = "sqlite"
)

// RowIDColumn is projected by every domain selectable and holds the 0-based
// position of the row in the loaded table.
const RowIDColumn = "__row_id"

// unexpectedColumn flags unexpected rows inside realization subqueries.
const unexpectedColumn = "__unexpected"

// ConditionParser is the condition_parser value for raw SQL row conditions.
const ConditionParser = "sql"

// ParseDialect maps a name to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case DialectDuckDB, DialectSQLite:
		return d, nil
	default:
		return "", domain.ErrValidation("unsupported SQL dialect %q (expected duckdb or sqlite)", s)
	}
}

// DriverName returns the database/sql driver name.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "duckdb"
}

func (d Dialect) rowIDExpr() string {
	if d == DialectSQLite {
		return "(rowid - 1)"
	}
	return "rowid"
}

// Selectable is a SELECT statement used as a FROM-clause subquery. Every
// selectable projects RowIDColumn followed by the table columns.
type Selectable struct {
	Query string
}

// From renders the selectable as an aliased subquery.
func (s Selectable) From(alias string) string {
	return fmt.Sprintf("(%s) AS %s", s.Query, alias)
}

// Where narrows the selectable with an extra predicate.
func (s Selectable) Where(pred string) Selectable {
	return Selectable{Query: fmt.Sprintf("SELECT * FROM %s WHERE %s", s.From("w"), pred)}
}

// Condition is an unexpected-row predicate bound to the selectable it must
// be evaluated over. Window conditions reference window functions and can
// only be evaluated in a projection.
type Condition struct {
	SQL    string
	Window bool
	From   Selectable
}

// Unexpected returns a selectable over the rows of c.From for which the
// condition holds. The projection keeps RowIDColumn so callers can order by it.
func (c Condition) Unexpected() Selectable {
	flag := Quote(unexpectedColumn)
	return Selectable{Query: fmt.Sprintf(
		"SELECT * FROM (SELECT d.*, CASE WHEN %s THEN 1 ELSE 0 END AS %s FROM %s) AS t WHERE %s = 1",
		c.SQL, flag, c.From.From("d"), flag,
	)}
}

// IsInternalColumn reports whether name is a bookkeeping column added by
// the engine rather than a table column.
func IsInternalColumn(name string) bool {
	return name == RowIDColumn || name == unexpectedColumn
}

// Expression is a function-partial column expression.
type Expression struct {
	SQL    string
	Window bool
	From   Selectable
}

// Aggregate is one aggregate expression bundled with others that share From.
type Aggregate struct {
	Expr string
	From Selectable
}

// Quote quotes an identifier.
func Quote(name string) string {
	return ddl.QuoteIdentifier(name)
}

// Literal renders a Go value as a SQL literal.
func Literal(v any) (string, error) {
	switch n := domain.NormalizeValue(v).(type) {
	case nil:
		return "NULL", nil
	case bool:
		if n {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int64:
		return fmt.Sprintf("%d", n), nil
	case float64:
		return fmt.Sprintf("%v", n), nil
	case string:
		return ddl.QuoteLiteral(n), nil
	default:
		return "", domain.ErrValidation("cannot render %T as a SQL literal", v)
	}
}

// LiteralList renders values as a comma-separated literal list.
func LiteralList(values []any) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		lit, err := Literal(v)
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return strings.Join(parts, ", "), nil
}
