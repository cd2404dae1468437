// Package ddl builds the DDL and DML used to materialize batches as SQL tables.
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// Batch tables are plain unqualified names so they resolve the same way on
// DuckDB and SQLite.
var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// columnTypeRe splits a type into its base name and optional (p) or (p, s).
var columnTypeRe = regexp.MustCompile(`^([A-Za-z]+)(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?$`)

const maxTableNameLen = 128

// columnTypes lists the base types a batch column may be declared with.
// The bool reports whether the type takes a precision.
var columnTypes = map[string]bool{
	"BIGINT":    false,
	"INTEGER":   false,
	"DOUBLE":    false,
	"REAL":      false,
	"BOOLEAN":   false,
	"DATE":      false,
	"TIMESTAMP": false,
	"BLOB":      false,
	"TEXT":      false,
	"VARCHAR":   true,
	"DECIMAL":   true,
	"NUMERIC":   true,
}

// ValidateTableName rejects batch table names that would need quoting to be
// portable, or that exceed 128 characters.
func ValidateTableName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("invalid table name: a batch table needs a name")
	case len(name) > maxTableNameLen:
		return fmt.Errorf("invalid table name %.16q...: longer than %d characters", name, maxTableNameLen)
	case !tableNameRe.MatchString(name):
		return fmt.Errorf("invalid table name %q: use letters, digits and underscores, not starting with a digit", name)
	}
	return nil
}

// QuoteIdentifier quotes a column or table name. Column names come from file
// headers, so they are quoted rather than validated.
func QuoteIdentifier(name string) string { return quote(name, '"') }

// QuoteLiteral renders a string as a SQL string literal.
func QuoteLiteral(value string) string { return quote(value, '\'') }

func quote(s string, q byte) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(q)
	for i := 0; i < len(s); i++ {
		if s[i] == q {
			b.WriteByte(q)
		}
		b.WriteByte(s[i])
	}
	b.WriteByte(q)
	return b.String()
}

// ValidateColumnType accepts the portable base types, with a precision only
// for VARCHAR, DECIMAL and NUMERIC.
func ValidateColumnType(typeName string) error {
	if typeName == "" {
		return fmt.Errorf("column type is required")
	}
	m := columnTypeRe.FindStringSubmatch(typeName)
	if m == nil {
		return fmt.Errorf("column type %q is not a base type with an optional precision", typeName)
	}
	base := strings.ToUpper(m[1])
	takesPrecision, ok := columnTypes[base]
	if !ok {
		return fmt.Errorf("column type %q is not supported for batch tables", typeName)
	}
	if m[2] != "" && !takesPrecision {
		return fmt.Errorf("column type %s does not take a precision", base)
	}
	if m[3] != "" && base == "VARCHAR" {
		return fmt.Errorf("column type VARCHAR takes a single length")
	}
	return nil
}

// SQLType maps an inferred value kind (int64, float64, string, bool, null,
// object) to a column type understood by both DuckDB and SQLite.
func SQLType(kind string) string {
	switch kind {
	case "int64":
		return "BIGINT"
	case "float64":
		return "DOUBLE"
	case "bool":
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}
