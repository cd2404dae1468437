package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name string
	Type string
}

// CreateTable returns CREATE TABLE "<table>" ("<col1>" TYPE1, ...).
func CreateTable(table string, columns []ColumnDef) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	colDefs := make([]string, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return "", fmt.Errorf("column name is required")
		}
		if seen[c.Name] {
			return "", fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if err := ValidateColumnType(c.Type); err != nil {
			return "", fmt.Errorf("invalid type for column %q: %w", c.Name, err)
		}
		colDefs = append(colDefs, fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdentifier(table), strings.Join(colDefs, ", ")), nil
}

// DropTable returns DROP TABLE IF EXISTS "<table>".
func DropTable(table string) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(table)), nil
}

// InsertRows returns a parameterised multi-row INSERT for rowCount rows.
func InsertRows(table string, columns []string, rowCount int) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	if rowCount <= 0 {
		return "", fmt.Errorf("row count must be positive")
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	values := make([]string, rowCount)
	for i := range values {
		values[i] = placeholder
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(values, ", ")), nil
}
