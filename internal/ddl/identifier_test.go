package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTableName(t *testing.T) {
	for _, ok := range []string{"batch_1", "_scratch", "Trips2024", strings.Repeat("b", 128)} {
		assert.NoError(t, ValidateTableName(ok), ok)
	}

	tests := []struct{ in, want string }{
		{"", "needs a name"},
		{strings.Repeat("b", 129), "longer than 128 characters"},
		{"2024_trips", "not starting with a digit"},
		{"batch 1", `"batch 1"`},
		{"batch-1", "letters, digits and underscores"},
		{"main.batch", "letters, digits and underscores"},
		{`batch"1`, "letters, digits and underscores"},
		{"b; DROP TABLE t", "letters, digits and underscores"},
	}
	for _, tt := range tests {
		err := ValidateTableName(tt.in)
		require.Error(t, err, tt.in)
		assert.Contains(t, err.Error(), "invalid table name", tt.in)
		assert.Contains(t, err.Error(), tt.want, tt.in)
	}
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"fare"`, QuoteIdentifier("fare"))
	assert.Equal(t, `"pickup ""zone"""`, QuoteIdentifier(`pickup "zone"`))
	assert.Equal(t, `""`, QuoteIdentifier(""))

	assert.Equal(t, "'oslo'", QuoteLiteral("oslo"))
	assert.Equal(t, "'o''brien'", QuoteLiteral("o'brien"))
	assert.Equal(t, `'C:\data'`, QuoteLiteral(`C:\data`))
	assert.Equal(t, "'%o''k%'", QuoteLiteral("%o'k%"))
}

func TestValidateColumnType(t *testing.T) {
	for _, ok := range []string{
		"BIGINT", "DOUBLE", "VARCHAR", "BOOLEAN", "varchar", "VARCHAR(255)",
		"DECIMAL(10,2)", "NUMERIC(18, 4)", "TIMESTAMP", "text",
	} {
		assert.NoError(t, ValidateColumnType(ok), ok)
	}

	tests := []struct{ in, want string }{
		{"", "column type is required"},
		{"BIGINT); DROP TABLE batch_1; --", "not a base type"},
		{"VARCHAR'", "not a base type"},
		{"DOUBLE -- x", "not a base type"},
		{"123", "not a base type"},
		{"DECIMAL((10))", "not a base type"},
		{"BIGINT[]", "not a base type"},
		{"TIMESTAMP WITH TIME ZONE", "not a base type"},
		{"JSON", "not supported for batch tables"},
		{"BIGINT(8)", "does not take a precision"},
		{"VARCHAR(10, 2)", "single length"},
	}
	for _, tt := range tests {
		err := ValidateColumnType(tt.in)
		require.Error(t, err, tt.in)
		assert.Contains(t, err.Error(), tt.want, tt.in)
	}
}

func TestSQLType(t *testing.T) {
	for kind, want := range map[string]string{
		"int64": "BIGINT", "float64": "DOUBLE", "bool": "BOOLEAN",
		"string": "VARCHAR", "null": "VARCHAR", "object": "VARCHAR",
	} {
		assert.Equal(t, want, SQLType(kind), kind)
		assert.NoError(t, ValidateColumnType(SQLType(kind)))
	}
}
