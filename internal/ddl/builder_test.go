package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTable(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []ColumnDef
		want    string
		wantErr string
	}{
		{
			name:    "valid",
			table:   "batch_1",
			columns: []ColumnDef{{Name: "id", Type: "BIGINT"}, {Name: "first name", Type: "VARCHAR"}},
			want:    `CREATE TABLE "batch_1" ("id" BIGINT, "first name" VARCHAR)`,
		},
		{
			name:    "bad_table",
			table:   "batch-1",
			columns: []ColumnDef{{Name: "id", Type: "BIGINT"}},
			wantErr: "invalid table name",
		},
		{
			name:    "no_columns",
			table:   "t",
			wantErr: "at least one column",
		},
		{
			name:    "duplicate_column",
			table:   "t",
			columns: []ColumnDef{{Name: "a", Type: "BIGINT"}, {Name: "a", Type: "DOUBLE"}},
			wantErr: "duplicate column",
		},
		{
			name:    "bad_type",
			table:   "t",
			columns: []ColumnDef{{Name: "a", Type: "BIGINT); DROP TABLE t"}},
			wantErr: "invalid type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateTable(tt.table, tt.columns)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDropTable(t *testing.T) {
	got, err := DropTable("batch_1")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "batch_1"`, got)

	_, err = DropTable("")
	require.Error(t, err)
}

func TestInsertRows(t *testing.T) {
	got, err := InsertRows("t", []string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "t" ("a", "b") VALUES (?, ?), (?, ?)`, got)

	_, err = InsertRows("t", nil, 1)
	require.Error(t, err)
	_, err = InsertRows("t", []string{"a"}, 0)
	require.Error(t, err)
}
