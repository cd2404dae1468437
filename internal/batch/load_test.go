package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/db"
	"duck-expect/internal/domain"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
)

const usersCSV = `id,name,score,active,note
1,ann,1.5,true,
2,bob,,false,x
3,,2,true,
`

func TestReadCSV_InfersColumnTypes(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(usersCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "score", "active", "note"}, f.Columns())
	assert.Equal(t, 3, f.Len())

	want := map[string][]any{
		"id":     {int64(1), int64(2), int64(3)},
		"name":   {"ann", "bob", nil},
		"score":  {1.5, nil, 2.0},
		"active": {true, false, true},
		"note":   {nil, "x", nil},
	}
	for col, values := range want {
		got, err := f.Column(col)
		require.NoError(t, err)
		assert.Equal(t, values, got, col)
	}
}

func TestReadCSV_MixedColumnFallsBackToString(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("v\n1\n1.5\ntrue\n"))
	require.NoError(t, err)
	got, err := f.Column("v")
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "1.5", "true"}, got)
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = ReadCSV(strings.NewReader("a,\n1,2\n"))
	assert.True(t, errors.As(err, &ve))

	_, err = ReadCSV(strings.NewReader("a,b\n1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(p, []byte(usersCSV), 0o600))

	b, err := Load(context.Background(), NewRouter(), p, "")
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, p, b.URI)
	assert.Equal(t, 3, b.Frame.Len())

	b, err = Load(context.Background(), NewRouter(), p, "users-2024")
	require.NoError(t, err)
	assert.Equal(t, "users-2024", b.ID)

	_, err = Load(context.Background(), NewRouter(), "users.parquet", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported batch format")
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "batch_users_2024", TableName("users-2024"))
	id := NewID()
	assert.Equal(t, "batch_"+strings.ReplaceAll(id, "-", "_"), TableName(id))
}

func TestLoadSQL_PreservesRowOrder(t *testing.T) {
	frame, err := memory.NewFrame([]string{"n", "label", "tags"}, [][]any{
		{int64(30), "c", []any{"x"}},
		{int64(10), "a", nil},
		{nil, "b", map[string]any{"k": int64(1)}},
	})
	require.NoError(t, err)

	for _, dialect := range []sqlengine.Dialect{sqlengine.DialectSQLite, sqlengine.DialectDuckDB} {
		t.Run(string(dialect), func(t *testing.T) {
			dsn := ""
			if dialect == sqlengine.DialectSQLite {
				dsn = filepath.Join(t.TempDir(), "batches.db")
			}
			conn, err := db.Open(dialect.DriverName(), dsn, 1)
			require.NoError(t, err)
			t.Cleanup(func() { conn.Close() })

			require.NoError(t, LoadSQL(context.Background(), conn, "batch_t", frame))

			eng := sqlengine.New(conn, dialect, metric.NewRegistry())
			require.NoError(t, eng.RegisterBatch("t", "batch_t"))
			sel, err := eng.GetDomainRecords(domain.Kwargs{})
			require.NoError(t, err)
			rows, err := eng.Query(context.Background(), "test",
				"SELECT "+sqlengine.Quote(sqlengine.RowIDColumn)+", n, label, tags FROM "+sel.From("d")+" ORDER BY 1")
			require.NoError(t, err)

			assert.Equal(t, [][]any{
				{int64(0), int64(30), "c", `["x"]`},
				{int64(1), int64(10), "a", nil},
				{int64(2), nil, "b", `{"k":1}`},
			}, rows.Rows)
		})
	}
}

func TestLoadSQL_RejectsBadTableName(t *testing.T) {
	conn, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "b.db"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frame, err := memory.NewFrame([]string{"a"}, [][]any{{int64(1)}})
	require.NoError(t, err)
	err = LoadSQL(context.Background(), conn, "users; DROP TABLE x", frame)
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestDropSQL_AllowsReload(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "b.db"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frame, err := memory.NewFrame([]string{"a"}, [][]any{{int64(1)}})
	require.NoError(t, err)
	require.NoError(t, LoadSQL(ctx, conn, "batch_x", frame))
	require.Error(t, LoadSQL(ctx, conn, "batch_x", frame), "table already exists")

	require.NoError(t, DropSQL(ctx, conn, "batch_x"))
	require.NoError(t, DropSQL(ctx, conn, "batch_x"))
	require.NoError(t, LoadSQL(ctx, conn, "batch_x", frame))
}

func TestPartition(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader("v\n1\n2\n3\n4\n5\n"))
	require.NoError(t, err)

	lf, err := Partition(frame, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, lf.NumPartitions())

	n, err := lf.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	values, err := lf.Column(context.Background(), "v")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, values)
}
