package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/batches.db")
	assert.True(t, strings.HasPrefix(dsn, "/tmp/batches.db?"))
	for _, want := range []string{"_journal_mode=WAL", "_busy_timeout=5000", "_synchronous=OFF", "_cslike=true"} {
		assert.Contains(t, dsn, want)
	}
}

func TestOpen_SQLite(t *testing.T) {
	pool, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "batches.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	assert.Equal(t, defaultMaxOpen, pool.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, pool.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))

	var matched bool
	require.NoError(t, pool.QueryRow("SELECT 'Abc' LIKE 'a%'").Scan(&matched))
	assert.False(t, matched, "LIKE is case-sensitive")
}

func TestOpen_SQLiteErrors(t *testing.T) {
	_, err := Open(DriverSQLite, "", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a database file path")

	_, err = Open(DriverSQLite, "/nonexistent/dir/batches.db", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite3")
}

func TestOpen_DuckDBInMemoryIsSharedAcrossConnections(t *testing.T) {
	pool, err := Open(DriverDuckDB, "", 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec("CREATE TABLE t (n INTEGER)")
	require.NoError(t, err)
	_, err = pool.Exec("INSERT INTO t VALUES (1), (2)")
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, pool.Stats().MaxOpenConnections)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
