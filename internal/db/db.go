// Package db opens the database pools the SQL backend runs against.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver
)

// Driver names accepted by Open.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite3"
)

const (
	defaultMaxOpen = 4
	pingTimeout    = 5 * time.Second

	sqliteBusyTimeout = "5000" // ms
)

// Open opens a pool for driver with at most maxOpen connections (4 when
// maxOpen is not positive) and pings it.
//
// For DuckDB an empty dsn opens an in-memory database shared by every
// connection of the pool. SQLite needs a file path: batches are read by
// several connections at once, which an unshared :memory: database cannot
// serve.
func Open(driver, dsn string, maxOpen int) (*sql.DB, error) {
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpen
	}
	var source string
	switch driver {
	case DriverDuckDB:
		source = dsn
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite requires a database file path")
		}
		source = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	pool, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxOpen)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return pool, nil
}

// sqliteDSN tunes SQLite for scratch batch tables: WAL so readers never
// block each other, no fsync and case-sensitive LIKE to match DuckDB.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", sqliteBusyTimeout)
	params.Set("_synchronous", "OFF")
	params.Set("_cslike", "true")
	return path + "?" + params.Encode()
}
