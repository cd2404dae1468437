package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"duck-expect/internal/batch"
	"duck-expect/internal/builtin"
	"duck-expect/internal/db"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/engine/memory"
	"duck-expect/internal/engine/sqlengine"
	"duck-expect/internal/metric"
	"duck-expect/internal/udf"
)

// newRegistry returns the builtin provider registry for every backend.
func newRegistry() (*metric.Registry, error) {
	return builtin.NewRegistry(builtin.WithUDFRuntime(udf.NewRuntime()))
}

// loadBatch reads the batch at uri through the configured object stores.
func (a *app) loadBatch(ctx context.Context, uri, batchID string) (*batch.Batch, error) {
	router, err := batch.NewRouterFromConfig(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("configure batch sources: %w", err)
	}
	b, err := batch.Load(ctx, router, uri, batchID)
	if err != nil {
		return nil, err
	}
	a.logger.Info("batch loaded", "uri", uri, "batch_id", b.ID, "rows", b.Frame.Len(), "columns", len(b.Frame.Columns()))
	return b, nil
}

// newEngine builds the named backend with b loaded as its only batch. The
// returned cleanup releases database handles and temporary files.
func (a *app) newEngine(ctx context.Context, backend metric.Backend, reg *metric.Registry, b *batch.Batch) (metric.Engine, func(), error) {
	noop := func() {}
	workers := a.cfg.MaxWorkers
	switch backend {
	case metric.BackendMemory:
		eng := memory.New(reg, memory.WithLogger(a.logger), memory.WithMaxWorkers(workers))
		eng.LoadBatch(b.ID, b.Frame)
		return eng, noop, nil

	case metric.BackendLazy:
		f, err := batch.Partition(b.Frame, workers, workers)
		if err != nil {
			return nil, nil, err
		}
		eng := lazy.New(reg, lazy.WithLogger(a.logger), lazy.WithMaxWorkers(workers))
		eng.LoadBatch(b.ID, f)
		return eng, noop, nil

	case metric.BackendSQL:
		dialect, err := sqlengine.ParseDialect(a.cfg.SQLDialect)
		if err != nil {
			return nil, nil, err
		}
		dsn := a.cfg.SQLDSN
		cleanup := noop
		if dsn == "" && dialect == sqlengine.DialectSQLite {
			dir, err := os.MkdirTemp("", "duck-expect-*")
			if err != nil {
				return nil, nil, fmt.Errorf("create sqlite scratch dir: %w", err)
			}
			dsn = filepath.Join(dir, "batches.db")
			cleanup = func() { _ = os.RemoveAll(dir) }
		}
		conn, err := db.Open(dialect.DriverName(), dsn, workers)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		release := func() {
			_ = conn.Close()
			cleanup()
		}

		table := batch.TableName(b.ID)
		if err := batch.LoadSQL(ctx, conn, table, b.Frame); err != nil {
			release()
			return nil, nil, err
		}
		if a.cfg.SQLDSN != "" {
			// A configured database persists, so the batch table is dropped on release.
			closeConn := release
			release = func() {
				if err := batch.DropSQL(context.WithoutCancel(ctx), conn, table); err != nil {
					a.logger.Warn("could not drop batch table", "table", table, "error", err)
				}
				closeConn()
			}
		}
		eng := sqlengine.New(conn, dialect, reg,
			sqlengine.WithLogger(a.logger),
			sqlengine.WithMetrics(a.metrics),
			sqlengine.WithMaxWorkers(workers),
		)
		if err := eng.RegisterBatch(b.ID, table); err != nil {
			release()
			return nil, nil, err
		}
		a.logger.Debug("batch materialized", "dialect", string(dialect), "table", table)
		return eng, release, nil

	default:
		return nil, nil, fmt.Errorf("unsupported engine %q", backend)
	}
}
