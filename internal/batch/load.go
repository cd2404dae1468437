package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"duck-expect/internal/ddl"
	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/engine/memory"
)

// Batch is a loaded batch and its identifier.
type Batch struct {
	ID    string
	URI   string
	Frame *memory.Frame
}

// NewID returns a fresh batch id.
func NewID() string {
	return uuid.NewString()
}

// TableName derives a SQL table name from a batch id.
func TableName(batchID string) string {
	var b strings.Builder
	b.WriteString("batch_")
	for _, r := range batchID {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Load reads the CSV at uri through src. An empty batchID gets a fresh one.
func Load(ctx context.Context, src Source, uri, batchID string) (*Batch, error) {
	if ext := strings.ToLower(path.Ext(uri)); ext != ".csv" && ext != "" {
		return nil, domain.ErrValidation("unsupported batch format %q (only CSV is supported)", ext)
	}
	rc, err := src.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	f, err := ReadCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", uri, err)
	}
	if batchID == "" {
		batchID = NewID()
	}
	return &Batch{ID: batchID, URI: uri, Frame: f}, nil
}

// maxInsertParams keeps each INSERT under SQLite's bound-parameter limit.
const (
	maxInsertParams = 30000
	maxInsertRows   = 500
)

// LoadSQL materializes f as a new table. Rows are inserted in frame order so
// the table's rowid matches the frame position.
func LoadSQL(ctx context.Context, db *sql.DB, table string, f *memory.Frame) error {
	columns := f.Columns()
	data := make([][]any, len(columns))
	defs := make([]ddl.ColumnDef, len(columns))
	for j, col := range columns {
		values, err := f.Column(col)
		if err != nil {
			return err
		}
		kind := memory.InferType(values)
		defs[j] = ddl.ColumnDef{Name: col, Type: ddl.SQLType(kind)}
		if kind == "object" {
			if values, err = encodeObjects(values); err != nil {
				return fmt.Errorf("encode column %q: %w", col, err)
			}
		}
		data[j] = values
	}

	create, err := ddl.CreateTable(table, defs)
	if err != nil {
		return domain.ErrValidation("create table %q: %v", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	chunk := min(maxInsertRows, max(1, maxInsertParams/len(columns)))
	for start := 0; start < f.Len(); start += chunk {
		end := min(start+chunk, f.Len())
		stmt, err := ddl.InsertRows(table, columns, end-start)
		if err != nil {
			return err
		}
		args := make([]any, 0, (end-start)*len(columns))
		for i := start; i < end; i++ {
			for j := range columns {
				args = append(args, data[j][i])
			}
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d into %s: %w", start, end-1, table, err)
		}
	}
	return tx.Commit()
}

// DropSQL removes a table created by LoadSQL. Missing tables are ignored.
func DropSQL(ctx context.Context, db *sql.DB, table string) error {
	stmt, err := ddl.DropTable(table)
	if err != nil {
		return domain.ErrValidation("drop table %q: %v", table, err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

func encodeObjects(values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		switch v := v.(type) {
		case nil:
		case string:
			out[i] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			out[i] = string(b)
		}
	}
	return out, nil
}

// Partition splits f into n lazy partitions evaluated by up to workers
// goroutines.
func Partition(f *memory.Frame, n, workers int) (*lazy.Frame, error) {
	columns := f.Columns()
	rows := make([][]any, f.Len())
	for i := range rows {
		rows[i] = make([]any, len(columns))
	}
	for j, col := range columns {
		values, err := f.Column(col)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			rows[i][j] = v
		}
	}
	return lazy.FromRows(columns, rows, n, workers)
}
