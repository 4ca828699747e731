package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

// Adapter serves read-only queries from a SQLite file through database/sql.
type Adapter struct {
	db *sql.DB
}

// NewAdapter opens the database file read-only and verifies it can be queried.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("sqlite database %s: %w", cfg.Path, err)
	}

	db, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	a := &Adapter{db: db}
	if err := a.TestConnection(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB wraps an existing handle. Used with sqlmock in tests.
func NewWithDB(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

// TestConnection verifies the file is readable.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Query runs a parameterized SELECT. The SQL should use ? placeholders.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	rows, err := a.db.QueryContext(ctx, datasource.WrapWithLimit(sqlQuery, limit), params...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	columns := make([]datasource.ColumnInfo, len(names))
	for i, name := range names {
		columns[i] = datasource.ColumnInfo{Name: name}
	}
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			columns[i].Type = ct.DatabaseTypeName()
		}
	}

	resultRows := make([]map[string]any, 0)
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating rows: %w", err))
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// classify marks busy and locked database errors as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return datasource.Transient(err)
		}
	}
	return err
}

// Dialect implements datasource.Store.
func (a *Adapter) Dialect() sqlpkg.Dialect {
	return sqlpkg.DialectSQLite
}

// Close releases the database handle.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Ensure Adapter implements Store at compile time.
var _ datasource.Store = (*Adapter)(nil)
