package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
)

// Query runs a $n-parameterized SELECT inside a read-only transaction,
// wrapped so at most limit rows come back.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	var result *datasource.QueryExecutionResult

	err := pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, datasource.WrapWithLimit(sqlQuery, limit), params...)
		if err != nil {
			return err
		}
		columns := describeColumns(rows.FieldDescriptions())

		records, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return err
		}
		for _, rec := range records {
			for k, v := range rec {
				rec[k] = normalizeValue(v)
			}
		}
		if records == nil {
			records = []map[string]any{}
		}

		result = &datasource.QueryExecutionResult{Columns: columns, Rows: records, RowCount: len(records)}
		return nil
	})
	if err != nil {
		return nil, classify(fmt.Errorf("postgres query: %w", err))
	}
	return result, nil
}

func describeColumns(fields []pgconn.FieldDescription) []datasource.ColumnInfo {
	columns := make([]datasource.ColumnInfo, len(fields))
	for i, fd := range fields {
		columns[i] = datasource.ColumnInfo{Name: fd.Name, Type: typeName(fd.DataTypeOID)}
	}
	return columns
}

// builtinTypes is only read from, so it is shared across queries.
var builtinTypes = pgtype.NewMap()

// typeName maps a type OID to an upper-case name such as INT8 or TEXT[].
func typeName(oid uint32) string {
	t, ok := builtinTypes.TypeForOID(oid)
	if !ok {
		return "UNKNOWN"
	}
	if elem, isArray := strings.CutPrefix(t.Name, "_"); isArray {
		return strings.ToUpper(elem) + "[]"
	}
	return strings.ToUpper(t.Name)
}

// normalizeValue turns pgx wire types into plain Go values for formatting and JSON.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []byte:
		return string(val)
	default:
		return v
	}
}

// transientStates are SQLSTATEs worth one retry besides connection class 08.
var transientStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// classify marks errors that are safe to retry once.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || transientStates[pgErr.Code] {
			return datasource.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return datasource.Transient(err)
	}
	return err
}
