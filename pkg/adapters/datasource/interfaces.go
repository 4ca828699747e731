package datasource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

// MaxQueryLimit is the hard cap on rows returned by Query.
// This protects against unbounded queries that could exhaust memory.
const MaxQueryLimit = 10000

// ErrTransient is wrapped by adapter errors that are safe to retry once:
// dropped connections, serialization failures, busy or locked database files.
var ErrTransient = errors.New("transient store error")

// Store executes read-only SQL against the analytical dataset.
// Each implementation owns its connection and must be closed when done.
type Store interface {
	// Query runs a SELECT statement with positional parameters and returns bounded results.
	// The query is ALWAYS bounded by WrapWithLimit: usually LIMIT n appended to the
	// statement, otherwise SELECT * FROM (query) AS _limited LIMIT n.
	//
	// Limit behavior:
	//   - limit <= 0: uses MaxQueryLimit
	//   - limit > MaxQueryLimit: capped to MaxQueryLimit
	//   - otherwise: uses specified limit
	//
	// Statements run in a read-only session; writes fail at the store.
	Query(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)

	// Dialect reports the placeholder style the store binds with.
	Dialect() sqlpkg.Dialect

	// TestConnection verifies the store is reachable and readable.
	TestConnection(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "INTEGER")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ColumnNames returns the result column names in order.
func (r *QueryExecutionResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// EffectiveLimit applies the MaxQueryLimit rules to a requested limit.
func EffectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// WrapWithLimit bounds a SELECT so the store returns at most limit rows.
//
// A statement with no top-level LIMIT, OFFSET or FETCH gets LIMIT n appended, so its
// own ORDER BY still decides which rows come back. A statement ending in LIMIT with a
// literal count keeps it, lowered to n when larger. Anything else is wrapped in a
// subquery. Trailing semicolons and comments are removed first.
func WrapWithLimit(sqlQuery string, limit int) string {
	n := EffectiveLimit(limit)
	trimmed := strings.TrimRight(strings.TrimSpace(sqlQuery), "; \t\n")

	tokens, err := sqlpkg.Tokenize(trimmed)
	for err == nil && len(tokens) > 0 && tokens[len(tokens)-1].IsPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if err != nil || len(tokens) == 0 {
		return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", trimmed, n)
	}
	body := trimmed[:tokens[len(tokens)-1].End]

	if !hasTopLevelRowBound(tokens) {
		return fmt.Sprintf("%s LIMIT %d", body, n)
	}
	if k := len(tokens); k >= 2 && tokens[k-2].IsWord("LIMIT") && tokens[k-1].Kind == sqlpkg.TokenNumber {
		if own, err := strconv.Atoi(tokens[k-1].Text); err == nil {
			if own <= n {
				return body
			}
			return body[:tokens[k-1].Pos] + strconv.Itoa(n)
		}
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", body, n)
}

// hasTopLevelRowBound reports whether LIMIT, OFFSET or FETCH appears outside every
// parenthesis.
func hasTopLevelRowBound(tokens []sqlpkg.Token) bool {
	depth := 0
	for _, t := range tokens {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.IsWord("LIMIT", "OFFSET", "FETCH"):
			return true
		}
	}
	return false
}

// Transient marks err as retryable. It returns nil for a nil error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err was marked retryable by an adapter.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
