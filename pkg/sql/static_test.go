package sql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var filingRules = StaticRules{
	AllowedTables:    []string{"companies", "sub", "num", "tag", "pre"},
	ForbiddenColumns: []string{"num.cik"},
	JoinRequirements: []JoinRequirement{{Table: "num", Via: "sub"}},
}

func TestCheckStatic_Passes(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		tables []string
	}{
		{
			name:   "sector count",
			sql:    "SELECT COUNT(*) AS count FROM companies WHERE gics_sector = 'Information Technology'",
			tables: []string{"companies"},
		},
		{
			name: "metric through sub",
			sql: `SELECT s.fy, n.value FROM companies c
				JOIN sub s ON c.cik = s.cik
				JOIN num n ON s.adsh = n.adsh
				WHERE n.tag = 'Revenues' AND n.qtrs = 4`,
			tables: []string{"companies", "num", "sub"},
		},
		{
			name:   "comma join",
			sql:    "SELECT n.value FROM sub s, num n WHERE s.adsh = n.adsh",
			tables: []string{"num", "sub"},
		},
		{
			name: "cte names are not tables",
			sql: `WITH yearly AS (SELECT s.fy, n.value FROM sub s JOIN num n ON s.adsh = n.adsh),
				ranked (fy, value) AS (SELECT fy, value FROM yearly)
				SELECT * FROM ranked`,
			tables: []string{"num", "sub"},
		},
		{
			name:   "write keywords inside literals and comments",
			sql:    "SELECT name FROM companies WHERE name = 'DROP TABLE num' -- DELETE everything",
			tables: []string{"companies"},
		},
		{
			name:   "extract uses from without a table",
			sql:    "SELECT EXTRACT(YEAR FROM filed) AS y, SUBSTRING(name FROM 1 FOR 3) FROM sub JOIN companies ON sub.cik = companies.cik",
			tables: []string{"companies", "sub"},
		},
		{
			name:   "is distinct from",
			sql:    "SELECT cik FROM companies WHERE sic IS NOT DISTINCT FROM 3571",
			tables: []string{"companies"},
		},
		{
			name:   "subquery in from",
			sql:    "SELECT x.cik FROM (SELECT cik FROM companies) x",
			tables: []string{"companies"},
		},
		{
			name:   "schema qualified and quoted",
			sql:    `SELECT * FROM main."companies"`,
			tables: []string{"companies"},
		},
		{
			name:   "trailing semicolon",
			sql:    "SELECT tag FROM tag;",
			tables: []string{"tag"},
		},
		{
			name:   "parenthesized select",
			sql:    "(SELECT plabel FROM pre)",
			tables: []string{"pre"},
		},
		{
			name:   "template placeholders",
			sql:    "SELECT cik, name FROM companies WHERE UPPER(name) LIKE {{company_pattern}} LIMIT 1",
			tables: []string{"companies"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckStatic(tt.sql, filingRules)
			require.True(t, result.Pass, "reason=%s detail=%s", result.Reason, result.Detail)
			assert.Equal(t, tt.tables, result.Tables)
		})
	}
}

func TestCheckStatic_Failures(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		reason string
	}{
		{name: "empty", sql: "", reason: ReasonEmpty},
		{name: "whitespace", sql: "  \n\t", reason: ReasonEmpty},
		{name: "comment only", sql: "-- nothing here", reason: ReasonEmpty},
		{name: "stacked drop", sql: "SELECT * FROM num; DROP TABLE num;", reason: ReasonMultipleStatements},
		{name: "two selects", sql: "SELECT 1; SELECT 2", reason: ReasonMultipleStatements},
		{name: "drop", sql: "DROP TABLE num", reason: ReasonWriteKeyword},
		{name: "delete", sql: "DELETE FROM sub WHERE 1=1", reason: ReasonWriteKeyword},
		{name: "update", sql: "UPDATE companies SET name = 'x'", reason: ReasonWriteKeyword},
		{name: "insert", sql: "INSERT INTO tag VALUES ('a')", reason: ReasonWriteKeyword},
		{name: "alter", sql: "ALTER TABLE num ADD COLUMN x INT", reason: ReasonWriteKeyword},
		{name: "select into", sql: "SELECT * INTO backup FROM companies", reason: ReasonWriteKeyword},
		{name: "writable cte", sql: "WITH d AS (DELETE FROM sub RETURNING *) SELECT * FROM d", reason: ReasonWriteKeyword},
		{name: "lowercase delete", sql: "select 1 from companies where exists (delete from sub)", reason: ReasonWriteKeyword},
		{name: "show", sql: "SHOW TABLES", reason: ReasonNotSelect},
		{name: "explain", sql: "EXPLAIN SELECT 1", reason: ReasonNotSelect},
		{name: "unterminated", sql: "SELECT 'oops FROM companies", reason: ReasonNotSelect},
		{name: "unknown table", sql: "SELECT * FROM users", reason: ReasonUnknownTable},
		{name: "unknown join", sql: "SELECT * FROM companies JOIN secrets ON 1=1", reason: ReasonUnknownTable},
		{name: "legacy view", sql: "SELECT * FROM companies_with_sectors", reason: ReasonUnknownTable},
		{name: "table function", sql: "SELECT * FROM read_parquet('num.parquet')", reason: ReasonUnknownTable},
		{name: "system catalog", sql: "SELECT * FROM sqlite_master", reason: ReasonUnknownTable},
		{name: "num without sub", sql: "SELECT c.name, n.value FROM companies c JOIN num n ON c.cik = n.adsh", reason: ReasonJoinPath},
		{name: "num alone", sql: "SELECT value FROM num WHERE tag = 'Assets'", reason: ReasonJoinPath},
		{name: "num cik", sql: "SELECT num.cik FROM num JOIN sub ON sub.adsh = num.adsh", reason: ReasonForbiddenColumn},
		{name: "num cik via alias", sql: "SELECT n.cik FROM sub s JOIN num n ON s.adsh = n.adsh", reason: ReasonForbiddenColumn},
		{name: "backslash does not escape a quote", sql: `SELECT name FROM companies WHERE name = 'a\'; DROP TABLE companies; --'`, reason: ReasonMultipleStatements},
		{name: "escape string with backslash", sql: `SELECT name FROM companies WHERE name = E'a\'; DROP TABLE companies; --'`, reason: ReasonMultipleStatements},
		{name: "dollar quote", sql: "SELECT $$'$$; DELETE FROM companies; --'", reason: ReasonMultipleStatements},
		{name: "tagged dollar quote", sql: "SELECT $q$ x $q$ FROM companies", reason: ReasonMultipleStatements},
		{name: "bracket identifier", sql: "SELECT [x'] FROM companies; DROP TABLE companies; --']", reason: ReasonMultipleStatements},
		{name: "braces hiding a separator", sql: "SELECT 1 FROM companies {{; DROP TABLE companies; }}", reason: ReasonMultipleStatements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckStatic(tt.sql, filingRules)
			assert.False(t, result.Pass)
			assert.Equal(t, tt.reason, result.Reason, "detail=%s", result.Detail)
			assert.NotEmpty(t, result.Detail)
		})
	}
}

func TestCheckStatic_SubCikAllowed(t *testing.T) {
	result := CheckStatic("SELECT s.cik FROM sub s JOIN num n ON s.adsh = n.adsh", filingRules)
	assert.True(t, result.Pass, result.Detail)
}

// Every generated statement carrying a write keyword or a second statement must be rejected.
func TestCheckStatic_WriteCorpus(t *testing.T) {
	prefixes := []string{
		"",
		"SELECT * FROM companies; ",
		"WITH x AS (SELECT 1) ",
		"/* comment */ ",
		"SELECT 1 FROM sub WHERE cik IN (",
	}
	statements := []string{
		"DROP TABLE num",
		"drop table num",
		"DELETE FROM sub",
		"UPDATE companies SET name = 'x'",
		"INSERT INTO tag (tag) VALUES ('x')",
		"ALTER TABLE pre RENAME TO pre2",
		"Drop Table companies",
		"TRUNCATE sub",
		"CREATE TABLE t AS SELECT 1",
	}
	suffixes := []string{"", ";", ")", "; SELECT 1", " -- tail"}

	count := 0
	for _, p := range prefixes {
		for _, s := range statements {
			for _, suf := range suffixes {
				query := p + s + suf
				result := CheckStatic(query, filingRules)
				assert.False(t, result.Pass, "accepted %q", query)
				count++
			}
		}
	}
	require.Equal(t, len(prefixes)*len(statements)*len(suffixes), count)
}

func TestCheckStatic_Deterministic(t *testing.T) {
	query := "SELECT * FROM alpha JOIN beta ON 1=1 JOIN alpha a2 ON 1=1"
	first := CheckStatic(query, filingRules)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CheckStatic(query, filingRules))
	}
	assert.Equal(t, "unknown tables referenced: alpha, beta", first.Detail)
}

// separatorOutsideQuotes scans with standard SQL rules, independently of Tokenize:
// '' and "" are the only escapes, a backslash is an ordinary character and
// comments hide their text. It reports a ; that is not trailing, and any $ or [
// outside quotes, since their extent differs between the stores.
func separatorOutsideQuotes(query string) bool {
	q := strings.TrimSpace(query)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	var quote byte
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && strings.HasPrefix(q[i:], "--"):
			for i < len(q) && q[i] != '\n' {
				i++
			}
		case c == '/' && strings.HasPrefix(q[i:], "/*"):
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		case c == ';', c == '[':
			return true
		case c == '$' && (i+1 >= len(q) || q[i+1] < '0' || q[i+1] > '9'):
			return true
		}
	}
	return false
}

var quotingCorpus = []string{
	`SELECT name FROM companies WHERE name = 'a\'; DROP TABLE companies; --'`,
	`SELECT name FROM companies WHERE name = E'a\'; DROP TABLE companies; --'`,
	"SELECT $$'$$; DELETE FROM companies; --'",
	"SELECT [x'] FROM companies; DROP TABLE companies; --']",
	"SELECT 1 FROM companies {{; DROP TABLE companies; }}",
	`SELECT "a""; DROP TABLE companies; --" FROM companies`,
	"SELECT 'it''s'; DROP TABLE companies FROM companies",
}

func TestCheckStatic_NoSeparatorEscapesTheLexer(t *testing.T) {
	for _, query := range quotingCorpus {
		result := CheckStatic(query, filingRules)
		if result.Pass {
			assert.False(t, separatorOutsideQuotes(query), "passed %q", query)
		}
	}

	assert.False(t, separatorOutsideQuotes("SELECT ';' FROM companies -- ;"))
	assert.True(t, separatorOutsideQuotes(`SELECT 'a\'; DROP TABLE x`))
}

func FuzzCheckStatic(f *testing.F) {
	f.Add("SELECT * FROM companies")
	f.Add("SELECT 1; DROP TABLE num")
	f.Add("WITH a AS (SELECT 1) SELECT * FROM a")
	for _, query := range quotingCorpus {
		f.Add(query)
	}
	f.Fuzz(func(t *testing.T, query string) {
		result := CheckStatic(query, filingRules)
		if !result.Pass {
			return
		}
		if separatorOutsideQuotes(query) {
			t.Fatalf("passed a statement separator in %q", query)
		}
		tokens, err := Tokenize(stripTrailingSemicolons(strings.TrimSpace(query)))
		if err != nil {
			t.Fatalf("passed untokenizable query %q", query)
		}
		for _, tok := range tokens {
			if tok.Kind == TokenWord && writeKeywords[tok.Upper()] {
				t.Fatalf("passed write keyword %s in %q", tok.Upper(), query)
			}
		}
	})
}
