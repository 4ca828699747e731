package sql

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Static validation reason codes.
const (
	ReasonEmpty              = "empty"
	ReasonMultipleStatements = "multiple_statements"
	ReasonWriteKeyword       = "write_keyword"
	ReasonNotSelect          = "not_select"
	ReasonUnknownTable       = "unknown_table"
	ReasonJoinPath           = "join_path"
	ReasonForbiddenColumn    = "forbidden_column"
)

// writeKeywords are rejected anywhere outside literals and comments.
// REPLACE is left out because it is also a string function; REPLACE INTO is caught by INTO.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "ALTER": true,
	"CREATE": true, "TRUNCATE": true, "MERGE": true, "UPSERT": true, "INTO": true,
	"GRANT": true, "REVOKE": true, "ATTACH": true, "DETACH": true, "COPY": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "EXEC": true, "EXECUTE": true,
	"CALL": true, "LOCK": true, "INSTALL": true, "LOAD": true, "EXPORT": true, "IMPORT": true,
}

// Functions whose argument syntax uses FROM without naming a table.
var fromArgumentFunctions = map[string]bool{
	"EXTRACT": true, "SUBSTRING": true, "TRIM": true, "POSITION": true, "OVERLAY": true,
}

// Words that can follow a table reference and are therefore never an alias.
var clauseKeywords = map[string]bool{
	"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "NATURAL": true, "ON": true, "USING": true, "GROUP": true,
	"ORDER": true, "HAVING": true, "LIMIT": true, "OFFSET": true, "UNION": true,
	"INTERSECT": true, "EXCEPT": true, "WINDOW": true, "FETCH": true, "AS": true,
	"LATERAL": true, "QUALIFY": true,
}

// JoinRequirement states that queries touching Table must also reference Via.
type JoinRequirement struct {
	Table string
	Via   string
}

// StaticRules configures the static pass for a particular schema.
type StaticRules struct {
	AllowedTables    []string          // lower-case table names
	ForbiddenColumns []string          // "table.column", lower-case
	JoinRequirements []JoinRequirement // e.g. num must be joined through sub
}

// StaticResult is the outcome of CheckStatic.
type StaticResult struct {
	Pass   bool
	Reason string
	Detail string
	Tables []string // referenced base tables, sorted, CTE names excluded
}

func fail(reason, detail string) StaticResult {
	return StaticResult{Reason: reason, Detail: detail}
}

// CheckStatic runs the static safety pass over a single SQL statement.
//
// Checks run in a fixed order and the first failure wins:
//  1. empty
//  2. multiple_statements (any separator besides trailing ones, or quoting the
//     stores would lex differently)
//  3. write_keyword (DDL/DML keywords outside literals and comments)
//  4. not_select (statement must begin with SELECT or WITH)
//  5. unknown_table (FROM/JOIN targets outside the allow-list; CTE names excepted)
//  6. join_path (declared join requirements)
//  7. forbidden_column (qualified references such as num.cik)
//
// The pass is pure and never touches the store.
func CheckStatic(query string, rules StaticRules) StaticResult {
	norm := ValidateAndNormalize(query)
	switch {
	case errors.Is(norm.Error, ErrMultipleStatements):
		return fail(ReasonMultipleStatements, "statement separator found")
	case errors.Is(norm.Error, ErrAmbiguousQuoting):
		// A single statement can't be proven when the stores may end a literal elsewhere.
		return fail(ReasonMultipleStatements, norm.Error.Error())
	case norm.Error != nil:
		return fail(ReasonNotSelect, norm.Error.Error())
	case norm.NormalizedSQL == "":
		return fail(ReasonEmpty, "statement is empty")
	}

	tokens := norm.Tokens
	if len(tokens) == 0 {
		return fail(ReasonEmpty, "statement contains only comments")
	}

	for _, tok := range tokens {
		if tok.Kind == TokenWord && writeKeywords[tok.Upper()] {
			return fail(ReasonWriteKeyword, fmt.Sprintf("keyword %s is not allowed", tok.Upper()))
		}
	}

	first := 0
	for first < len(tokens) && tokens[first].IsPunct("(") {
		first++
	}
	if first == len(tokens) || !tokens[first].IsWord("SELECT", "WITH") {
		return fail(ReasonNotSelect, "statement must begin with SELECT or WITH")
	}

	refs := collectTableRefs(tokens)
	ctes := collectCTENames(tokens)

	allowed := make(map[string]bool, len(rules.AllowedTables))
	for _, t := range rules.AllowedTables {
		allowed[strings.ToLower(t)] = true
	}

	tableSet := make(map[string]bool)
	var unknown []string
	for _, ref := range refs {
		if ref.function {
			unknown = append(unknown, ref.name+"()")
			continue
		}
		if ctes[ref.name] {
			continue
		}
		if !allowed[ref.name] {
			unknown = append(unknown, ref.name)
			continue
		}
		tableSet[ref.name] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fail(ReasonUnknownTable, "unknown tables referenced: "+strings.Join(dedupe(unknown), ", "))
	}

	tables := make([]string, 0, len(tableSet))
	for t := range tableSet {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, req := range rules.JoinRequirements {
		if tableSet[strings.ToLower(req.Table)] && !tableSet[strings.ToLower(req.Via)] {
			r := fail(ReasonJoinPath, fmt.Sprintf("%s must be joined through %s", req.Table, req.Via))
			r.Tables = tables
			return r
		}
	}

	if col, ok := findForbiddenColumn(tokens, refs, rules.ForbiddenColumns); ok {
		r := fail(ReasonForbiddenColumn, fmt.Sprintf("column %s is not available", col))
		r.Tables = tables
		return r
	}

	return StaticResult{Pass: true, Tables: tables}
}

type tableRef struct {
	name     string // lower-case, schema qualifier dropped
	alias    string // lower-case, "" when none
	function bool   // a table function such as read_parquet(...)
}

// collectTableRefs finds every table named after FROM or JOIN, including comma-separated lists.
func collectTableRefs(tokens []Token) []tableRef {
	var refs []tableRef

	// parenKinds tracks whether each open paren belongs to a FROM-argument function.
	var parenKinds []bool

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.IsPunct("("):
			isFn := i > 0 && tokens[i-1].Kind == TokenWord && fromArgumentFunctions[tokens[i-1].Upper()]
			parenKinds = append(parenKinds, isFn)
		case tok.IsPunct(")"):
			if len(parenKinds) > 0 {
				parenKinds = parenKinds[:len(parenKinds)-1]
			}
		case tok.IsWord("FROM"):
			if len(parenKinds) > 0 && parenKinds[len(parenKinds)-1] {
				continue
			}
			// IS [NOT] DISTINCT FROM is a comparison, not a table source.
			if i > 0 && tokens[i-1].IsWord("DISTINCT") && i > 1 && tokens[i-2].IsWord("IS", "NOT") {
				continue
			}
			i = readTableList(tokens, i+1, &refs, true) - 1
		case tok.IsWord("JOIN"):
			i = readTableList(tokens, i+1, &refs, false) - 1
		}
	}
	return refs
}

// readTableList reads table references starting at pos and returns the index of the first
// token it did not consume. Subqueries are left in place so the caller walks into them.
func readTableList(tokens []Token, pos int, refs *[]tableRef, allowComma bool) int {
	for pos < len(tokens) {
		if tokens[pos].IsWord("LATERAL", "ONLY") {
			pos++
			continue
		}
		if pos >= len(tokens) || tokens[pos].IsPunct("(") {
			return pos
		}
		if tokens[pos].Kind != TokenWord && tokens[pos].Kind != TokenQuotedIdent {
			return pos
		}

		name := tokens[pos].Text
		pos++
		for pos+1 < len(tokens) && tokens[pos].IsPunct(".") &&
			(tokens[pos+1].Kind == TokenWord || tokens[pos+1].Kind == TokenQuotedIdent) {
			name = tokens[pos+1].Text
			pos += 2
		}

		ref := tableRef{name: strings.ToLower(name)}
		if pos < len(tokens) && tokens[pos].IsPunct("(") {
			ref.function = true
			*refs = append(*refs, ref)
			return pos
		}

		if pos < len(tokens) && tokens[pos].IsWord("AS") {
			pos++
		}
		if pos < len(tokens) && (tokens[pos].Kind == TokenQuotedIdent ||
			(tokens[pos].Kind == TokenWord && !clauseKeywords[tokens[pos].Upper()])) {
			ref.alias = strings.ToLower(tokens[pos].Text)
			pos++
		}
		*refs = append(*refs, ref)

		if allowComma && pos < len(tokens) && tokens[pos].IsPunct(",") {
			pos++
			continue
		}
		return pos
	}
	return pos
}

// collectCTENames returns the names bound by WITH clauses, lower-cased.
func collectCTENames(tokens []Token) map[string]bool {
	names := make(map[string]bool)
	for i := 0; i < len(tokens); i++ {
		if !tokens[i].IsWord("WITH") {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].IsWord("RECURSIVE") {
			j++
		}
		for j < len(tokens) {
			if tokens[j].Kind != TokenWord && tokens[j].Kind != TokenQuotedIdent {
				break
			}
			name := strings.ToLower(tokens[j].Text)
			j++
			if j < len(tokens) && tokens[j].IsPunct("(") {
				j = skipParens(tokens, j)
			}
			if j >= len(tokens) || !tokens[j].IsWord("AS") {
				break
			}
			names[name] = true
			j++
			for j < len(tokens) && tokens[j].IsWord("NOT", "MATERIALIZED") {
				j++
			}
			if j >= len(tokens) || !tokens[j].IsPunct("(") {
				break
			}
			j = skipParens(tokens, j)
			if j < len(tokens) && tokens[j].IsPunct(",") {
				j++
				continue
			}
			break
		}
	}
	return names
}

// skipParens returns the index just past the paren group opening at pos.
func skipParens(tokens []Token, pos int) int {
	depth := 0
	for i := pos; i < len(tokens); i++ {
		switch {
		case tokens[i].IsPunct("("):
			depth++
		case tokens[i].IsPunct(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(tokens)
}

// findForbiddenColumn looks for qualifier.column references where the qualifier is the
// forbidden table itself or one of its aliases.
func findForbiddenColumn(tokens []Token, refs []tableRef, forbidden []string) (string, bool) {
	if len(forbidden) == 0 {
		return "", false
	}

	qualifierTable := make(map[string]string)
	for _, ref := range refs {
		qualifierTable[ref.name] = ref.name
		if ref.alias != "" {
			qualifierTable[ref.alias] = ref.name
		}
	}

	blocked := make(map[string]bool, len(forbidden))
	for _, f := range forbidden {
		blocked[strings.ToLower(f)] = true
	}

	for i := 0; i+2 < len(tokens); i++ {
		if !tokens[i+1].IsPunct(".") {
			continue
		}
		q, c := tokens[i], tokens[i+2]
		if (q.Kind != TokenWord && q.Kind != TokenQuotedIdent) || (c.Kind != TokenWord && c.Kind != TokenQuotedIdent) {
			continue
		}
		table, ok := qualifierTable[strings.ToLower(q.Text)]
		if !ok {
			table = strings.ToLower(q.Text)
		}
		key := table + "." + strings.ToLower(c.Text)
		if blocked[key] {
			return key, true
		}
	}
	return "", false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
