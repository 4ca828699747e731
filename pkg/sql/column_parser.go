package sql

import (
	"strings"
)

// ParsedColumn represents a column extracted from a SELECT statement.
type ParsedColumn struct {
	Name string // The column name or alias, lower-cased
	Expr string // The full item as written (e.g., "SUM(value) AS total")
}

// ParseSelectColumns extracts the output columns of the outermost SELECT.
// For WITH queries the final SELECT after the CTE list is used.
//
// It handles:
// - Simple columns: SELECT cik, name
// - Aliased columns: SELECT COUNT(*) AS count, name company
// - Table-qualified columns: SELECT c.name, s.fy
//
// SELECT * returns nil because the columns are unknown without the store.
// Unaliased expressions that are not plain column references are named after
// their leading function, lower-cased (e.g., "count" for COUNT(*)).
func ParseSelectColumns(query string) ([]ParsedColumn, error) {
	tokens, err := Tokenize(query)
	if err != nil {
		return nil, err
	}

	start := outerSelectIndex(tokens)
	if start < 0 {
		return nil, nil
	}
	start++
	if start < len(tokens) && tokens[start].IsWord("DISTINCT", "ALL") {
		start++
	}

	// Collect the top-level select list up to FROM or the end of the statement.
	var items [][]Token
	var current []Token
	depth := 0
	for i := start; i < len(tokens); i++ {
		tok := tokens[i]
		if depth == 0 && (tok.IsWord("FROM", "WHERE", "GROUP", "ORDER", "LIMIT", "UNION", "INTERSECT", "EXCEPT") || tok.IsPunct(";")) {
			break
		}
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case tok.IsPunct(",") && depth == 0:
			items = append(items, current)
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		items = append(items, current)
	}

	if len(items) == 1 && len(items[0]) == 1 && items[0][0].IsPunct("*") {
		return nil, nil
	}

	result := make([]ParsedColumn, 0, len(items))
	for _, item := range items {
		if len(item) == 0 {
			continue
		}
		result = append(result, parseColumnTokens(query, item))
	}
	return result, nil
}

// outerSelectIndex returns the index of the SELECT keyword whose list forms the output.
func outerSelectIndex(tokens []Token) int {
	depth := 0
	for i, tok := range tokens {
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case depth == 0 && tok.IsWord("SELECT"):
			return i
		}
	}
	return -1
}

func parseColumnTokens(query string, item []Token) ParsedColumn {
	expr := query[item[0].Pos:item[len(item)-1].End]

	n := len(item)
	last := item[n-1]

	// expr AS alias
	if n >= 3 && item[n-2].IsWord("AS") && (last.Kind == TokenWord || last.Kind == TokenQuotedIdent) {
		return ParsedColumn{Name: strings.ToLower(last.Text), Expr: expr}
	}

	// expr alias, where expr ends in a closing paren, identifier or literal
	if n >= 2 && (last.Kind == TokenWord || last.Kind == TokenQuotedIdent) && !item[n-2].IsPunct(".") && !last.IsWord("END") {
		prev := item[n-2]
		if prev.IsPunct(")") || prev.Kind == TokenWord || prev.Kind == TokenQuotedIdent || prev.Kind == TokenNumber || prev.Kind == TokenString {
			return ParsedColumn{Name: strings.ToLower(last.Text), Expr: expr}
		}
	}

	// table.column
	if n == 3 && item[1].IsPunct(".") {
		return ParsedColumn{Name: strings.ToLower(item[2].Text), Expr: expr}
	}

	// column or FUNC(...)
	return ParsedColumn{Name: strings.ToLower(item[0].Text), Expr: expr}
}
