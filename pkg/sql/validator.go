// Package sql provides SQL tokenizing, static safety validation and parameter binding
// for queries run against the filing store.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrUnterminated indicates a string literal, quoted identifier or block comment is never closed.
	ErrUnterminated = errors.New("unterminated literal or comment")

	// ErrAmbiguousQuoting indicates text whose extent the stores would lex differently
	// from Tokenize: dollar quotes, bracket identifiers, backslashes inside E'' strings
	// and {{...}} that is not a parameter name.
	ErrAmbiguousQuoting = errors.New("quoting is not portable across stores")
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord        TokenKind = iota // keyword or bare identifier
	TokenQuotedIdent                  // "identifier" or `identifier`
	TokenString                       // 'literal'
	TokenNumber
	TokenPlaceholder // {{name}}, $1 or ?
	TokenPunct
)

// Token is one lexical unit of a SQL statement. Comments and whitespace are dropped.
type Token struct {
	Kind TokenKind
	Text string // words are kept as written; quoted identifiers and strings are unquoted
	Pos  int    // byte offset of the first byte in the source
	End  int    // byte offset just past the last byte
}

// Upper returns the token text upper-cased, for keyword comparison.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// IsWord reports whether t is a bare word equal (case-insensitively) to one of words.
func (t Token) IsWord(words ...string) bool {
	if t.Kind != TokenWord {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.Text, w) {
			return true
		}
	}
	return false
}

// IsPunct reports whether t is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Kind == TokenPunct && t.Text == p
}

// Tokenize splits a SQL statement into tokens. String literals, quoted identifiers and
// comments are recognized so their contents never look like keywords or separators.
//
// Literals follow standard SQL: '' is the only escape and a backslash is an ordinary
// character, as in SQLite and in PostgreSQL with standard_conforming_strings on.
// Constructs whose extent depends on the dialect ($$ or $tag$ quotes, [bracket]
// identifiers, E'' strings containing a backslash) fail with ErrAmbiguousQuoting.
func Tokenize(query string) ([]Token, error) {
	var tokens []Token
	n := len(query)
	i := 0

	for i < n {
		c := query[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++

		case c == '-' && i+1 < n && query[i+1] == '-':
			for i < n && query[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%w: block comment at offset %d", ErrUnterminated, i)
			}
			i += end + 4

		case c == '\'':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < n {
				ch := query[i]
				if ch == '\'' {
					if i+1 < n && query[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(ch)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: string literal at offset %d", ErrUnterminated, start)
			}
			if escapeStringPrefix(tokens, start) && strings.ContainsRune(sb.String(), '\\') {
				return nil, fmt.Errorf("%w: backslash in escape string at offset %d", ErrAmbiguousQuoting, start)
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: sb.String(), Pos: start, End: i})

		case c == '"' || c == '`':
			start := i
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("%w: quoted identifier at offset %d", ErrUnterminated, start)
			}
			i += end + 2
			tokens = append(tokens, Token{Kind: TokenQuotedIdent, Text: query[start+1 : i-1], Pos: start, End: i})

		case c == '{' && i+1 < n && query[i+1] == '{':
			end := strings.Index(query[i:], "}}")
			if end < 0 {
				return nil, fmt.Errorf("%w: placeholder at offset %d", ErrUnterminated, i)
			}
			start := i
			i += end + 2
			if placeholder.FindString(query[start:i]) != query[start:i] {
				return nil, fmt.Errorf("%w: malformed placeholder at offset %d", ErrAmbiguousQuoting, start)
			}
			tokens = append(tokens, Token{Kind: TokenPlaceholder, Text: query[start:i], Pos: start, End: i})

		case c == '$' && i+1 < n && isDigit(query[i+1]):
			start := i
			i++
			for i < n && isDigit(query[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenPlaceholder, Text: query[start:i], Pos: start, End: i})

		case c == '$':
			return nil, fmt.Errorf("%w: dollar quote at offset %d", ErrAmbiguousQuoting, i)

		case c == '[':
			return nil, fmt.Errorf("%w: bracket at offset %d", ErrAmbiguousQuoting, i)

		case c == '?':
			tokens = append(tokens, Token{Kind: TokenPlaceholder, Text: "?", Pos: i, End: i + 1})
			i++

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(query[i+1])):
			start := i
			for i < n && (isDigit(query[i]) || query[i] == '.' || query[i] == 'e' || query[i] == 'E') {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: query[start:i], Pos: start, End: i})

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(query[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenWord, Text: query[start:i], Pos: start, End: i})

		default:
			// Two-character operators are kept together so "::" and "<>" don't split.
			if i+1 < n {
				pair := query[i : i+2]
				switch pair {
				case "::", "<>", "<=", ">=", "!=", "||":
					tokens = append(tokens, Token{Kind: TokenPunct, Text: pair, Pos: i, End: i + 2})
					i += 2
					continue
				}
			}
			tokens = append(tokens, Token{Kind: TokenPunct, Text: string(c), Pos: i, End: i + 1})
			i++
		}
	}

	return tokens, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// escapeStringPrefix reports whether the literal starting at pos is written E'...',
// where PostgreSQL honors backslash escapes.
func escapeStringPrefix(tokens []Token, pos int) bool {
	if len(tokens) == 0 {
		return false
	}
	prev := tokens[len(tokens)-1]
	return prev.End == pos && prev.IsWord("E")
}

// ValidationResult contains the normalized SQL, its tokens and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Tokens        []Token
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips trailing semicolons.
//
// The validation order is:
// 1. Trim whitespace and trailing semicolons (normalize)
// 2. Tokenize and reject any separator left outside literals and comments
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolons(sqlQuery)

	tokens, err := Tokenize(normalized)
	if err != nil {
		return ValidationResult{Error: err}
	}
	for _, tok := range tokens {
		if tok.IsPunct(";") {
			return ValidationResult{Error: ErrMultipleStatements}
		}
	}

	return ValidationResult{NormalizedSQL: normalized, Tokens: tokens}
}

// stripTrailingSemicolons removes trailing semicolons and the whitespace around them.
func stripTrailingSemicolons(sqlQuery string) string {
	for {
		trimmed := strings.TrimRight(sqlQuery, " \t\n\r")
		if !strings.HasSuffix(trimmed, ";") {
			return trimmed
		}
		sqlQuery = strings.TrimSuffix(trimmed, ";")
	}
}
