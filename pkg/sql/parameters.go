package sql

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// Dialect selects the driver placeholder style used when binding parameters.
type Dialect string

const (
	// DialectPostgres binds with $N; a repeated name reuses its N.
	DialectPostgres Dialect = "postgres"
	// DialectSQLite binds with ?; a repeated name repeats its value.
	DialectSQLite Dialect = "sqlite"
)

// placeholder matches {{name}} where name is an identifier.
var placeholder = regexp.MustCompile(`\{\{([a-zA-Z_]\w*)\}\}`)

// appendNames appends the placeholder names in s not already in seen.
func appendNames(names []string, seen map[string]bool, s string) []string {
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		if name := m[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ExtractParameters returns the distinct {{name}} placeholders in sqlQuery in
// order of first appearance.
func ExtractParameters(sqlQuery string) []string {
	return appendNames(nil, map[string]bool{}, sqlQuery)
}

// ValidateParameterDefinitions checks that every placeholder has a definition
// and every definition is used.
func ValidateParameterDefinitions(sqlQuery string, params []models.TemplateParameter) error {
	used := ExtractParameters(sqlQuery)
	usedSet := make(map[string]bool, len(used))
	for _, name := range used {
		usedSet[name] = true
	}
	defined := make(map[string]bool, len(params))
	for _, p := range params {
		defined[p.Name] = true
	}

	for _, name := range used {
		if !defined[name] {
			return fmt.Errorf("parameter {{%s}} used in SQL but not defined", name)
		}
	}
	for _, p := range params {
		if !usedSet[p.Name] {
			return fmt.Errorf("parameter '%s' is defined but not used in SQL", p.Name)
		}
	}
	return nil
}

// FindParametersInStringLiterals returns placeholders written inside quoted
// literals, such as '%{{name}}%'. A driver treats those as text, so the
// wildcards belong in the bound value instead.
func FindParametersInStringLiterals(sqlQuery string) []string {
	tokens, err := Tokenize(sqlQuery)
	if err != nil {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, tok := range tokens {
		if tok.Kind == TokenString {
			names = appendNames(names, seen, tok.Text)
		}
	}
	return names
}

// binder collects bound values while placeholders are rewritten.
type binder struct {
	dialect  Dialect
	defs     map[string]models.TemplateParameter
	supplied map[string]any

	args      []any
	positions map[string]int
	err       error
}

func (b *binder) value(name string) (any, error) {
	def, ok := b.defs[name]
	if !ok {
		return nil, fmt.Errorf("parameter {{%s}} used in SQL but not defined", name)
	}
	v := b.supplied[name]
	if v == nil {
		v = def.Default
	}
	if v == nil && def.Required {
		return nil, fmt.Errorf("required parameter '%s' has no value", name)
	}
	return v, nil
}

// rewrite returns the driver placeholder for one {{name}} occurrence.
func (b *binder) rewrite(match string) string {
	if b.err != nil {
		return match
	}
	name := match[2 : len(match)-2]

	if pos, ok := b.positions[name]; ok && b.dialect == DialectPostgres {
		return "$" + strconv.Itoa(pos)
	}
	v, err := b.value(name)
	if err != nil {
		b.err = err
		return match
	}
	b.args = append(b.args, v)
	if b.dialect == DialectSQLite {
		return "?"
	}
	b.positions[name] = len(b.args)
	return "$" + strconv.Itoa(len(b.args))
}

// SubstituteParameters rewrites {{name}} placeholders into the dialect's
// driver placeholders and returns the values to bind, in order. Values are
// never spliced into the SQL text.
//
//	postgres: "a = {{u}} OR b = {{u}}" => "a = $1 OR b = $1", [u]
//	sqlite:   "a = {{u}} OR b = {{u}}" => "a = ? OR b = ?",   [u, u]
//
// A missing value falls back to the parameter default. A required parameter
// with neither, or a placeholder with no definition, is an error.
func SubstituteParameters(
	sqlQuery string,
	dialect Dialect,
	paramDefs []models.TemplateParameter,
	suppliedValues map[string]any,
) (string, []any, error) {
	b := &binder{
		dialect:   dialect,
		defs:      make(map[string]models.TemplateParameter, len(paramDefs)),
		supplied:  suppliedValues,
		positions: map[string]int{},
	}
	for _, p := range paramDefs {
		b.defs[p.Name] = p
	}

	out := placeholder.ReplaceAllStringFunc(sqlQuery, b.rewrite)
	if b.err != nil {
		return "", nil, b.err
	}
	return out, b.args, nil
}
