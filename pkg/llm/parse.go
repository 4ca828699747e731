package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ParseOutcome is the result of leniently parsing a model response: either Value is
// set, or Err describes why the text could not be used.
type ParseOutcome[T any] struct {
	Value T
	Raw   string // the JSON document that was extracted, if any
	Err   *Error
}

// Parsed reports whether parsing succeeded.
func (o ParseOutcome[T]) Parsed() bool {
	return o.Err == nil
}

var schemaCache sync.Map // schema text -> *gojsonschema.Schema

func compileSchema(schema string) (*gojsonschema.Schema, error) {
	if s, ok := schemaCache.Load(schema); ok {
		return s.(*gojsonschema.Schema), nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(schema, compiled)
	return compiled, nil
}

// ParseStructured extracts the JSON document from response, checks it against the
// JSON schema (when schema is non-empty) and unmarshals it into T. It never panics
// and never returns a Go error: failures are reported as a parse outcome so callers
// can fall back.
func ParseStructured[T any](response string, schema string) ParseOutcome[T] {
	var out ParseOutcome[T]

	doc, err := ExtractJSON(response)
	if err != nil {
		out.Err = NewError(ErrorTypeParse, "no JSON in response", false, err)
		return out
	}
	out.Raw = doc

	if schema != "" {
		compiled, err := compileSchema(schema)
		if err != nil {
			out.Err = NewError(ErrorTypeParse, "invalid schema", false, err)
			return out
		}
		result, err := compiled.Validate(gojsonschema.NewStringLoader(doc))
		if err != nil {
			out.Err = NewError(ErrorTypeParse, "schema validation failed", false, err)
			return out
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			out.Err = NewError(ErrorTypeParse, "response does not match schema", false,
				fmt.Errorf("%s", strings.Join(msgs, "; ")))
			return out
		}
	}

	if err := json.Unmarshal([]byte(doc), &out.Value); err != nil {
		out.Err = NewError(ErrorTypeParse, "unmarshal response", false, err)
	}
	return out
}
