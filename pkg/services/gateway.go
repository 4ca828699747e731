package services

import (
	"context"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
)

// LLMGateway is the subset of *llm.Gateway the pipeline stages depend on.
type LLMGateway interface {
	Call(ctx context.Context, p llm.Prompt, kind llm.Kind) (*llm.Response, error)
	Available() bool
}

var _ LLMGateway = (*llm.Gateway)(nil)

// PromptSettings are the sampling parameters shared by every pipeline prompt.
type PromptSettings struct {
	Temperature float64
	MaxTokens   int
}

// gatewayAvailable treats a nil gateway as unavailable.
func gatewayAvailable(g LLMGateway) bool {
	return g != nil && g.Available()
}

// callStructured sends one prompt and parses the reply against schema.
// Call and parse failures both come back as *llm.Error.
func callStructured[T any](ctx context.Context, g LLMGateway, p llm.Prompt, kind llm.Kind, schema string) (T, error) {
	var zero T
	resp, err := g.Call(ctx, p, kind)
	if err != nil {
		return zero, err
	}
	out := llm.ParseStructured[T](resp.Content, schema)
	if !out.Parsed() {
		return zero, out.Err
	}
	return out.Value, nil
}

// cleanSQL strips code fences and surrounding whitespace from model-written SQL.
func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "sql")
		s = strings.TrimPrefix(s, "SQL")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
