package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"plain object", `{"name": "test", "value": 123}`, `{"name": "test", "value": 123}`, false},
		{"plain array", `[{"id": "a"}, {"id": "b"}]`, `[{"id": "a"}, {"id": "b"}]`, false},
		{"nested", `{"items": [{"nested": {"array": [1, 2, 3]}}]}`, `{"items": [{"nested": {"array": [1, 2, 3]}}]}`, false},
		{"think tags", "<think>\nlet me see {maybe}\n</think>\n{\"valid\": true}", `{"valid": true}`, false},
		{"text before", `Here is the answer: {"template_id": "sector_count"}`, `{"template_id": "sector_count"}`, false},
		{"text after", `{"valid": false} Hope that helps!`, `{"valid": false}`, false},
		{"markdown fence", "```json\n{\"sql\": \"SELECT 1\"}\n```", `{"sql": "SELECT 1"}`, false},
		{"brackets in strings", `{"sql": "SELECT '{' FROM t", "n": [1]}`, `{"sql": "SELECT '{' FROM t", "n": [1]}`, false},
		{"escaped quotes", `{"text": "he said \"hi\" {"}`, `{"text": "he said \"hi\" {"}`, false},
		{"array before object", `[1, 2] {"a": 1}`, `[1, 2]`, false},
		{"no json", "I cannot help with that.", "", true},
		{"invalid json", `{"a": }`, "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

const verdictSchema = `{
  "type": "object",
  "required": ["valid", "confidence"],
  "properties": {
    "valid": {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

func TestParseStructured(t *testing.T) {
	type verdict struct {
		Valid      bool    `json:"valid"`
		Confidence float64 `json:"confidence"`
	}

	t.Run("parsed", func(t *testing.T) {
		out := ParseStructured[verdict]("<think>ok</think>\n{\"valid\": true, \"confidence\": 0.9}", verdictSchema)
		require.True(t, out.Parsed(), "err: %v", out.Err)
		assert.Equal(t, verdict{Valid: true, Confidence: 0.9}, out.Value)
		assert.Equal(t, `{"valid": true, "confidence": 0.9}`, out.Raw)
	})

	t.Run("missing field", func(t *testing.T) {
		out := ParseStructured[verdict](`{"valid": true}`, verdictSchema)
		require.False(t, out.Parsed())
		assert.Equal(t, ErrorTypeParse, out.Err.Type)
		assert.Contains(t, out.Err.Error(), "confidence")
	})

	t.Run("out of range", func(t *testing.T) {
		out := ParseStructured[verdict](`{"valid": true, "confidence": 7}`, verdictSchema)
		assert.False(t, out.Parsed())
	})

	t.Run("no json", func(t *testing.T) {
		out := ParseStructured[verdict]("The query looks fine.", verdictSchema)
		require.False(t, out.Parsed())
		assert.Equal(t, "no JSON in response", out.Err.Message)
		assert.Empty(t, out.Raw)
	})

	t.Run("no schema", func(t *testing.T) {
		out := ParseStructured[map[string]any](`{"anything": [1, 2]}`, "")
		require.True(t, out.Parsed())
		assert.Len(t, out.Value["anything"], 2)
	})

	t.Run("bad schema", func(t *testing.T) {
		out := ParseStructured[verdict](`{"valid": true, "confidence": 1}`, `{"type": 12}`)
		require.False(t, out.Parsed())
		assert.Equal(t, "invalid schema", out.Err.Message)
	})
}
