package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// NarrativeSystemMessage is the system message for enriched answers.
const NarrativeSystemMessage = `You are a financial analyst who explains query results in plain language. Use only the numbers you are given. You answer with JSON only.`

// NarrativeSchema is the JSON contract for enriched answers.
const NarrativeSchema = `{
  "type": "object",
  "required": ["narrative"],
  "properties": {
    "narrative": {"type": "string", "minLength": 1},
    "highlights": {"type": "array", "items": {"type": "string"}}
  }
}`

// NarrativeResponse is an enriched answer.
type NarrativeResponse struct {
	Narrative  string   `json:"narrative"`
	Highlights []string `json:"highlights"`
}

// defaultNarrativeRows bounds how many result rows are shown to the model.
const defaultNarrativeRows = 20

// NarrativeInput is what the enriched formatter shows the model.
type NarrativeInput struct {
	Question   string
	History    []models.Turn
	Baseline   string // the deterministic answer the narrative must agree with
	Provenance string // how the SQL was produced, e.g. "template sector_count"
	Columns    []string
	Rows       []map[string]any
	MaxRows    int
}

// ColumnStats aggregates one numeric result column over every row.
type ColumnStats struct {
	Column string
	Count  int
	Min    float64
	Max    float64
	Sum    float64
}

// NumericStats computes stats for the columns whose values are all numeric.
func NumericStats(columns []string, rows []map[string]any) []ColumnStats {
	var out []ColumnStats
	for _, c := range columns {
		st := ColumnStats{Column: c}
		numeric := len(rows) > 0
		for _, row := range rows {
			f, ok := toFloat(row[c])
			if !ok {
				numeric = false
				break
			}
			if st.Count == 0 || f < st.Min {
				st.Min = f
			}
			if st.Count == 0 || f > st.Max {
				st.Max = f
			}
			st.Sum += f
			st.Count++
		}
		if numeric {
			out = append(out, st)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// BuildNarrativePrompt asks for a short explanation of a result. Only the first
// MaxRows rows are shown; the stats cover all of them.
func BuildNarrativePrompt(in NarrativeInput) string {
	var b strings.Builder

	writeHistory(&b, in.History)
	b.WriteString(fmt.Sprintf("USER QUESTION: %q\n\n", in.Question))
	b.WriteString(fmt.Sprintf("BASELINE ANSWER: %s\n\n", in.Baseline))
	if in.Provenance != "" {
		b.WriteString(fmt.Sprintf("SOURCE: %s\n\n", in.Provenance))
	}

	limit := in.MaxRows
	if limit <= 0 {
		limit = defaultNarrativeRows
	}
	shown := in.Rows
	if len(shown) > limit {
		shown = shown[:limit]
	}
	b.WriteString(fmt.Sprintf("RESULT (%d rows, columns: %s):\n", len(in.Rows), strings.Join(in.Columns, ", ")))
	for _, row := range shown {
		ordered := make([]any, len(in.Columns))
		for i, c := range in.Columns {
			ordered[i] = row[c]
		}
		line, err := json.Marshal(ordered)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteString("\n")
	}
	if len(in.Rows) > len(shown) {
		b.WriteString(fmt.Sprintf("... %d more rows\n", len(in.Rows)-len(shown)))
	}

	if stats := NumericStats(in.Columns, in.Rows); len(stats) > 0 && len(in.Rows) > 1 {
		b.WriteString("\nCOLUMN STATS:\n")
		for _, st := range stats {
			b.WriteString(fmt.Sprintf("- %s: min %g, max %g, sum %g, avg %g\n",
				st.Column, st.Min, st.Max, st.Sum, st.Sum/float64(st.Count)))
		}
	}

	b.WriteString("\nWrite a two to four sentence narrative that answers the question. ")
	b.WriteString("Do not contradict the baseline answer. Do not introduce numbers that are not in the result. ")
	b.WriteString("Format large dollar amounts in billions or millions.\n")
	b.WriteString("Add up to three short highlights.\n\n")
	b.WriteString(`Respond with {"narrative": "...", "highlights": ["..."]}`)
	b.WriteString("\n\nReturn ONLY the JSON object.\n")

	return b.String()
}
