package prompts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

func sampleEntities() models.ExtractedEntities {
	return models.ExtractedEntities{
		Companies:    []models.CompanyRef{{Raw: "apple", Name: "APPLE INC", Ticker: "AAPL", Resolved: true}},
		Metrics:      []string{"revenue"},
		TimeWindow:   models.TimeWindow{Kind: models.TimeWindowYear, StartYear: 2023},
		QuestionType: models.QuestionTypeLookup,
	}
}

func sampleTemplates() []models.Template {
	return []models.Template{
		{
			ID:          "company_metric_year",
			Name:        "Company metric for a fiscal year",
			Description: "One financial metric for one company",
			Intents:     []string{"What was Apple's revenue in 2023?"},
			Parameters:  []models.TemplateParameter{{Name: "company_name"}, {Name: "fiscal_year"}},
		},
		{ID: "sector_count", Name: "Companies in a sector"},
	}
}

func TestBuildEntityExtractionPrompt(t *testing.T) {
	history := []models.Turn{{Role: "user", Text: "Tell me about Microsoft"}}
	p := BuildEntityExtractionPrompt("What is its revenue?", history, models.ExtractedEntities{}, []string{"revenue", "net_income"}, []string{"Energy"})

	assert.Contains(t, p, "CONVERSATION SO FAR:\nuser: Tell me about Microsoft\n")
	assert.Contains(t, p, `QUESTION: "What is its revenue?"`)
	assert.Contains(t, p, "- Companies: none")
	assert.Contains(t, p, "revenue, net_income")
	assert.Contains(t, p, "Energy")
	assert.True(t, strings.HasSuffix(p, "Return ONLY the JSON object.\n"))
}

func TestWriteHistory_KeepsLatestTurns(t *testing.T) {
	var history []models.Turn
	for _, s := range []string{"one", "two", "three", "four", "five", "six"} {
		history = append(history, models.Turn{Role: "user", Text: s})
	}
	var b strings.Builder
	writeHistory(&b, history)

	out := b.String()
	assert.NotContains(t, out, "user: one\n")
	assert.NotContains(t, out, "user: two\n")
	assert.Contains(t, out, "user: three\n")
	assert.Contains(t, out, "user: six\n")
}

func TestBuildTemplateConfirmationPrompt(t *testing.T) {
	p := BuildTemplateConfirmationPrompt("What was Apple's revenue in 2023?", sampleEntities(), sampleTemplates())

	assert.Contains(t, p, "- Companies: APPLE INC")
	assert.Contains(t, p, "- Time window: FY2023")
	assert.Contains(t, p, "Template 1: company_metric_year")
	assert.Contains(t, p, "- Parameters: company_name, fiscal_year")
	assert.Contains(t, p, "Template 2: sector_count")
	assert.Contains(t, p, "- Parameters: none")
}

func TestBuildSelectionPrompt_IncludesSchemaAndRules(t *testing.T) {
	sc := SQLContext{SchemaMarkdown: "## companies\n- cik TEXT\n", Dialect: "sqlite", MaxRows: 100}
	p := BuildSelectionPrompt("Which bank had the most assets?", nil, sampleEntities(), sampleTemplates(), sc)

	assert.NotContains(t, p, "CONVERSATION SO FAR")
	assert.Contains(t, p, "## companies")
	assert.Contains(t, p, "Target dialect: sqlite")
	assert.Contains(t, p, "LIMIT 100")
	assert.Contains(t, p, "use_custom_sql")
}

func TestBuildRegenerationPrompt(t *testing.T) {
	sc := SQLContext{SchemaMarkdown: "schema", Dialect: "postgres"}
	p := BuildRegenerationPrompt("q", sampleEntities(), "SELECT * FROM num", "missing_join", sc)

	assert.Contains(t, p, "PREVIOUS SQL:\nSELECT * FROM num\n")
	assert.Contains(t, p, "REJECTION REASON:\nmissing_join\n")
	assert.Contains(t, p, "Target dialect: postgres")
	assert.NotContains(t, p, "LIMIT")
}

func TestBuildSemanticValidationPrompt(t *testing.T) {
	p := BuildSemanticValidationPrompt("q", sampleEntities(), "SELECT 1", "schema")
	assert.Contains(t, p, "SQL TO REVIEW:\nSELECT 1\n")
	assert.Contains(t, p, "is_valid")
}

func TestBuildNarrativePrompt_TruncatesRows(t *testing.T) {
	rows := make([]map[string]any, 25)
	for i := range rows {
		rows[i] = map[string]any{"name": "CO", "value": i}
	}
	p := BuildNarrativePrompt(NarrativeInput{
		Question: "q",
		Baseline: "There are 25 companies.",
		Columns:  []string{"name", "value"},
		Rows:     rows,
	})

	assert.Contains(t, p, "RESULT (25 rows, columns: name, value):")
	assert.Contains(t, p, `["CO",0]`)
	assert.Contains(t, p, `["CO",19]`)
	assert.NotContains(t, p, `["CO",20]`)
	assert.Contains(t, p, "... 5 more rows")
	assert.Contains(t, p, "- value: min 0, max 24, sum 300, avg 12", "stats cover every row")
	assert.NotContains(t, p, "- name:")
}

func TestNumericStats(t *testing.T) {
	rows := []map[string]any{
		{"fy": int64(2022), "value": 394328000000.0, "name": "APPLE INC"},
		{"fy": int64(2023), "value": 383285000000.0, "name": "APPLE INC"},
	}

	stats := NumericStats([]string{"name", "fy", "value"}, rows)

	require.Len(t, stats, 2)
	assert.Equal(t, ColumnStats{Column: "fy", Count: 2, Min: 2022, Max: 2023, Sum: 4045}, stats[0])
	assert.Equal(t, 383285000000.0, stats[1].Min)
	assert.Empty(t, NumericStats([]string{"value"}, nil))
}

func TestSchemas_AcceptTheirExamples(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		body   string
	}{
		{"extraction", ExtractionSchema, `{"companies": ["APPLE INC"], "metrics": ["revenue"], "sectors": [], "time_periods": [2023, "Q3 2024"], "question_type": "lookup", "confidence": 0.9}`},
		{"confirmation", ConfirmationSchema, `{"confirmed": false, "template_id": null, "confidence": 0.8}`},
		{"selection", SelectionSchema, `{"use_custom_sql": true, "template_id": null, "sql": "SELECT 1", "confidence": 0.7}`},
		{"generation", GenerationSchema, `{"sql": "SELECT 1"}`},
		{"semantic", SemanticValidationSchema, `{"is_valid": true, "confidence": 1, "warnings": []}`},
		{"narrative", NarrativeSchema, `{"narrative": "Apple grew.", "highlights": ["+8%"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := llm.ParseStructured[map[string]any](tt.body, tt.schema)
			assert.True(t, out.Parsed(), "unexpected error: %v", out.Err)
		})
	}
}

func TestSchemas_RejectMalformed(t *testing.T) {
	out := llm.ParseStructured[ConfirmationResponse](`{"confirmed": "yes", "confidence": 0.8}`, ConfirmationSchema)
	require.False(t, out.Parsed())
	assert.Equal(t, llm.ErrorTypeParse, out.Err.Type)

	out2 := llm.ParseStructured[GenerationResponse](`{"sql": ""}`, GenerationSchema)
	assert.False(t, out2.Parsed())
}

func TestExtractionResponse_TimePeriodStrings(t *testing.T) {
	r := ExtractionResponse{TimePeriods: []json.RawMessage{
		json.RawMessage(`2023`),
		json.RawMessage(`"Q3 2024"`),
		json.RawMessage(`null`),
		json.RawMessage(`"  "`),
	}}
	assert.Equal(t, []string{"2023", "Q3 2024"}, r.TimePeriodStrings())
}
