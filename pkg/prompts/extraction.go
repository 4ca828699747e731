package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/jsonutil"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// ExtractionSchema is the JSON contract for entity extraction responses.
const ExtractionSchema = `{
  "type": "object",
  "required": ["companies", "metrics", "sectors", "time_periods", "question_type", "confidence"],
  "properties": {
    "companies": {"type": "array", "items": {"type": "string"}},
    "metrics": {"type": "array", "items": {"type": "string"}},
    "sectors": {"type": "array", "items": {"type": "string"}},
    "time_periods": {"type": "array", "items": {"type": ["string", "integer"]}},
    "question_type": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

// ExtractionResponse is the model's view of the question's entities.
type ExtractionResponse struct {
	Companies    []string          `json:"companies"`
	Metrics      []string          `json:"metrics"`
	Sectors      []string          `json:"sectors"`
	TimePeriods  []json.RawMessage `json:"time_periods"`
	QuestionType string            `json:"question_type"`
	Confidence   float64           `json:"confidence"`
	Reasoning    string            `json:"reasoning"`
}

// TimePeriodStrings returns time periods as strings; models sometimes answer bare
// years as numbers.
func (r ExtractionResponse) TimePeriodStrings() []string {
	return jsonutil.ScalarStrings(r.TimePeriods)
}

// ExtractionSystemMessage is the system message for entity extraction.
const ExtractionSystemMessage = `You are a financial data analyst assistant. You extract structured entities from questions about S&P 500 companies and their SEC filings. You answer with JSON only.`

// BuildEntityExtractionPrompt asks the model to fill the slots the deterministic
// pass could not resolve. partial carries what was already found.
func BuildEntityExtractionPrompt(question string, history []models.Turn, partial models.ExtractedEntities, metricNames, sectors []string) string {
	var b strings.Builder

	b.WriteString("Extract structured entities from the user's question.\n\n")
	writeHistory(&b, history)
	b.WriteString(fmt.Sprintf("QUESTION: %q\n\n", question))

	b.WriteString("ALREADY RESOLVED (keep these unless clearly wrong):\n")
	writeEntities(&b, partial)
	b.WriteString("\n")

	b.WriteString("Extract:\n")
	b.WriteString("1. companies: official uppercase filer names (AAPL -> APPLE INC, MSFT -> MICROSOFT CORP). ")
	b.WriteString("Resolve pronouns such as \"its\" or \"that company\" from the conversation.\n")
	b.WriteString(fmt.Sprintf("2. metrics: one of %s\n", strings.Join(metricNames, ", ")))
	b.WriteString(fmt.Sprintf("3. sectors: one of %s\n", strings.Join(sectors, ", ")))
	b.WriteString("4. time_periods: years (2023), fiscal years (FY2023), ranges (2020-2023), quarters (Q3 2024) or \"latest\"\n")
	b.WriteString("5. question_type: one of lookup, count, list, comparison, trend, calculation\n")
	b.WriteString("6. confidence: 0.0-1.0\n")
	b.WriteString("7. reasoning: one sentence\n\n")

	b.WriteString("Return empty lists for entity types that are not present. Do not invent entities.\n\n")

	b.WriteString("Example:\n")
	b.WriteString("Question: \"What's AAPL's revenue in Q3 2024?\"\n")
	b.WriteString(`{"companies": ["APPLE INC"], "metrics": ["revenue"], "sectors": [], "time_periods": ["Q3 2024"], "question_type": "lookup", "confidence": 0.95, "reasoning": "Ticker AAPL is Apple; revenue for one quarter."}`)
	b.WriteString("\n\nReturn ONLY the JSON object.\n")

	return b.String()
}
