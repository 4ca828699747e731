package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// SemanticValidationSystemMessage frames the model as a reviewer, not an author.
const SemanticValidationSystemMessage = `You are a SQL reviewer for a financial database built from SEC filings. You judge whether a query answers a question correctly. You never rewrite the query. You answer with JSON only.`

// SemanticValidationSchema is the JSON contract for semantic validation.
const SemanticValidationSchema = `{
  "type": "object",
  "required": ["is_valid", "confidence"],
  "properties": {
    "is_valid": {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"},
    "warnings": {"type": "array", "items": {"type": "string"}}
  }
}`

// SemanticValidationResponse is the reviewer's verdict.
type SemanticValidationResponse struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Warnings   []string `json:"warnings"`
}

// BuildSemanticValidationPrompt asks whether sql answers question given the schema.
func BuildSemanticValidationPrompt(question string, entities models.ExtractedEntities, sql, schemaMarkdown string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("USER QUESTION: %q\n\n", question))
	b.WriteString("EXTRACTED ENTITIES:\n")
	writeEntities(&b, entities)
	b.WriteString("\nDATABASE SCHEMA:\n")
	b.WriteString(schemaMarkdown)
	b.WriteString("\nSQL TO REVIEW:\n")
	b.WriteString(sql)
	b.WriteString("\n\n")

	b.WriteString("Check:\n")
	b.WriteString("1. Does the query answer the question that was asked, for the right companies, metric and period?\n")
	b.WriteString("2. Are joins correct (num joins sub on adsh; companies joins sub on cik)?\n")
	b.WriteString("3. Are aggregations and filters appropriate (annual 10-K data uses fp = 'FY')?\n")
	b.WriteString("4. Are NULL values handled where they would change the answer?\n\n")

	b.WriteString("Mark the query invalid only for errors that would produce a wrong answer. ")
	b.WriteString("Put style concerns in warnings.\n\n")

	b.WriteString("Respond with:\n")
	b.WriteString(`{"is_valid": true, "confidence": 0.9, "reason": "...", "warnings": []}`)
	b.WriteString("\n\nReturn ONLY the JSON object.\n")

	return b.String()
}
