package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// RoutingSystemMessage is shared by confirmation and selection calls.
const RoutingSystemMessage = `You are a financial data analyst assistant that maps questions about SEC filings to vetted SQL templates. You answer with JSON only.`

// ConfirmationSchema is the JSON contract for template confirmation.
const ConfirmationSchema = `{
  "type": "object",
  "required": ["confirmed", "confidence"],
  "properties": {
    "confirmed": {"type": "boolean"},
    "template_id": {"type": ["string", "null"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

// ConfirmationResponse is the model's verdict on the proposed templates.
type ConfirmationResponse struct {
	Confirmed  bool    `json:"confirmed"`
	TemplateID *string `json:"template_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// BuildTemplateConfirmationPrompt asks the model whether one of the top candidate
// templates answers the question.
func BuildTemplateConfirmationPrompt(question string, entities models.ExtractedEntities, candidates []models.Template) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("USER QUESTION: %q\n\n", question))
	b.WriteString("EXTRACTED ENTITIES:\n")
	writeEntities(&b, entities)
	b.WriteString("\nCANDIDATE TEMPLATES:\n")
	for i, t := range candidates {
		writeTemplate(&b, i+1, t)
		b.WriteString("\n")
	}

	b.WriteString("Decide whether one of these templates answers the question exactly as asked.\n")
	b.WriteString("- Confirm only if the template's intent matches and its parameters can be filled from the entities.\n")
	b.WriteString("- If the question needs a filter, aggregation or comparison the template lacks, do not confirm.\n\n")

	b.WriteString("Respond with:\n")
	b.WriteString(`{"confirmed": true, "template_id": "<id from the list>", "confidence": 0.9, "reasoning": "..."}`)
	b.WriteString("\nor\n")
	b.WriteString(`{"confirmed": false, "template_id": null, "confidence": 0.8, "reasoning": "..."}`)
	b.WriteString("\n\nReturn ONLY the JSON object.\n")

	return b.String()
}

// SelectionSchema is the JSON contract for the fallback tier: pick a template or
// write SQL.
const SelectionSchema = `{
  "type": "object",
  "required": ["use_custom_sql", "confidence"],
  "properties": {
    "use_custom_sql": {"type": "boolean"},
    "template_id": {"type": ["string", "null"]},
    "sql": {"type": ["string", "null"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

// SelectionResponse is the fallback decision.
type SelectionResponse struct {
	UseCustomSQL bool    `json:"use_custom_sql"`
	TemplateID   *string `json:"template_id"`
	SQL          *string `json:"sql"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// SQLContext is what the model needs to write SQL against the store.
type SQLContext struct {
	SchemaMarkdown string
	Dialect        string // "sqlite" or "postgres"
	MaxRows        int
}

func writeSQLRules(b *strings.Builder, sc SQLContext) {
	b.WriteString("SQL RULES:\n")
	b.WriteString(fmt.Sprintf("- Target dialect: %s. Write a single read-only SELECT (a WITH ... SELECT is fine).\n", sc.Dialect))
	b.WriteString("- Only use the tables documented above: companies, sub, num, tag, pre.\n")
	b.WriteString("- Join num through sub (num.adsh = sub.adsh); num has no cik column.\n")
	b.WriteString("- Use sub.form = '10-K' and sub.fp = 'FY' for annual figures.\n")
	b.WriteString("- Income and cash flow values use num.qtrs = 4; balance sheet values use num.qtrs = 0.\n")
	b.WriteString("- Prefer COUNT(DISTINCT ...) when counting companies.\n")
	if sc.MaxRows > 0 {
		b.WriteString(fmt.Sprintf("- Keep result sets small: LIMIT %d or fewer rows.\n", sc.MaxRows))
	}
	b.WriteString("- No comments and no trailing text after the statement.\n\n")
}

// BuildSelectionPrompt asks the model to choose a template from the full catalog or
// to write custom SQL grounded on the schema.
func BuildSelectionPrompt(question string, history []models.Turn, entities models.ExtractedEntities, templates []models.Template, sc SQLContext) string {
	var b strings.Builder

	writeHistory(&b, history)
	b.WriteString(fmt.Sprintf("USER QUESTION: %q\n\n", question))
	b.WriteString("EXTRACTED ENTITIES:\n")
	writeEntities(&b, entities)

	b.WriteString("\nAVAILABLE TEMPLATES:\n")
	for i, t := range templates {
		writeTemplate(&b, i+1, t)
	}

	b.WriteString("\nDATABASE SCHEMA:\n")
	b.WriteString(sc.SchemaMarkdown)
	b.WriteString("\n")
	writeSQLRules(&b, sc)

	b.WriteString("Choose ONE option:\n")
	b.WriteString("A. A template answers the question: set use_custom_sql=false and template_id.\n")
	b.WriteString("B. No template fits: set use_custom_sql=true and put the SQL in sql.\n\n")
	b.WriteString("If entities can fill a template's parameters, prefer the template.\n\n")

	b.WriteString("Respond with:\n")
	b.WriteString(`{"use_custom_sql": false, "template_id": "sector_count", "sql": null, "confidence": 0.85, "reasoning": "..."}`)
	b.WriteString("\n\nReturn ONLY the JSON object.\n")

	return b.String()
}

// GenerationSchema is the JSON contract for SQL regeneration.
const GenerationSchema = `{
  "type": "object",
  "required": ["sql"],
  "properties": {
    "sql": {"type": "string", "minLength": 1},
    "explanation": {"type": "string"}
  }
}`

// GenerationResponse carries regenerated SQL.
type GenerationResponse struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// BuildRegenerationPrompt asks for a corrected query after the validator rejected
// previousSQL.
func BuildRegenerationPrompt(question string, entities models.ExtractedEntities, previousSQL, rejection string, sc SQLContext) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("USER QUESTION: %q\n\n", question))
	b.WriteString("EXTRACTED ENTITIES:\n")
	writeEntities(&b, entities)
	b.WriteString("\nDATABASE SCHEMA:\n")
	b.WriteString(sc.SchemaMarkdown)
	b.WriteString("\n")
	writeSQLRules(&b, sc)

	b.WriteString("A previous attempt was rejected.\n")
	b.WriteString("PREVIOUS SQL:\n")
	b.WriteString(previousSQL)
	b.WriteString("\n\nREJECTION REASON:\n")
	b.WriteString(rejection)
	b.WriteString("\n\nWrite a corrected query that answers the question and addresses the rejection.\n")
	b.WriteString(`Respond with {"sql": "...", "explanation": "..."}`)
	b.WriteString("\n\nReturn ONLY the JSON object.\n")

	return b.String()
}
