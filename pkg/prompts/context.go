// Package prompts builds the language model prompts used by the question pipeline
// and declares the JSON contracts the model must answer with.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// maxHistoryTurns bounds how much conversation is replayed into a prompt.
const maxHistoryTurns = 4

// writeEntities renders extracted entities as a bullet list.
func writeEntities(b *strings.Builder, e models.ExtractedEntities) {
	companies := make([]string, 0, len(e.Companies))
	for _, c := range e.Companies {
		if c.Name != "" {
			companies = append(companies, c.Name)
		} else {
			companies = append(companies, c.Raw)
		}
	}
	b.WriteString(fmt.Sprintf("- Companies: %s\n", listOrNone(companies)))
	b.WriteString(fmt.Sprintf("- Sector: %s\n", valueOrNone(e.Sector)))
	b.WriteString(fmt.Sprintf("- Metrics: %s\n", listOrNone(e.Metrics)))
	b.WriteString(fmt.Sprintf("- Time window: %s\n", valueOrNone(e.TimeWindow.String())))
	b.WriteString(fmt.Sprintf("- Question type: %s\n", valueOrNone(string(e.QuestionType))))
}

func writeHistory(b *strings.Builder, history []models.Turn) {
	if len(history) == 0 {
		return
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	b.WriteString("CONVERSATION SO FAR:\n")
	for _, t := range history {
		b.WriteString(fmt.Sprintf("%s: %s\n", t.Role, t.Text))
	}
	b.WriteString("\n")
}

// writeTemplate renders one template for selection and confirmation prompts.
func writeTemplate(b *strings.Builder, i int, t models.Template) {
	b.WriteString(fmt.Sprintf("Template %d: %s\n", i, t.ID))
	b.WriteString(fmt.Sprintf("- Name: %s\n", t.Name))
	if t.Description != "" {
		b.WriteString(fmt.Sprintf("- Description: %s\n", t.Description))
	}
	params := make([]string, len(t.Parameters))
	for j, p := range t.Parameters {
		params[j] = p.Name
	}
	b.WriteString(fmt.Sprintf("- Parameters: %s\n", listOrNone(params)))
	if len(t.Intents) > 0 {
		b.WriteString(fmt.Sprintf("- Example question: %s\n", t.Intents[0]))
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func valueOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
