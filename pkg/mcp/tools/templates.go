package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

type templateSummary struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Examples      []string      `json:"examples,omitempty"`
	RequiredSlots []models.Slot `json:"required_slots,omitempty"`
}

type listTemplatesResult struct {
	Templates []templateSummary `json:"templates"`
	Count     int               `json:"count"`
}

// RegisterListTemplatesTool adds a tool describing which kinds of questions
// are answered deterministically without the language model.
func RegisterListTemplatesTool(s *server.MCPServer, registry *templates.Registry) {
	tool := mcp.NewTool(
		"list_question_templates",
		mcp.WithDescription("List the question templates that are answered directly from curated SQL, with example phrasings and the entities each one needs."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all := registry.All()
		out := listTemplatesResult{Templates: make([]templateSummary, 0, len(all)), Count: len(all)}
		for _, t := range all {
			out.Templates = append(out.Templates, templateSummary{
				ID:            t.ID,
				Name:          t.Name,
				Description:   t.Description,
				Examples:      t.Intents,
				RequiredSlots: t.RequiredSlots,
			})
		}

		body, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal templates: %w", err)
		}
		return mcp.NewToolResultText(string(body)), nil
	})
}
