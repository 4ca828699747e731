package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// AskToolName is the MCP name of the question answering tool.
const AskToolName = "ask_financial_question"

// Answerer runs one question through the query pipeline.
type Answerer interface {
	Run(ctx context.Context, q models.Question) models.Response
}

// RegisterAskTool adds the ask_financial_question tool to the MCP server.
// An unanswerable question is still a successful tool call: the response
// carries success=false and a message meant for the end user.
func RegisterAskTool(s *server.MCPServer, answerer Answerer, logger *zap.Logger) {
	tool := mcp.NewTool(
		AskToolName,
		mcp.WithDescription(
			"Answer a natural-language question about S&P 500 companies and their SEC-reported financials. "+
				"Supports sector counts and listings, company CIK, sector and headquarters lookups, "+
				"and reported metrics such as revenue or net income by fiscal year. "+
				"Returns JSON with the answer, the SQL that produced it and request metadata.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question in plain English, e.g. \"What was Apple's revenue in 2022?\""),
		),
		mcp.WithArray(
			"history",
			mcp.Description("Optional earlier conversation turns, oldest first, used to resolve follow-ups like \"what about 2021?\""),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role": map[string]any{"type": "string", "enum": []string{"user", "assistant"}},
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"role", "text"},
			}),
		),
		mcp.WithBoolean(
			"debug",
			mcp.Description("Include extracted entities, failing stage and reason codes in the metadata"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(text) == "" {
			return NewErrorResult(CodeInvalidParameters, "question is required"), nil
		}
		q := models.Question{Text: text}

		if args, ok := req.Params.Arguments.(map[string]any); ok {
			if raw, ok := args["history"]; ok && raw != nil {
				history, err := parseHistory(raw)
				if err != nil {
					return NewErrorResultWithDetails(CodeInvalidParameters,
						"history must be a list of {role, text} objects",
						map[string]any{"reason": err.Error()}), nil
				}
				q.History = history
			}
			if debug, ok := args["debug"].(bool); ok {
				q.Debug = debug
			}
		}

		resp := answerer.Run(ctx, q)
		logger.Debug("Answered MCP question",
			zap.String("request_id", resp.Metadata.RequestID),
			zap.Bool("success", resp.Success))

		body, err := json.Marshal(resp)
		if err != nil {
			logger.Error("Failed to encode answer", zap.String("request_id", resp.Metadata.RequestID), zap.Error(err))
			return NewErrorResult(CodeInternal, "the answer could not be encoded"), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	})
}

func parseHistory(raw any) ([]models.Turn, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var turns []models.Turn
	if err := json.Unmarshal(b, &turns); err != nil {
		return nil, err
	}
	for i, t := range turns {
		switch t.Role {
		case "user", "assistant":
		default:
			return nil, fmt.Errorf("turn %d: role must be user or assistant", i)
		}
	}
	return turns, nil
}
