package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/llm"
)

type healthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store,omitempty"`
	LLM     string `json:"llm"`
	Model   string `json:"model,omitempty"`

	Usage *llm.UsageStats `json:"usage,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status and version plus store and language
// model availability, with gateway call and token counters when a model is
// configured. store and gateway may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, store datasource.Store, gateway *llm.Gateway) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version, LLM: "not_configured"}

		if store != nil {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := store.TestConnection(probeCtx)
			cancel()
			if err != nil {
				res.Status = "degraded"
				res.Store = "error"
			} else {
				res.Store = "ok"
			}
		}
		if gateway.Configured() {
			res.LLM = gateway.BreakerState().String()
			res.Model = gateway.Model()
			usage := gateway.Usage()
			res.Usage = &usage
		}

		body, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(body)), nil
	})
}
