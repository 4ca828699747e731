package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/mcp"
	"github.com/ekaya-inc/finsql-engine/pkg/middleware"
)

// MCPHandler serves the MCP tools over streamable HTTP.
type MCPHandler struct {
	transport *server.StreamableHTTPServer
	logger    *zap.Logger
}

func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		transport: mcpServer.NewStreamableHTTPServer(),
		logger:    logger,
	}
}

// RegisterRoutes mounts POST /mcp. The mux answers other methods with 405,
// so they never reach the JSON-RPC logger.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	logged := middleware.MCPRequestLogger(h.logger)(h.transport)
	mux.Handle("POST /mcp", limitBody(logged, maxQueryBodyBytes))
}

// limitBody caps the request body; reads past n fail and the transport
// reports a parse error.
func limitBody(next http.Handler, n int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next.ServeHTTP(w, r)
	})
}
