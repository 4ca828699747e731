package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

type toolCallResponse struct {
	Result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r toolCallResponse) text() string {
	if len(r.Result.Content) == 0 {
		return ""
	}
	return r.Result.Content[0].Text
}

// callTool sends a tools/call request through the server's JSON-RPC handler.
func callTool(t *testing.T, s *server.MCPServer, name string, args any) toolCallResponse {
	t.Helper()
	argJSON, err := json.Marshal(args)
	require.NoError(t, err)
	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, name, argJSON)

	raw := s.HandleMessage(context.Background(), []byte(msg))
	body, err := json.Marshal(raw)
	require.NoError(t, err)

	var resp toolCallResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Nil(t, resp.Error, "unexpected JSON-RPC error")
	return resp
}

func newTestMCPServer() *server.MCPServer {
	return server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
}

type probeStore struct {
	err error
}

func (s *probeStore) Query(context.Context, string, []any, int) (*datasource.QueryExecutionResult, error) {
	return nil, errors.New("not implemented")
}
func (s *probeStore) Dialect() sqlpkg.Dialect { return sqlpkg.DialectSQLite }
func (s *probeStore) TestConnection(context.Context) error { return s.err }
func (s *probeStore) Close() error { return nil }
