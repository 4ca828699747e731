package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidParameters = "invalid_parameters"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the JSON body of a tool result with isError set. Tool
// failures travel as content, not JSON-RPC errors, so the calling model sees
// the message and can correct its arguments.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult returns an isError tool result with the given code.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails is NewErrorResult with a details object.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	body, err := json.Marshal(ErrorResponse{Error: true, Code: code, Message: message, Details: details})
	if err != nil {
		body, _ = json.Marshal(ErrorResponse{Error: true, Code: code, Message: message})
	}
	return mcp.NewToolResultError(string(body))
}
