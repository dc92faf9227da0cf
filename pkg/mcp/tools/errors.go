package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorResponse is a structured error returned inside a tool result. Guard
// violations and bad parameters go back this way so the calling agent sees
// the detail and can correct itself, instead of the MCP client swallowing a
// protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResult wraps an actionable error as a tool result. System failures
// (store unreachable, context canceled) should still be returned as Go
// errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	payload, _ := json.Marshal(ErrorResponse{Error: true, Code: code, Message: message})
	result := mcp.NewToolResultText(string(payload))
	result.IsError = true
	return result
}
