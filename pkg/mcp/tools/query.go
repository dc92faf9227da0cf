// Package tools registers the MCP tool surface. Tool handlers resolve the
// tenant from request claims and delegate to the shared tool runner, so MCP
// callers get the exact guard semantics the chat agent gets.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
	"github.com/quarrylabs/quarry-agent/pkg/auth"
)

// QueryToolDeps contains dependencies for the query tools.
type QueryToolDeps struct {
	Runner  *agent.ToolRunner
	Catalog *agent.SchemaCatalog
	Logger  *zap.Logger
}

// RegisterQueryTools registers execute_sql and describe_schema.
func RegisterQueryTools(s *server.MCPServer, deps *QueryToolDeps) {
	registerExecuteSQLTool(s, deps)
	registerDescribeSchemaTool(s, deps)
}

func registerExecuteSQLTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolExecuteSQL,
		mcp.WithDescription(
			"Run a read-only SQL query against the tenant's analytics data. "+
				"Only single SELECT or WITH statements pass validation, every "+
				"query must filter on tenant_id, and results are capped. "+
				"Validation failures come back as a structured error to correct and retry.",
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("The SQL query to execute"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, ok := auth.TenantFromContext(ctx)
		if !ok {
			return nil, errors.New("authentication required")
		}

		query := getStringArg(req, "query")
		if query == "" {
			return NewErrorResult("invalid_arguments", "query parameter is required"), nil
		}

		outcome, err := runTool(ctx, deps, tenantID, agent.ToolExecuteSQL, executeArgs{Query: query})
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})
}

func registerDescribeSchemaTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		agent.ToolDescribeSchema,
		mcp.WithDescription(
			"Describe the queryable tables and their columns. "+
				"Pass a table name for one table, or no arguments for the full catalog.",
		),
		mcp.WithString(
			"table",
			mcp.Description("Optional table name to describe"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, ok := auth.TenantFromContext(ctx)
		if !ok {
			return nil, errors.New("authentication required")
		}

		outcome, err := runTool(ctx, deps, tenantID, agent.ToolDescribeSchema,
			describeArgs{Table: getStringArg(req, "table")})
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})
}

type executeArgs struct {
	Query string `json:"query"`
}

type describeArgs struct {
	Table string `json:"table,omitempty"`
}

// runTool marshals arguments and dispatches through the shared runner. Soft
// errors in the payload become IsError results so the caller sees them.
func runTool(ctx context.Context, deps *QueryToolDeps, tenantID, name string, args any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s arguments: %w", name, err)
	}

	outcome, err := deps.Runner.Execute(ctx, tenantID, name, string(encoded))
	if err != nil {
		return nil, err
	}

	result := mcp.NewToolResultText(outcome.Payload)
	result.IsError = isSoftError(outcome.Payload)
	return result, nil
}

// isSoftError reports whether a runner payload is a structured error.
func isSoftError(payload string) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return false
	}
	return probe.Error != ""
}

// getStringArg extracts an optional string parameter from the request.
func getStringArg(req mcp.CallToolRequest, key string) string {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if val, ok := args[key].(string); ok {
			return val
		}
	}
	return ""
}
