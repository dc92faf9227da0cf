// Package mcp exposes the query tools over the Model Context Protocol so
// external agents can use the same guarded execution path as the chat
// endpoint.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
	"github.com/quarrylabs/quarry-agent/pkg/mcp/tools"
)

// Server wraps the mcp-go MCPServer with the query tool set registered.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer builds an MCP server exposing execute_sql, describe_schema, and
// health. All SQL runs through the same guard and executor as chat turns.
func NewServer(name, version string, runner *agent.ToolRunner, catalog *agent.SchemaCatalog, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)

	tools.RegisterQueryTools(mcpServer, &tools.QueryToolDeps{
		Runner:  runner,
		Catalog: catalog,
		Logger:  logger.Named("mcp"),
	})
	tools.RegisterHealthTool(mcpServer, version)

	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer wraps the server in an HTTP transport. Routing to
// the /mcp path is the mux's job, so no endpoint path is set here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
