// Package mcp implements the Model Context Protocol server for Shishin.
//
// The MCP server exposes guideline evaluation and inspection through MCP
// tools and resources, so MCP-compatible AI agents can consult their
// guardrails directly from their tool loop.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/shishin/internal/service/guidelines"
	"github.com/ashita-ai/shishin/internal/storage"
)

// Server wraps the MCP server with Shishin's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	svc       *guidelines.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools,
// and prompts registered.
func New(db *storage.DB, svc *guidelines.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:     db,
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"shishin",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
