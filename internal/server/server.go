// Package server assembles the MCP server: every registry tool is exposed
// over the protocol, and every outcome is returned as one JSON envelope in
// a single text content block.
package server

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"netdiag-mcp/internal/tools"
)

// Server wraps the MCP server around the tool registry.
type Server struct {
	mcp      *mcp.Server
	registry *tools.Registry
}

// New builds the MCP server and registers every tool in the registry.
func New(registry *tools.Registry, name, version string) *Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)

	for _, t := range registry.Tools() {
		tool := t
		mcp.AddTool(srv, &mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Schema,
		}, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
			env := registry.Execute(ctx, tool.Name, args)
			payload, err := env.JSON()
			if err != nil {
				slog.Error("envelope marshal failed", "tool", tool.Name, "error", err)
				return nil, nil, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: payload}},
				IsError: !env.Success,
			}, nil, nil
		})
	}

	return &Server{mcp: srv, registry: registry}
}

// Run serves the MCP protocol over stdio until ctx is cancelled or the
// peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcp server starting", "transport", "stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCP exposes the underlying server, used by tests to connect in-memory
// transports.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}
