// Package mcpserver publishes the extraction tools over the Model Context
// Protocol so other agents can use them without an assistants run.
package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PipeOpsHQ/quiz-agent/tools"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

const (
	serverName    = "quiz-agent"
	serverVersion = "0.1.0"
)

// Build registers every tool definition on a new MCP server. The latest-file
// sentinel has no thread to resolve against here, so api_request payloads
// are sent as given.
func Build(toolset *tools.Toolset, logger *slog.Logger) (*mcp.Server, error) {
	if toolset == nil {
		return nil, errors.New("toolset is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	for _, def := range tools.Definitions() {
		server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.JSONSchema,
		}, handler(toolset, def.Name, logger))
	}
	return server, nil
}

func handler(toolset *tools.Toolset, name string, logger *slog.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		call := types.ToolCall{Name: name}
		if req != nil && req.Params != nil {
			call.Arguments = req.Params.Arguments
		}
		res := toolset.Run(ctx, call)
		logger.Info("mcp tool call", "tool", name, "failed", res.Failed(), "duration_ms", time.Since(start).Milliseconds())
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: tools.Truncate(res.Text(), tools.MaxToolOutputChars)}},
			IsError: res.Failed(),
		}, nil
	}
}

// ServeStdio blocks until the client disconnects or ctx is cancelled.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
