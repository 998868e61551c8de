// Package mcpserve exposes the local tools as an MCP server over stdio.
package mcpserve

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/sdragent/tools"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "mcpserve")

// ServerName is the implementation name reported to the clients
const ServerName = "sdragent"

const instructions = `Sales development tools: analyze_profile scores a social profile as a lead, ` +
	`lookup_ranking returns the stored qualification of a handle.`

// New returns the MCP server with the tools registered
func New(version string, list ...tools.ITool) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range list {
		def, err := Definition(t)
		if err != nil {
			return nil, err
		}
		s.AddTool(def, Handler(t))
	}
	return s, nil
}

// Definition returns the MCP tool definition with the tool parameters schema
func Definition(t tools.ITool) (mcp.Tool, error) {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	schema, err := json.Marshal(params)
	if err != nil {
		return mcp.Tool{}, errors.Wrapf(err, "failed to encode parameters of %s", t.Name())
	}
	return mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), nil
}

// Handler returns the MCP handler calling the tool.
// A tool failure is returned as an error result.
func Handler(t tools.ITool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		started := time.Now()
		input := "{}"
		if args := req.GetRawArguments(); args != nil {
			js, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError("invalid arguments"), nil
			}
			input = string(js)
		}

		out, err := t.Call(ctx, input)
		if err != nil {
			metricskey.StatsToolCallsFailed.IncrCounter(1, t.Name())
			logger.ContextKV(ctx, xlog.DEBUG, "tool", t.Name(), "err", err.Error())
			return mcp.NewToolResultError(err.Error()), nil
		}
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, t.Name())
		metricskey.PerfToolCall.MeasureSince(started, t.Name())
		return mcp.NewToolResultText(out), nil
	}
}

// Serve runs the server over the reader and writer until ctx is cancelled or in is closed
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	logger.ContextKV(ctx, xlog.INFO, "status", "serving", "transport", "stdio")
	if err := server.NewStdioServer(s).Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "stdio server failed")
	}
	return nil
}
