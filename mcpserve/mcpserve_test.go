package mcpserve_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/mcpserve"
	"github.com/effective-security/sdragent/mocks/mocktools"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const initialize = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`

func handle(t *testing.T, s interface {
	HandleMessage(context.Context, json.RawMessage) mcp.JSONRPCMessage
}, msg string) string {
	t.Helper()
	res := s.HandleMessage(context.Background(), json.RawMessage(msg))
	js, err := json.Marshal(res)
	require.NoError(t, err)
	return string(js)
}

func TestServer_Tools(t *testing.T) {
	s, err := mcpserve.New("v1.0.0", sdr.NewAnalyzeProfile(nil, 0))
	require.NoError(t, err)

	res := handle(t, s, initialize)
	assert.Contains(t, res, `"name":"sdragent"`)
	assert.Contains(t, res, `"version":"v1.0.0"`)

	res = handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Contains(t, res, `"name":"analyze_profile"`)
	assert.Contains(t, res, `"required":["handle"]`)

	res = handle(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"analyze_profile","arguments":{"handle":"@NandaMac"}}}`)
	assert.Contains(t, res, `\"handle\":\"nandamac\"`)
	assert.NotContains(t, res, `"isError":true`)

	res = handle(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"analyze_profile","arguments":{"handle":" "}}}`)
	assert.Contains(t, res, `"isError":true`)
	assert.Contains(t, res, "invalid request: empty handle")
}

func TestHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	tool := mocktools.NewMockITool(ctrl)
	tool.EXPECT().Name().Return("echo").AnyTimes()

	tool.EXPECT().Call(gomock.Any(), "{}").Return(`{"ok":true}`, nil)
	res, err := mcpserve.Handler(tool)(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, `{"ok":true}`, res.Content[0].(mcp.TextContent).Text)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"q": "x"}
	tool.EXPECT().Call(gomock.Any(), `{"q":"x"}`).Return("", errors.New("quota exceeded"))
	res, err = mcpserve.Handler(tool)(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "quota exceeded", res.Content[0].(mcp.TextContent).Text)
}

func TestDefinition(t *testing.T) {
	ctrl := gomock.NewController(t)
	tool := mocktools.NewMockITool(ctrl)
	tool.EXPECT().Name().Return("noop").AnyTimes()
	tool.EXPECT().Description().Return("does nothing")
	tool.EXPECT().Parameters().Return(nil)

	def, err := mcpserve.Definition(tool)
	require.NoError(t, err)
	assert.Equal(t, "noop", def.Name)
	assert.Equal(t, "does nothing", def.Description)
	assert.JSONEq(t, `{"type":"object"}`, string(def.RawInputSchema))

	tool.EXPECT().Parameters().Return(func() {})
	_, err = mcpserve.Definition(tool)
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	s, err := mcpserve.New("v1.0.0", sdr.NewAnalyzeProfile(nil, 0))
	require.NoError(t, err)

	in := strings.NewReader(initialize + "\n" + `{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, mcpserve.Serve(context.Background(), s, in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"protocolVersion"`)
	assert.Contains(t, lines[1], `"analyze_profile"`)
}
