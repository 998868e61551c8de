package catalog_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/chatmodel"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/mocks/mockcatalog"
	"github.com/effective-security/sdragent/mocks/mocktools"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func searchTool(desc string) *mcp.Tool {
	return &mcp.Tool{
		Name:        "search",
		Description: desc,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "search query"},
				"limit": map[string]any{"type": []any{"null", "integer"}},
			},
			"required": []any{"query"},
		},
	}
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "web_search", catalog.SanitizeID("Web Search"))
	assert.Equal(t, "apify_com_v2", catalog.SanitizeID("apify.com/v2"))
	assert.Equal(t, "external__web_search__search", catalog.NamespacedName(catalog.SourceExternal, "Web-Search", "search"))
}

func TestBuild_Namespacing(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	local := mocktools.NewMockITool(ctrl)
	local.EXPECT().Name().Return("search").AnyTimes()
	local.EXPECT().Description().Return("local search").AnyTimes()
	local.EXPECT().Parameters().Return(nil).AnyTimes()

	gw := mockcatalog.NewMockGateway(ctrl)
	gw.EXPECT().Connections().Return([]gateway.Connection{
		{ServerID: "s1", Name: "Apify", Tools: []*mcp.Tool{searchTool("apify search")}},
		{ServerID: "s2", Name: "Web Search", Tools: []*mcp.Tool{searchTool("web search"), searchTool("dup")}},
	})

	r, err := catalog.NewFederator(gw, local).Build(ctx)
	require.NoError(t, err)

	list := r.Tools()
	require.Len(t, list, 3)
	names := []string{list[0].NamespacedName, list[1].NamespacedName, list[2].NamespacedName}
	assert.Equal(t, []string{
		"local__sdr__search",
		"external__apify__search",
		"external__web_search__search",
	}, names)
	assert.Equal(t, "web search", list[2].Description)
	assert.Equal(t, "s2", list[2].ServerID)
	for _, d := range list {
		assert.Equal(t, "search", d.RawName)
	}

	// remote params are all optional
	assert.Empty(t, list[1].Params.Required)
	require.Len(t, list[1].Params.Params, 2)
	assert.Equal(t, catalog.Param{Name: "limit", Kind: catalog.KindInteger}, list[1].Params.Params[0])
	assert.Equal(t, catalog.Param{Name: "query", Kind: catalog.KindString, Description: "search query"}, list[1].Params.Params[1])

	// local tool without properties gets the catch-all parameter
	require.Len(t, list[0].Params.Params, 1)
	assert.Equal(t, catalog.CatchAllParam, list[0].Params.Params[0].Name)
	assert.Equal(t, catalog.KindAny, list[0].Params.Params[0].Kind)

	d, ok := r.Lookup("search")
	require.True(t, ok)
	assert.Equal(t, "local__sdr__search", d.NamespacedName)

	d, ok = r.Lookup("external__apify__search")
	require.True(t, ok)
	assert.Equal(t, "s1", d.ServerID)

	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestLookup_UniqueExternalRawName(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mockcatalog.NewMockGateway(ctrl)
	gw.EXPECT().Connections().Return([]gateway.Connection{
		{ServerID: "s1", Name: "Apify", Tools: []*mcp.Tool{{Name: "scrape", InputSchema: map[string]any{"type": "object"}}}},
		{ServerID: "s2", Name: "Other", Tools: []*mcp.Tool{{Name: "scrape", InputSchema: map[string]any{"type": "object"}}}},
		{ServerID: "s3", Name: "Third", Tools: []*mcp.Tool{{Name: "crawl", InputSchema: map[string]any{"type": "object"}}}},
	})
	r, err := catalog.NewFederator(gw).Build(context.Background())
	require.NoError(t, err)

	d, ok := r.Lookup("crawl")
	require.True(t, ok)
	assert.Equal(t, "external__third__crawl", d.NamespacedName)

	// ambiguous
	_, ok = r.Lookup("scrape")
	assert.False(t, ok)
}

func TestRegistry_Call(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	gw := mockcatalog.NewMockGateway(ctrl)
	gw.EXPECT().Connections().Return([]gateway.Connection{
		{ServerID: "s1", Name: "Apify", Tools: []*mcp.Tool{searchTool("apify search")}},
	})

	analyze := sdr.NewAnalyzeProfile(cache.NewMemory(), 0)
	r, err := catalog.NewFederator(gw, analyze).Build(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	d, ok := r.Lookup("analyze_profile")
	require.True(t, ok)
	assert.Equal(t, []string{"handle"}, d.Params.Required)

	t.Run("local", func(t *testing.T) {
		out := r.Call(ctx, "local__sdr__analyze_profile", `{"handle":"@NandaMac"}`)
		assert.False(t, out.IsError)
		assert.Contains(t, out.Content, `"handle":"nandamac"`)

		out = r.Call(ctx, "analyze_profile", `{}`)
		assert.True(t, out.IsError)
		assert.Equal(t, `{"error":"invalid request: empty handle"}`, out.Content)
	})

	t.Run("unknown", func(t *testing.T) {
		out := r.Call(ctx, "external__none__x", `{}`)
		assert.True(t, out.IsError)
		assert.Equal(t, `{"error":"tool not found: external__none__x"}`, out.Content)
	})

	t.Run("external", func(t *testing.T) {
		gw.EXPECT().CallTool(gomock.Any(), "s1", "search", map[string]any{"query": "acme"}).
			Return(&gateway.ToolResult{Content: "found acme"}, nil)
		out := r.Call(ctx, "external__apify__search", `{"query":"acme"}`)
		assert.False(t, out.IsError)
		assert.Equal(t, "found acme", out.Content)

		gw.EXPECT().CallTool(gomock.Any(), "s1", "search", map[string]any{"query": "acme", "limit": float64(2)}).
			Return(&gateway.ToolResult{Content: "ignored", Structured: map[string]any{"count": 2}}, nil)
		out = r.Call(ctx, "external__apify__search", `{"query":"acme","limit":2}`)
		assert.Equal(t, `{"count":2}`, out.Content)

		gw.EXPECT().CallTool(gomock.Any(), "s1", "search", gomock.Any()).
			Return(&gateway.ToolResult{Content: "quota exceeded", IsError: true}, nil)
		out = r.Call(ctx, "external__apify__search", `{"query":"acme"}`)
		assert.True(t, out.IsError)
		assert.Equal(t, `{"error":"quota exceeded"}`, out.Content)

		gw.EXPECT().CallTool(gomock.Any(), "s1", "search", gomock.Any()).
			Return(nil, errors.WithMessagef(gateway.ErrNotConnected, "%s", "s1"))
		out = r.Call(ctx, "external__apify__search", `{"query":"acme"}`)
		assert.True(t, out.IsError)
		assert.Equal(t, `{"error":"s1: server not connected"}`, out.Content)

		// invalid kind is rejected before calling the server
		out = r.Call(ctx, "external__apify__search", `{"query":"acme","limit":"two"}`)
		assert.True(t, out.IsError)
		assert.Equal(t, `{"error":"parameter \"limit\": expected integer, got string"}`, out.Content)
	})
}

func TestRegistry_CallLogsTurn(t *testing.T) {
	var buf bytes.Buffer
	prev := xlog.GetFormatter()
	xlog.SetFormatter(xlog.NewStringFormatter(&buf))
	repo := xlog.MustRepoLogger("github.com/effective-security/sdragent")
	repo.SetLogLevel(map[string]xlog.LogLevel{"catalog": xlog.DEBUG})
	defer func() {
		xlog.SetFormatter(prev)
		repo.SetLogLevel(map[string]xlog.LogLevel{"catalog": xlog.INFO})
	}()

	r, err := catalog.NewFederator(nil, sdr.NewAnalyzeProfile(nil, 0)).Build(context.Background())
	require.NoError(t, err)

	chatCtx := chatmodel.NewChatContext("sess-77", "claude-sonnet-4-5")
	ctx := chatmodel.WithChatContext(context.Background(), chatCtx)

	out := r.Call(ctx, "analyze_profile", `{"handle":"acme"}`)
	require.False(t, out.IsError)
	out = r.Call(ctx, "analyze_profile", `{}`)
	require.True(t, out.IsError)

	logs := buf.String()
	assert.Contains(t, logs, "local__sdr__analyze_profile")
	assert.Contains(t, logs, "sess-77")
	assert.Contains(t, logs, chatCtx.GetTurnID())
	assert.Contains(t, logs, "empty handle")
}

func TestTranslate(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		spec, err := catalog.Translate(nil, false)
		require.NoError(t, err)
		assert.Equal(t, []catalog.Param{{Name: "input", Kind: catalog.KindAny, Description: "Tool input"}}, spec.Params)
	})

	t.Run("kinds", func(t *testing.T) {
		spec, err := catalog.Translate(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "date"},
				"b": map[string]any{"description": "untyped"},
				"c": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
				"d": map[string]any{"type": "Boolean"},
				"e": map[string]any{"type": "object"},
			},
			"required": []any{"a", "missing"},
		}, true)
		require.NoError(t, err)
		assert.Equal(t, []catalog.Param{
			{Name: "a", Kind: catalog.KindAny},
			{Name: "b", Kind: catalog.KindAny, Description: "untyped"},
			{Name: "c", Kind: catalog.KindArray, Items: catalog.KindNumber},
			{Name: "d", Kind: catalog.KindBoolean},
			{Name: "e", Kind: catalog.KindObject},
		}, spec.Params)
		assert.Equal(t, []string{"a"}, spec.Required)

		assert.NoError(t, spec.Validate(map[string]any{"a": 1, "c": []any{1.5, nil}, "d": true, "e": map[string]any{}, "x": "extra"}))
		assert.EqualError(t, spec.Validate(map[string]any{"a": nil}), `parameter "a" is required`)
		assert.EqualError(t, spec.Validate(map[string]any{"a": "x", "c": []any{"1"}}), `parameter "c"[0]: expected number, got string`)
		assert.EqualError(t, spec.Validate(map[string]any{"a": "x", "e": "{}"}), `parameter "e": expected object, got string`)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := catalog.Translate(map[string]any{"properties": "bad"}, false)
		assert.Error(t, err)
	})
}

func TestKind_Accepts(t *testing.T) {
	assert.True(t, catalog.KindInteger.Accepts(float64(3)))
	assert.False(t, catalog.KindInteger.Accepts(3.5))
	assert.True(t, catalog.KindNumber.Accepts(3.5))
	assert.False(t, catalog.KindString.Accepts(3))
	assert.True(t, catalog.KindAny.Accepts(nil))
	assert.Equal(t, catalog.KindAny, catalog.ParseKind("uuid"))
	assert.Equal(t, catalog.KindString, catalog.ParseKind(" String "))
}

func TestParamSpec_JSONSchema(t *testing.T) {
	spec := catalog.ParamSpec{
		Params: []catalog.Param{
			{Name: "query", Kind: catalog.KindString, Description: "search query"},
			{Name: "tags", Kind: catalog.KindArray, Items: catalog.KindString},
			{Name: "input", Kind: catalog.KindAny},
			{Name: "extra", Kind: catalog.KindAny, Description: "free form"},
			{Name: "ids", Kind: catalog.KindArray, Items: catalog.KindAny},
		},
		Required: []string{"query"},
	}
	exp := `{
	"properties": {
		"query": {
			"type": "string",
			"description": "search query"
		},
		"tags": {
			"items": {
				"type": "string"
			},
			"type": "array"
		},
		"input": {
			"description": "Any JSON value"
		},
		"extra": {
			"description": "free form"
		},
		"ids": {
			"type": "array"
		}
	},
	"type": "object",
	"required": [
		"query"
	]
}`
	assert.Equal(t, exp, llmutils.ToJSONIndent(spec.JSONSchema()))
}
