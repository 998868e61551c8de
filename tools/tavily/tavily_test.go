package tavily_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/secrets"
	"github.com/effective-security/sdragent/tools"
	"github.com/effective-security/sdragent/tools/tavily"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Tool(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req tavilyModels.SearchRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		assert.NoError(t, err)
		assert.Equal(t, "Acme Corp", req.Query)

		resp := tavily.SearchResult{
			Results: []tavilyModels.SearchResult{
				{Title: "Acme", URL: "https://acme.example.com", Content: "Acme makes anvils", Score: 0.9},
			},
		}
		if req.IncludeAnswer {
			resp.Answer = "Acme is a manufacturer"
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	ctx := context.Background()
	c := cache.NewMemory()

	tool, err := tavily.New(ctx, secrets.Static{tavily.APIKeySecret: "testkey"},
		tavily.WithBaseURL(server.URL),
		tavily.WithHTTPClient(server.Client()),
		tavily.WithCache(c, 0),
	)
	require.NoError(t, err)

	assert.Equal(t, tavily.ToolName, tool.Name())
	assert.Contains(t, tool.Description(), "web search")

	expParams := `{
	"properties": {
		"query": {
			"type": "string",
			"description": "Company name or question to research on the web"
		}
	},
	"type": "object",
	"required": [
		"query"
	]
}`
	assert.Equal(t, expParams, llmutils.ToJSONIndent(tool.Parameters()))

	_, err = tool.Call(ctx, "plain string")
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))
	assert.EqualError(t, err, "failed to unmarshal input: check the schema and try again")

	_, err = tool.Call(ctx, `{"query":"  "}`)
	assert.EqualError(t, err, "invalid request: empty query")

	resp, err := tool.Run(ctx, &tavily.SearchRequest{Query: "Acme Corp"})
	require.NoError(t, err)
	exp := `ANSWER: Acme is a manufacturer
- URL: https://acme.example.com
  TITLE: Acme
  SCORE: 0.900000
  CONTENT: Acme makes anvils
`
	assert.Equal(t, exp, resp.String())
	assert.Equal(t, int32(1), calls.Load())

	out, err := tool.Call(ctx, `{"query":"Acme Corp"}`)
	require.NoError(t, err)
	exp = `{"results":[{"title":"Acme","url":"https://acme.example.com","content":"Acme makes anvils","score":0.9}],"answer":"Acme is a manufacturer"}`
	assert.Equal(t, exp, out)
	assert.Equal(t, int32(2), calls.Load())

	// memoized
	out2, err := tool.Call(ctx, `{"query":"Acme Corp"}`)
	require.NoError(t, err)
	assert.Equal(t, out, out2)
	assert.Equal(t, int32(2), calls.Load())
}

func Test_New_MissingKey(t *testing.T) {
	_, err := tavily.New(context.Background(), secrets.Static{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, secrets.ErrNotFound))
}
