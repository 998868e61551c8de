// Package tavily provides the research_company tool backed by Tavily web search.
package tavily

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tavilygo "github.com/diverged/tavily-go"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/pkg/schema"
	"github.com/effective-security/sdragent/secrets"
	"github.com/effective-security/sdragent/tools"
)

const (
	// ToolName is the name of the research tool
	ToolName = "research_company"
	// APIKeySecret is the name of the secret with the Tavily API key
	APIKeySecret = "TAVILY_API_KEY"
	// DefaultResearchTTL is the memoization TTL of search results
	DefaultResearchTTL = 30 * time.Minute
)

// SearchRequest represents the tool input.
type SearchRequest struct {
	Query string `json:"query" yaml:"query" jsonschema:"description=Company name or question to research on the web"`
}

// SearchResult represents the structure for a search response
type SearchResult struct {
	Results []tavilyModels.SearchResult `json:"results" yaml:"results"`
	Answer  string                      `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// Option configures the Tool
type Option func(*Tool)

// WithBaseURL overrides the Tavily endpoint
func WithBaseURL(baseURL string) Option {
	return func(t *Tool) {
		t.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(t *Tool) {
		t.httpClient = client
	}
}

// WithCache memoizes search results in c for ttl
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(t *Tool) {
		t.cache = c
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// Tool researches a company with a web search
type Tool struct {
	apikey     string
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	ttl        time.Duration
}

var _ tools.Tool[SearchRequest, SearchResult] = (*Tool)(nil)

// New returns the tool, the API key is resolved once with the resolver.
// The returned error wraps secrets.ErrNotFound when the key is not configured.
func New(ctx context.Context, resolver secrets.Resolver, opts ...Option) (*Tool, error) {
	apikey, err := resolver.Resolve(ctx, APIKeySecret)
	if err != nil {
		return nil, err
	}

	t := &Tool{
		apikey:     apikey,
		httpClient: http.DefaultClient,
		ttl:        DefaultResearchTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tool) Name() string {
	return ToolName
}

func (t *Tool) Description() string {
	return "Researches a company or a person with a web search, returns the aggregated answer and sources."
}

func (t *Tool) Parameters() any {
	return schema.MustNew(reflect.TypeOf(SearchRequest{})).Parameters
}

func (t *Tool) Run(_ context.Context, req *SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("invalid request: empty query")
	}

	client := tavilygo.NewClient(t.apikey)
	if t.baseURL != "" {
		client.BaseURL = t.baseURL
	}
	if t.httpClient != nil {
		client.HTTPClient = t.httpClient
	}

	searchResp, err := tavilygo.Search(client, tavilyModels.SearchRequest{
		Query:         req.Query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to perform search")
	}

	return &SearchResult{
		Results: searchResp.Results,
		Answer:  searchResp.Answer,
	}, nil
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	req, err := tools.Decode[SearchRequest](input)
	if err != nil {
		return "", err
	}
	key := cache.Key(ToolName, strings.ToLower(strings.TrimSpace(req.Query)))
	return cache.Memoize(ctx, t.cache, key, t.ttl, func(ctx context.Context) (string, error) {
		out, err := t.Run(ctx, req)
		if err != nil {
			return "", err
		}
		return llmutils.ToJSON(out), nil
	})
}

func (r *SearchResult) String() string {
	var buf bytes.Buffer
	if r.Answer != "" {
		fmt.Fprintf(&buf, "ANSWER: %s\n", r.Answer)
	}
	for _, result := range r.Results {
		fmt.Fprintf(&buf, "- URL: %s\n", result.URL)
		fmt.Fprintf(&buf, "  TITLE: %s\n", result.Title)
		fmt.Fprintf(&buf, "  SCORE: %f\n", result.Score)
		fmt.Fprintf(&buf, "  CONTENT: %s\n", result.Content)
	}
	return buf.String()
}
