// Package sdr provides the local sales development tools of the agent.
// The qualification heuristics are deterministic sample data.
package sdr

import (
	"context"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/pkg/schema"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/sdragent/tools"
	"github.com/effective-security/x/values"
)

const (
	// AnalyzeProfileName is the name of the qualifying tool
	AnalyzeProfileName = "analyze_profile"
	// DefaultAnalysisTTL is the memoization TTL of profile analysis
	DefaultAnalysisTTL = time.Hour
	// QualifyingScore is the minimum score of a qualified lead
	QualifyingScore = 70
)

var niches = []string{
	"fitness",
	"beauty",
	"travel",
	"food",
	"technology",
	"fashion",
	"finance",
	"gaming",
}

// AnalyzeRequest is the input of analyze_profile
type AnalyzeRequest struct {
	Handle   string `json:"handle" jsonschema:"description=Social handle of the lead\\, with or without @"`
	Platform string `json:"platform,omitempty" jsonschema:"description=Social platform of the profile,enum=instagram,enum=tiktok,enum=youtube,enum=linkedin,default=instagram"`
}

// Analysis of a social profile
type Analysis struct {
	Handle         string   `json:"handle" yaml:"handle"`
	Name           string   `json:"name" yaml:"name"`
	Platform       string   `json:"platform" yaml:"platform"`
	Niche          string   `json:"niche" yaml:"niche"`
	Followers      int      `json:"followers" yaml:"followers"`
	EngagementRate float64  `json:"engagement_rate" yaml:"engagement_rate"`
	Score          float64  `json:"score" yaml:"score"`
	Qualified      bool     `json:"qualified" yaml:"qualified"`
	Reasons        []string `json:"reasons" yaml:"reasons"`
}

// AnalyzeResult is the output of analyze_profile
type AnalyzeResult struct {
	Analysis *Analysis `json:"analysis" yaml:"analysis"`
}

// AnalyzeProfile scores a social profile as a sales lead
type AnalyzeProfile struct {
	cache cache.Cache
	ttl   time.Duration
}

var _ tools.Tool[AnalyzeRequest, AnalyzeResult] = (*AnalyzeProfile)(nil)

// NewAnalyzeProfile returns the tool, results are memoized in c for ttl.
// c can be nil to disable memoization.
func NewAnalyzeProfile(c cache.Cache, ttl time.Duration) *AnalyzeProfile {
	if ttl <= 0 {
		ttl = DefaultAnalysisTTL
	}
	return &AnalyzeProfile{
		cache: c,
		ttl:   ttl,
	}
}

func (t *AnalyzeProfile) Name() string {
	return AnalyzeProfileName
}

func (t *AnalyzeProfile) Description() string {
	return "Analyzes a social media profile and returns the lead qualification: niche, audience, engagement and score."
}

func (t *AnalyzeProfile) Parameters() any {
	return schema.MustNew(reflect.TypeOf(AnalyzeRequest{})).Parameters
}

func (t *AnalyzeProfile) Run(_ context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	handle := storage.NormalizeHandle(req.Handle)
	if handle == "" {
		return nil, errors.New("invalid request: empty handle")
	}
	platform := strings.ToLower(values.StringsCoalesce(strings.TrimSpace(req.Platform), "instagram"))

	h := xxhash.Sum64String(platform + "/" + handle)
	a := &Analysis{
		Handle:         handle,
		Name:           displayName(req.Handle),
		Platform:       platform,
		Niche:          niches[(h>>32)%uint64(len(niches))],
		Followers:      1000 + int((h>>8)%500000),
		EngagementRate: math.Round((0.5+float64((h>>20)%900)/100)*100) / 100,
		Score:          float64(40 + h%61),
	}

	if a.Score >= QualifyingScore {
		a.Reasons = append(a.Reasons, "strong audience fit")
	} else {
		a.Reasons = append(a.Reasons, "score below threshold")
	}
	if a.EngagementRate >= 2 {
		a.Reasons = append(a.Reasons, "healthy engagement")
	} else {
		a.Reasons = append(a.Reasons, "low engagement")
	}
	a.Qualified = a.Score >= QualifyingScore && a.EngagementRate >= 2

	return &AnalyzeResult{Analysis: a}, nil
}

func (t *AnalyzeProfile) Call(ctx context.Context, input string) (string, error) {
	req, err := tools.Decode[AnalyzeRequest](input)
	if err != nil {
		return "", err
	}
	key := cache.Key(AnalyzeProfileName,
		strings.ToLower(values.StringsCoalesce(strings.TrimSpace(req.Platform), "instagram")),
		storage.NormalizeHandle(req.Handle))

	return cache.Memoize(ctx, t.cache, key, t.ttl, func(ctx context.Context) (string, error) {
		out, err := t.Run(ctx, req)
		if err != nil {
			return "", err
		}
		return llmutils.ToJSON(out), nil
	})
}

// displayName splits the raw handle on separators and camel case humps
func displayName(handle string) string {
	handle = strings.TrimLeft(strings.TrimSpace(handle), "@")
	var parts []string
	var cur []rune
	var prev rune
	for _, r := range handle {
		switch {
		case r == '.' || r == '_' || r == '-' || unicode.IsSpace(r):
			if len(cur) > 0 {
				parts = append(parts, string(cur))
			}
			cur = nil
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) && len(cur) > 0:
			parts = append(parts, string(cur))
			cur = []rune{r}
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	for i, p := range parts {
		rs := []rune(p)
		rs[0] = unicode.ToUpper(rs[0])
		parts[i] = string(rs)
	}
	return strings.Join(parts, " ")
}
