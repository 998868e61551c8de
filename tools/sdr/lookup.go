package sdr

import (
	"context"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/pkg/schema"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/sdragent/tools"
)

// LookupRankingName is the name of the ranking lookup tool
const LookupRankingName = "lookup_ranking"

// LookupRequest is the input of lookup_ranking
type LookupRequest struct {
	Handle string `json:"handle" jsonschema:"description=Social handle of the lead"`
}

// LookupResult is the output of lookup_ranking
type LookupResult struct {
	Found   bool             `json:"found" yaml:"found"`
	Ranking *storage.Ranking `json:"ranking,omitempty" yaml:"ranking,omitempty"`
}

// LookupRanking returns the persisted ranking of a lead
type LookupRanking struct {
	store storage.Storage
}

var _ tools.Tool[LookupRequest, LookupResult] = (*LookupRanking)(nil)

// NewLookupRanking returns the tool
func NewLookupRanking(store storage.Storage) *LookupRanking {
	return &LookupRanking{store: store}
}

func (t *LookupRanking) Name() string {
	return LookupRankingName
}

func (t *LookupRanking) Description() string {
	return "Returns the stored qualification ranking of a lead, if the profile was analyzed before."
}

func (t *LookupRanking) Parameters() any {
	return schema.MustNew(reflect.TypeOf(LookupRequest{})).Parameters
}

func (t *LookupRanking) Run(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	handle := storage.NormalizeHandle(req.Handle)
	if handle == "" {
		return nil, errors.New("invalid request: empty handle")
	}
	r, err := t.store.GetRankingByHandle(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) {
		return &LookupResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &LookupResult{Found: true, Ranking: r}, nil
}

func (t *LookupRanking) Call(ctx context.Context, input string) (string, error) {
	return tools.CallJSON(ctx, input, t.Run)
}
