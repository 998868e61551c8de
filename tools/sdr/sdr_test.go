package sdr_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/mocks/mockstorage"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/sdragent/tools"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAnalyzeProfile(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	tool := sdr.NewAnalyzeProfile(c, 0)

	assert.Equal(t, sdr.AnalyzeProfileName, tool.Name())
	assert.NotEmpty(t, tool.Description())
	exp := `{
	"properties": {
		"handle": {
			"type": "string",
			"description": "Social handle of the lead, with or without @"
		},
		"platform": {
			"type": "string",
			"enum": [
				"instagram",
				"tiktok",
				"youtube",
				"linkedin"
			],
			"description": "Social platform of the profile",
			"default": "instagram"
		}
	},
	"type": "object",
	"required": [
		"handle"
	]
}`
	assert.Equal(t, exp, llmutils.ToJSONIndent(tool.Parameters()))

	out, err := tool.Call(ctx, `{"handle":"@NandaMac"}`)
	require.NoError(t, err)

	var res sdr.AnalyzeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Analysis)
	a := res.Analysis
	assert.Equal(t, "nandamac", a.Handle)
	assert.Equal(t, "Nanda Mac", a.Name)
	assert.Equal(t, "instagram", a.Platform)
	assert.GreaterOrEqual(t, a.Score, 40.0)
	assert.LessOrEqual(t, a.Score, 100.0)
	assert.Equal(t, a.Score >= sdr.QualifyingScore && a.EngagementRate >= 2, a.Qualified)
	assert.Len(t, a.Reasons, 2)

	// deterministic and memoized under the normalized handle
	out2, err := tool.Call(ctx, "```json\n{\"handle\":\"nandamac\",\"platform\":\"Instagram\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, out, out2)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Size)
	assert.Contains(t, st.Keys[0], "analyze_profile:")

	other, err := tool.Run(ctx, &sdr.AnalyzeRequest{Handle: "nanda.mac_fit", Platform: "tiktok"})
	require.NoError(t, err)
	assert.Equal(t, "Nanda Mac Fit", other.Analysis.Name)
	assert.Equal(t, "tiktok", other.Analysis.Platform)

	_, err = tool.Call(ctx, `{"handle":" @ "}`)
	assert.EqualError(t, err, "invalid request: empty handle")

	_, err = tool.Call(ctx, "not json")
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))

	st, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Size)
}

func TestAnalyzeProfile_NoCache(t *testing.T) {
	tool := sdr.NewAnalyzeProfile(nil, time.Minute)
	out1, err := tool.Call(context.Background(), `{"handle":"acme"}`)
	require.NoError(t, err)
	out2, err := tool.Call(context.Background(), `{"handle":" @acme "}`)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)

	// the score follows the normalized handle, the name keeps the raw casing
	upper, err := tool.Run(context.Background(), &sdr.AnalyzeRequest{Handle: "ACME"})
	require.NoError(t, err)
	var lower sdr.AnalyzeResult
	require.NoError(t, json.Unmarshal([]byte(out1), &lower))
	assert.Equal(t, lower.Analysis.Score, upper.Analysis.Score)
	assert.Equal(t, "acme", upper.Analysis.Handle)
	assert.Equal(t, "ACME", upper.Analysis.Name)
}

func TestAnalyzeProfile_DisplayName(t *testing.T) {
	tcases := []struct {
		handle string
		exp    string
	}{
		{"@NandaMac", "Nanda Mac"},
		{"nandamac", "Nandamac"},
		{" nanda.mac_fit ", "Nanda Mac Fit"},
		{"growthLab-HQ", "Growth Lab HQ"},
		{"acme2Go", "Acme2 Go"},
	}
	tool := sdr.NewAnalyzeProfile(nil, 0)
	for _, tc := range tcases {
		res, err := tool.Run(context.Background(), &sdr.AnalyzeRequest{Handle: tc.handle})
		require.NoError(t, err)
		assert.Equal(t, tc.exp, res.Analysis.Name, tc.handle)
	}
}

func TestLookupRanking(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mockstorage.NewMockStorage(ctrl)

	ranking := &storage.Ranking{Handle: "nandamac", Name: "Nanda Mac", Score: 88, Qualified: true}
	store.EXPECT().GetRankingByHandle(gomock.Any(), "nandamac").Return(ranking, nil)
	store.EXPECT().GetRankingByHandle(gomock.Any(), "unknown").Return(nil, errors.WithMessage(storage.ErrNotFound, "ranking unknown"))
	store.EXPECT().GetRankingByHandle(gomock.Any(), "broken").Return(nil, errors.New("db is down"))

	tool := sdr.NewLookupRanking(store)
	assert.Equal(t, sdr.LookupRankingName, tool.Name())

	out, err := tool.Call(ctx, `{"handle":"@NandaMac"}`)
	require.NoError(t, err)
	var res sdr.LookupResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, "Nanda Mac", res.Ranking.Name)

	out, err = tool.Call(ctx, `{"handle":"unknown"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"found":false}`, out)

	_, err = tool.Call(ctx, `{"handle":"broken"}`)
	assert.EqualError(t, err, "db is down")

	_, err = tool.Call(ctx, `{}`)
	assert.EqualError(t, err, "invalid request: empty handle")
}
