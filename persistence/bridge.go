// Package persistence stores the rankings derived from qualifying tool results.
package persistence

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/sdragent/reconciler"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "persistence")

// Bridge creates a ranking when a turn produced a profile analysis
type Bridge struct {
	store storage.Storage
}

// NewBridge returns the bridge
func NewBridge(store storage.Storage) *Bridge {
	return &Bridge{store: store}
}

// Persist creates the ranking for the analysis in the tool use result,
// and returns true if the ranking exists after the call.
// Replaying the same tool use does not create a duplicate.
func (b *Bridge) Persist(ctx context.Context, use *reconciler.ToolUse) (bool, error) {
	if use == nil || !strings.HasSuffix(use.Tool, sdr.AnalyzeProfileName) {
		return false, nil
	}
	analysis := Analysis(use.Result)
	if analysis == nil {
		logger.ContextKV(ctx, xlog.DEBUG, "reason", "no_analysis", "tool", use.Tool)
		return false, nil
	}

	handle := storage.NormalizeHandle(stringValue(analysis["handle"]))
	if handle == "" {
		return false, nil
	}

	_, err := b.store.GetRankingByHandle(ctx, handle)
	if err == nil {
		logger.ContextKV(ctx, xlog.DEBUG, "reason", "exists", "handle", handle)
		return true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, errors.WithMessagef(err, "failed to get ranking: %s", handle)
	}

	score, _ := analysis["score"].(float64)
	qualified, _ := analysis["qualified"].(bool)
	_, err = b.store.CreateRanking(ctx, &storage.Ranking{
		Handle:        handle,
		Name:          stringValue(analysis["name"]),
		Niche:         stringValue(analysis["niche"]),
		Score:         score,
		Qualified:     qualified,
		SourcePayload: llmutils.ToJSON(use.Result),
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// created by a concurrent turn
			return true, nil
		}
		return false, errors.WithMessagef(err, "failed to create ranking: %s", handle)
	}

	metricskey.StatsRankingsPersisted.IncrCounter(1, use.Tool)
	logger.ContextKV(ctx, xlog.INFO,
		"status", "persisted",
		"handle", handle,
		"score", score,
		"qualified", qualified,
	)
	return true, nil
}

// Analysis returns the analysis payload of the tool result:
// the `analysis` object, or the result itself when it has `handle` and `score`.
// Returns nil if the result carries no analysis.
func Analysis(result any) map[string]any {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	if a, ok := m["analysis"].(map[string]any); ok {
		return a
	}
	if _, ok := m["handle"]; ok {
		if _, ok := m["score"]; ok {
			return m
		}
	}
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
