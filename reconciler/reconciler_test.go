package reconciler_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(events ...reconciler.Event) <-chan reconciler.Event {
	ch := make(chan reconciler.Event, reconciler.DefaultBuffer)
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestReconcile_HelloWorld(t *testing.T) {
	res, err := reconciler.Reconcile(context.Background(), stream(
		reconciler.TextDelta{Text: "Hello "},
		reconciler.ToolInvocation{ID: "1", Tool: "analyze", Input: map[string]any{"a": 1}},
		reconciler.ToolResult{ID: "1", Payload: `{"b":2}`},
		reconciler.TextDelta{Text: "World"},
	))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", res.Content)
	require.NotNil(t, res.ToolUse)
	assert.True(t, strings.HasSuffix(res.ToolUse.Tool, "analyze"))
	assert.Equal(t, "local__sdr__analyze", res.ToolUse.Tool)
	assert.Equal(t, `{"a":1}`, res.ToolUse.Input)
	assert.Equal(t, reconciler.StatusCompleted, res.ToolUse.Status)
	assert.Equal(t, map[string]any{"b": float64(2)}, res.ToolUse.Result)
	assert.Len(t, res.ToolUses, 1)
}

func TestReconcile_UnresolvedEcho(t *testing.T) {
	res, err := reconciler.Reconcile(context.Background(), stream(
		reconciler.ToolInvocation{ID: "7", Tool: "x", Input: `{"q":1}`},
	))
	require.NoError(t, err)
	assert.Empty(t, res.Content)
	require.NotNil(t, res.ToolUse)
	assert.Equal(t, "local__sdr__x", res.ToolUse.Tool)
	assert.Equal(t, reconciler.StatusCompleted, res.ToolUse.Status)
	assert.Equal(t, map[string]any{"q": float64(1)}, res.ToolUse.Result)
}

func TestReconcile_ResultForUnknownID(t *testing.T) {
	// the result arrives before the invocation
	res, err := reconciler.Reconcile(context.Background(), stream(
		reconciler.ToolResult{ID: "9", Payload: `{"ok":true}`},
		reconciler.ToolInvocation{ID: "9", Tool: "external__apify__search", Input: map[string]any{"q": "acme"}},
	))
	require.NoError(t, err)
	require.NotNil(t, res.ToolUse)
	assert.Equal(t, "external__apify__search", res.ToolUse.Tool)
	assert.Equal(t, map[string]any{"ok": true}, res.ToolUse.Result)
}

func TestReconcile_TwoPending(t *testing.T) {
	res, err := reconciler.Reconcile(context.Background(), stream(
		reconciler.ToolInvocation{ID: "a", Tool: "analyze_profile", Input: `{"handle":"one"}`},
		reconciler.ToolInvocation{ID: "b", Tool: "lookup_ranking", Input: `{"handle":"two"}`},
		reconciler.ToolInvocation{ID: "a", Tool: "ignored", Input: `{}`},
		reconciler.ToolResult{ID: "b", Payload: "not json at all"},
		reconciler.ToolResult{ID: "a", Payload: "```json\n{\"score\": 80}\n```"},
	))
	require.NoError(t, err)
	require.Len(t, res.ToolUses, 2)

	assert.Equal(t, "local__sdr__lookup_ranking", res.ToolUses[0].Tool)
	assert.Equal(t, `{"handle":"two"}`, res.ToolUses[0].Input)
	assert.Equal(t, map[string]any{"raw": "not json at all"}, res.ToolUses[0].Result)

	assert.Equal(t, "local__sdr__analyze_profile", res.ToolUses[1].Tool)
	assert.Equal(t, `{"handle":"one"}`, res.ToolUses[1].Input)
	assert.Equal(t, map[string]any{"score": float64(80)}, res.ToolUses[1].Result)

	assert.Same(t, res.ToolUses[1], res.ToolUse)
}

func TestReconcile_Terminal(t *testing.T) {
	res, err := reconciler.Reconcile(context.Background(), stream(
		reconciler.Terminal{Result: "final"},
	))
	require.NoError(t, err)
	assert.Equal(t, "final", res.Content)
	assert.Nil(t, res.ToolUse)

	res, err = reconciler.Reconcile(context.Background(), stream(
		reconciler.TextDelta{Text: "streamed"},
		reconciler.Terminal{Result: "final"},
	))
	require.NoError(t, err)
	assert.Equal(t, "streamed", res.Content)
}

func TestReconcile_Failure(t *testing.T) {
	_, err := reconciler.Reconcile(context.Background(), stream(
		reconciler.TextDelta{Text: "partial"},
		reconciler.Failure{Err: errors.New("overloaded")},
	))
	assert.EqualError(t, err, "stream failed: overloaded")
}

func TestReconcile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// open stream that never ends
	ch := make(chan reconciler.Event, 1)
	ch <- reconciler.TextDelta{Text: "x"}

	_, err := reconciler.Reconcile(ctx, ch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQualifyToolName(t *testing.T) {
	assert.Equal(t, "local__sdr__analyze_profile", reconciler.QualifyToolName("analyze_profile"))
	assert.Equal(t, "external__apify__search", reconciler.QualifyToolName("external__apify__search"))
}
