package eventsource_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/eventsource"
	"github.com/effective-security/sdragent/reconciler"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sse struct {
	sb strings.Builder
}

func (s *sse) event(name, data string) *sse {
	fmt.Fprintf(&s.sb, "event: %s\ndata: %s\n\n", name, data)
	return s
}

func (s *sse) start(id string) *sse {
	return s.event("message_start", `{"type":"message_start","message":{"id":"`+id+`","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`)
}

func (s *sse) text(index int, chunks ...string) *sse {
	s.event("content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, index))
	for _, c := range chunks {
		s.event("content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":%q}}`, index, c))
	}
	return s.event("content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index))
}

func (s *sse) toolUse(index int, id, name string, partials ...string) *sse {
	s.event("content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":%q,"name":%q,"input":{}}}`, index, id, name))
	for _, p := range partials {
		s.event("content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":%q}}`, index, p))
	}
	return s.event("content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index))
}

func (s *sse) stop(reason string) string {
	s.event("message_delta", `{"type":"message_delta","delta":{"stop_reason":"`+reason+`","stop_sequence":null},"usage":{"output_tokens":12}}`)
	s.event("message_stop", `{"type":"message_stop"}`)
	return s.sb.String()
}

type fakeAPI struct {
	lock      sync.Mutex
	responses []string
	bodies    []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.lock.Lock()
	n := len(f.bodies)
	f.bodies = append(f.bodies, string(body))
	f.lock.Unlock()

	if r.Header.Get("X-Api-Key") != "test-key" || n >= len(f.responses) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, f.responses[n])
}

func newRegistry(t *testing.T) *catalog.Registry {
	r, err := catalog.NewFederator(nil, sdr.NewAnalyzeProfile(nil, 0)).Build(context.Background())
	require.NoError(t, err)
	return r
}

func collect(ch <-chan reconciler.Event) []reconciler.Event {
	var list []reconciler.Event
	for ev := range ch {
		list = append(list, ev)
	}
	return list
}

func TestAnthropic_ToolLoop(t *testing.T) {
	api := &fakeAPI{
		responses: []string{
			new(sse).start("msg_1").
				text(0, "Let me ", "check. ").
				toolUse(1, "toolu_1", "local__sdr__analyze_profile", `{"handle":`, `"@NandaMac"}`).
				stop("tool_use"),
			new(sse).start("msg_2").
				text(0, "Nanda Mac ", "is analyzed.").
				stop("end_turn"),
		},
	}
	server := httptest.NewServer(api)
	defer server.Close()

	src := eventsource.NewAnthropic(
		eventsource.WithBaseURL(server.URL),
		eventsource.WithHTTPClient(server.Client()),
		eventsource.WithMaxRetries(0),
	)

	ch, err := src.Stream(context.Background(), &eventsource.Request{
		Prompt:       "user: analyze @NandaMac",
		SystemPrompt: "You qualify leads.",
		APIKey:       "test-key",
		Tools:        newRegistry(t),
	})
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 7)
	assert.Equal(t, reconciler.TextDelta{Text: "Let me "}, events[0])
	assert.Equal(t, reconciler.TextDelta{Text: "check. "}, events[1])

	inv, ok := events[2].(reconciler.ToolInvocation)
	require.True(t, ok)
	assert.Equal(t, "toolu_1", inv.ID)
	assert.Equal(t, "local__sdr__analyze_profile", inv.Tool)

	res, ok := events[3].(reconciler.ToolResult)
	require.True(t, ok)
	assert.Equal(t, "toolu_1", res.ID)
	assert.Contains(t, res.Payload, `"handle":"nandamac"`)

	assert.Equal(t, reconciler.TextDelta{Text: "Nanda Mac "}, events[4])
	assert.Equal(t, reconciler.TextDelta{Text: "is analyzed."}, events[5])
	assert.Equal(t, reconciler.Terminal{Result: "Nanda Mac is analyzed."}, events[6])

	require.Len(t, api.bodies, 2)
	assert.Contains(t, api.bodies[0], `"name":"local__sdr__analyze_profile"`)
	assert.Contains(t, api.bodies[0], `"You qualify leads."`)
	assert.Contains(t, api.bodies[1], `"tool_use_id":"toolu_1"`)
	assert.Contains(t, api.bodies[1], `"model":"claude-sonnet-4-5"`)
}

func TestAnthropic_Reconciled(t *testing.T) {
	api := &fakeAPI{
		responses: []string{
			new(sse).start("msg_1").
				toolUse(0, "toolu_1", "analyze_profile", `{"handle":"acme"}`).
				stop("tool_use"),
			new(sse).start("msg_2").
				text(0, "Done").
				stop("end_turn"),
		},
	}
	server := httptest.NewServer(api)
	defer server.Close()

	src := eventsource.NewAnthropic(eventsource.WithBaseURL(server.URL), eventsource.WithMaxRetries(0))
	ctx := context.Background()
	ch, err := src.Stream(ctx, &eventsource.Request{
		Prompt: "analyze acme",
		APIKey: "test-key",
		Tools:  newRegistry(t),
	})
	require.NoError(t, err)

	res, err := reconciler.Reconcile(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, "Done", res.Content)
	require.NotNil(t, res.ToolUse)
	assert.Equal(t, "local__sdr__analyze_profile", res.ToolUse.Tool)
	assert.Equal(t, `{"handle":"acme"}`, res.ToolUse.Input)
	result, ok := res.ToolUse.Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result, "analysis")
}

func TestAnthropic_MaxTurns(t *testing.T) {
	loop := new(sse).start("msg").
		toolUse(0, "toolu_x", "analyze_profile", `{"handle":"loop"}`).
		stop("tool_use")
	api := &fakeAPI{responses: []string{loop, loop, loop}}
	server := httptest.NewServer(api)
	defer server.Close()

	src := eventsource.NewAnthropic(eventsource.WithBaseURL(server.URL), eventsource.WithMaxRetries(0))
	ch, err := src.Stream(context.Background(), &eventsource.Request{
		Prompt:   "loop",
		APIKey:   "test-key",
		Tools:    newRegistry(t),
		MaxTurns: 2,
	})
	require.NoError(t, err)

	events := collect(ch)
	assert.Len(t, events, 4)
	assert.Len(t, api.bodies, 2)
}

func TestAnthropic_Failure(t *testing.T) {
	server := httptest.NewServer(&fakeAPI{})
	defer server.Close()

	src := eventsource.NewAnthropic(eventsource.WithBaseURL(server.URL), eventsource.WithMaxRetries(0))
	ctx := context.Background()
	ch, err := src.Stream(ctx, &eventsource.Request{Prompt: "hi", APIKey: "wrong"})
	require.NoError(t, err)

	_, err = reconciler.Reconcile(ctx, ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream failed")
	assert.Contains(t, err.Error(), "401")
}

func TestAnthropic_InvalidRequest(t *testing.T) {
	src := eventsource.NewAnthropic()
	_, err := src.Stream(context.Background(), &eventsource.Request{Prompt: "hi"})
	assert.True(t, errors.Is(err, eventsource.ErrMissingAPIKey))

	_, err = src.Stream(context.Background(), &eventsource.Request{APIKey: "k", Prompt: " "})
	assert.EqualError(t, err, "prompt is required")
}

func TestToTools(t *testing.T) {
	assert.Nil(t, eventsource.ToTools(nil))

	tools := eventsource.ToTools(newRegistry(t).Tools())
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "local__sdr__analyze_profile", tools[0].OfTool.Name)
	assert.Equal(t, []string{"handle"}, tools[0].OfTool.InputSchema.Required)
}
