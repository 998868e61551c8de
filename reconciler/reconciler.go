// Package reconciler folds the event stream of one model turn
// into the final text and the tool uses of the turn.
package reconciler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "reconciler")

// StatusCompleted is the status of a finalized tool use
const StatusCompleted = "completed"

// ToolUse is a finalized tool invocation
type ToolUse struct {
	// Tool is the namespaced tool name
	Tool string `json:"tool" yaml:"tool"`
	// Input is the serialized JSON input
	Input  string `json:"input" yaml:"input"`
	Status string `json:"status" yaml:"status"`
	// Result is the parsed payload
	Result any `json:"result,omitempty" yaml:"result,omitempty"`
}

// Result of a reconciled turn
type Result struct {
	Content string
	// ToolUse is the last finalized tool use
	ToolUse *ToolUse
	// ToolUses are all finalized tool uses in order
	ToolUses []*ToolUse
}

type pending struct {
	id    string
	tool  string
	input any
}

type state struct {
	text     strings.Builder
	terminal string
	pending  map[string]*pending
	order    []string
	orphans  map[string]any
	uses     []*ToolUse
}

// Reconcile consumes the events until the channel is closed.
// An invocation is finalized by the result with the same ID,
// invocations still pending at the end of the stream are finalized
// with a result received for an unknown ID, or with their own input.
// A Failure event or the context cancellation aborts the turn.
func Reconcile(ctx context.Context, events <-chan Event) (*Result, error) {
	st := &state{
		pending: map[string]*pending{},
		orphans: map[string]any{},
	}

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "turn aborted")
		case ev, ok := <-events:
			if !ok {
				return st.finish(ctx), nil
			}
			if err := st.apply(ctx, ev); err != nil {
				return nil, err
			}
		}
	}
}

func (st *state) apply(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case TextDelta:
		st.text.WriteString(e.Text)
	case ToolInvocation:
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, ok := st.pending[id]; ok {
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "duplicate_invocation", "id", id, "tool", e.Tool)
			return nil
		}
		st.pending[id] = &pending{id: id, tool: e.Tool, input: e.Input}
		st.order = append(st.order, id)
	case ToolResult:
		p, ok := st.pending[e.ID]
		if !ok {
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "unmatched_result", "id", e.ID)
			st.orphans[e.ID] = e.Payload
			return nil
		}
		delete(st.pending, e.ID)
		st.finalize(p, llmutils.ParsePayload(e.Payload))
	case Terminal:
		st.terminal = e.Result
	case Failure:
		err := e.Err
		if err == nil {
			err = errors.New("unknown error")
		}
		return errors.Wrap(err, "stream failed")
	default:
		return errors.Newf("unsupported event: %T", ev)
	}
	return nil
}

func (st *state) finalize(p *pending, result any) {
	st.uses = append(st.uses, &ToolUse{
		Tool:   QualifyToolName(p.tool),
		Input:  serializeInput(p.input),
		Status: StatusCompleted,
		Result: result,
	})
}

func (st *state) finish(ctx context.Context) *Result {
	for _, id := range st.order {
		p, ok := st.pending[id]
		if !ok {
			continue
		}
		if payload, ok := st.orphans[id]; ok {
			st.finalize(p, llmutils.ParsePayload(payload))
		} else {
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "unresolved_invocation", "id", id, "tool", p.tool)
			st.finalize(p, llmutils.ParsePayload(p.input))
		}
		delete(st.pending, id)
	}

	res := &Result{
		Content:  st.text.String(),
		ToolUses: st.uses,
	}
	if res.Content == "" {
		res.Content = st.terminal
	}
	if len(st.uses) > 0 {
		res.ToolUse = st.uses[len(st.uses)-1]
	}
	return res
}

// QualifyToolName returns the namespaced name,
// a name without namespace is a local tool
func QualifyToolName(name string) string {
	if strings.Contains(name, catalog.Separator) {
		return name
	}
	return catalog.LocalPrefix + name
}

func serializeInput(input any) string {
	switch v := input.(type) {
	case nil:
		return "{}"
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	default:
		js, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(js)
	}
}
