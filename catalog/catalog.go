// Package catalog federates local tools and the tools of connected external
// servers into one registry with unique namespaced names.
package catalog

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/chatmodel"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/sdragent/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "catalog")

//go:generate mockgen -source=catalog.go -destination=../mocks/mockcatalog/catalog_mock.gen.go -package mockcatalog

// Source is the kind of tool provider
type Source string

const (
	SourceLocal    Source = "local"
	SourceExternal Source = "external"
)

const (
	// LocalSourceID is the source ID of local tools
	LocalSourceID = "sdr"
	// Separator joins the parts of a namespaced name
	Separator = "__"
	// LocalPrefix is the prefix of local tool names
	LocalPrefix = string(SourceLocal) + Separator + LocalSourceID + Separator
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9_]`)

// SanitizeID lower-cases the source ID and replaces characters
// outside of [a-z0-9_] with underscore
func SanitizeID(id string) string {
	return unsafeChars.ReplaceAllString(strings.ToLower(id), "_")
}

// NamespacedName returns `<source>__<sanitized id>__<raw>`
func NamespacedName(source Source, sourceID, raw string) string {
	return string(source) + Separator + SanitizeID(sourceID) + Separator + raw
}

// ToolDescriptor describes a tool in the catalog
type ToolDescriptor struct {
	RawName        string    `json:"raw_name" yaml:"raw_name"`
	NamespacedName string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	Params         ParamSpec `json:"params" yaml:"params"`
	Source         Source    `json:"source" yaml:"source"`
	// ServerID is the ID of the external server
	ServerID string `json:"server_id,omitempty" yaml:"server_id,omitempty"`
}

// Gateway provides the live external connections
type Gateway interface {
	Connections() []gateway.Connection
	CallTool(ctx context.Context, serverID, tool string, args map[string]any) (*gateway.ToolResult, error)
}

// Output is the result of a tool call.
// Content is always a JSON document, a failed call is rendered as {"error": "..."}.
type Output struct {
	Content string
	IsError bool
}

// Federator builds the registry of local and external tools
type Federator struct {
	gw    Gateway
	local []tools.ITool
}

// NewFederator returns a Federator, gw can be nil when no external servers are used
func NewFederator(gw Gateway, local ...tools.ITool) *Federator {
	return &Federator{
		gw:    gw,
		local: local,
	}
}

// Build returns a new registry from the local tools and the current connections.
// A tool with a name already in the registry is skipped.
func (f *Federator) Build(ctx context.Context) (*Registry, error) {
	r := &Registry{
		byName: map[string]*entry{},
		gw:     f.gw,
	}

	for _, t := range f.local {
		params, err := Translate(t.Parameters(), true)
		if err != nil {
			return nil, errors.WithMessagef(err, "local tool %s", t.Name())
		}
		r.add(ctx, &entry{
			desc: ToolDescriptor{
				RawName:        t.Name(),
				NamespacedName: NamespacedName(SourceLocal, LocalSourceID, t.Name()),
				Description:    t.Description(),
				Params:         params,
				Source:         SourceLocal,
			},
			local: t,
		})
	}

	if f.gw != nil {
		for _, c := range f.gw.Connections() {
			for _, t := range c.Tools {
				params, err := Translate(t.InputSchema, false)
				if err != nil {
					logger.ContextKV(ctx, xlog.ERROR,
						"reason", "translate_schema",
						"server", c.ServerID,
						"tool", t.Name,
						"err", err.Error())
					params, _ = Translate(nil, false)
				}
				r.add(ctx, &entry{
					desc: ToolDescriptor{
						RawName:        t.Name,
						NamespacedName: NamespacedName(SourceExternal, c.Name, t.Name),
						Description:    t.Description,
						Params:         params,
						Source:         SourceExternal,
						ServerID:       c.ServerID,
					},
				})
			}
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG, "tools", len(r.list))
	return r, nil
}

type entry struct {
	desc  ToolDescriptor
	local tools.ITool
}

// Registry is an immutable set of tools available for a turn
type Registry struct {
	byName map[string]*entry
	list   []*entry
	gw     Gateway
}

func (r *Registry) add(ctx context.Context, e *entry) {
	if _, ok := r.byName[e.desc.NamespacedName]; ok {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "duplicate_tool",
			"name", e.desc.NamespacedName,
			"server", e.desc.ServerID)
		return
	}
	r.byName[e.desc.NamespacedName] = e
	r.list = append(r.list, e)
}

// Tools returns the descriptors in registration order
func (r *Registry) Tools() []ToolDescriptor {
	list := make([]ToolDescriptor, len(r.list))
	for i, e := range r.list {
		list[i] = e.desc
	}
	return list
}

// Len returns the number of tools
func (r *Registry) Len() int {
	return len(r.list)
}

// Lookup returns the tool by namespaced name.
// A bare raw name resolves to the local tool,
// or to the external tool when exactly one server provides it.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	e := r.lookup(name)
	if e == nil {
		return ToolDescriptor{}, false
	}
	return e.desc, true
}

func (r *Registry) lookup(name string) *entry {
	if e, ok := r.byName[name]; ok {
		return e
	}
	if e, ok := r.byName[LocalPrefix+name]; ok {
		return e
	}
	var found *entry
	for _, e := range r.list {
		if e.desc.Source == SourceExternal && e.desc.RawName == name {
			if found != nil {
				return nil
			}
			found = e
		}
	}
	return found
}

// Call invokes the tool with the JSON input.
// Failures never return an error, they are reported in the output payload.
func (r *Registry) Call(ctx context.Context, name, input string) Output {
	e := r.lookup(name)
	if e == nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return errorOutput(errors.Newf("tool not found: %s", name))
	}

	started := time.Now()
	tname := e.desc.NamespacedName
	defer metricskey.PerfToolCall.MeasureSince(started, tname)

	out, err := r.invoke(ctx, e, input)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, tname)
		logger.ContextKV(ctx, xlog.ERROR,
			"tool", tname,
			"session", chatmodel.GetSessionID(ctx),
			"turn", chatmodel.GetTurnID(ctx),
			"err", err.Error())
		return errorOutput(err)
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, tname)
	logger.ContextKV(ctx, xlog.DEBUG,
		"tool", tname,
		"session", chatmodel.GetSessionID(ctx),
		"turn", chatmodel.GetTurnID(ctx),
		"elapsed", time.Since(started).String())
	return out
}

func (r *Registry) invoke(ctx context.Context, e *entry, input string) (Output, error) {
	if e.local != nil {
		res, err := e.local.Call(ctx, input)
		if err != nil {
			return Output{}, err
		}
		return Output{Content: res}, nil
	}

	args := decodeArgs(input)
	if err := e.desc.Params.Validate(args); err != nil {
		return Output{}, err
	}
	if r.gw == nil {
		return Output{}, errors.WithMessagef(gateway.ErrNotConnected, "%s", e.desc.ServerID)
	}

	res, err := r.gw.CallTool(ctx, e.desc.ServerID, e.desc.RawName, args)
	if err != nil {
		return Output{}, err
	}
	if res.IsError {
		return Output{}, errors.New(res.Content)
	}
	if res.Structured != nil {
		return Output{Content: llmutils.ToJSON(res.Structured)}, nil
	}
	return Output{Content: res.Content}, nil
}

// decodeArgs parses the JSON input as an object,
// a non-object input is passed under the catch-all parameter
func decodeArgs(input string) map[string]any {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}
	}
	var val any
	if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &val); err != nil {
		return map[string]any{CatchAllParam: input}
	}
	switch v := val.(type) {
	case map[string]any:
		return v
	case nil:
		return map[string]any{}
	default:
		return map[string]any{CatchAllParam: v}
	}
}

func errorOutput(err error) Output {
	return Output{
		Content: llmutils.ToJSON(map[string]string{"error": err.Error()}),
		IsError: true,
	}
}
