// Package engine runs chat turns: it resolves the session, streams the model turn
// with the federated tools, reconciles the events and persists qualifying results.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/chatmodel"
	"github.com/effective-security/sdragent/eventsource"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/sdragent/pkg/prompts"
	"github.com/effective-security/sdragent/reconciler"
	"github.com/effective-security/sdragent/secrets"
	"github.com/effective-security/sdragent/session"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "engine")

const (
	// DefaultTurnTimeout bounds a single turn
	DefaultTurnTimeout = 5 * time.Minute
	// DefaultContent is returned when the model produced no text
	DefaultContent = "analysis complete"
	// APIKeySecret is the name of the model API key secret
	APIKeySecret = "ANTHROPIC_API_KEY"
)

// ErrInvalidRequest is returned for malformed turn requests
var ErrInvalidRequest = errors.New("invalid request")

// Catalog builds the tool registry of a turn
type Catalog interface {
	Build(ctx context.Context) (*catalog.Registry, error)
}

// Persister stores the outcome of a tool use
type Persister interface {
	Persist(ctx context.Context, use *reconciler.ToolUse) (bool, error)
}

// TurnRequest is a chat turn
type TurnRequest struct {
	UserMessage  string `json:"message" yaml:"message" validate:"required"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// History seeds a new session, ignored when SessionID is set
	History []session.Turn `json:"history,omitempty" yaml:"history,omitempty"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	// APIKey overrides the configured model API key
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	// ForkSession runs the turn in a copy of SessionID
	ForkSession bool `json:"fork_session,omitempty" yaml:"fork_session,omitempty"`
}

// TurnResponse is the result of a chat turn
type TurnResponse struct {
	Content   string                `json:"content" yaml:"content"`
	ToolUse   *reconciler.ToolUse   `json:"tool_use,omitempty" yaml:"tool_use,omitempty"`
	ToolUses  []*reconciler.ToolUse `json:"tool_uses,omitempty" yaml:"tool_uses,omitempty"`
	SessionID string                `json:"session_id" yaml:"session_id"`
	// Persisted is true when a ranking exists for the analyzed profile
	Persisted bool `json:"persisted,omitempty" yaml:"persisted,omitempty"`
}

// Option configures the Engine
type Option func(*Engine)

// WithTurnTimeout sets the deadline of a turn
func WithTurnTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.turnTimeout = d
	}
}

// WithMaxTurns bounds the model calls in a turn
func WithMaxTurns(n int) Option {
	return func(e *Engine) {
		e.maxTurns = n
	}
}

// WithPersister sets the persistence of qualifying tool results
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithSecrets sets the resolver of the model API key,
// used when the request has no key
func WithSecrets(r secrets.Resolver) Option {
	return func(e *Engine) {
		e.secrets = r
	}
}

// WithDefaultModel sets the model used when the request has none
func WithDefaultModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithSystemPrompt sets the system prompt used when the request has none
func WithSystemPrompt(prompt string) Option {
	return WithSystemTemplate(prompts.Must(prompt, prompts.FormatText))
}

// WithSystemTemplate sets the system prompt template used when the request has none.
// The template is rendered on each turn with model, tools, session_id and date values.
func WithSystemTemplate(t *prompts.Template) Option {
	return func(e *Engine) {
		e.systemPrompt = t
	}
}

// Engine runs chat turns
type Engine struct {
	sessions  session.Store
	catalog   Catalog
	source    eventsource.EventSource
	persister Persister
	secrets   secrets.Resolver

	model        string
	systemPrompt *prompts.Template
	turnTimeout  time.Duration
	maxTurns     int
	locks        *keyedMutex
}

// New returns the Engine
func New(sessions session.Store, cat Catalog, source eventsource.EventSource, opts ...Option) *Engine {
	e := &Engine{
		sessions:    sessions,
		catalog:     cat,
		source:      source,
		model:       eventsource.DefaultModel,
		turnTimeout: DefaultTurnTimeout,
		maxTurns:    eventsource.DefaultMaxTurns,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions returns the session store
func (e *Engine) Sessions() session.Store {
	return e.sessions
}

// ProcessTurn runs a chat turn.
// The session is changed only when the turn succeeds.
func (e *Engine) ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	if req == nil || strings.TrimSpace(req.UserMessage) == "" {
		return nil, errors.WithMessage(ErrInvalidRequest, "message is required")
	}
	if req.ForkSession && req.SessionID == "" {
		return nil, errors.WithMessage(ErrInvalidRequest, "session_id is required to fork")
	}

	model := values.StringsCoalesce(req.Model, e.model)
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	if req.SessionID != "" {
		// the source of a fork is locked too, so the fork sees completed turns only
		unlock := e.locks.Lock(req.SessionID)
		defer unlock()
	}

	res, err := e.processTurn(ctx, req, model)
	if err != nil {
		metricskey.StatsTurnsFailed.IncrCounter(1, model)
		logger.ContextKV(ctx, xlog.ERROR,
			"session", req.SessionID,
			"fork", req.ForkSession,
			"err", err.Error(),
		)
		return nil, err
	}

	metricskey.StatsTurnsSucceeded.IncrCounter(1, model)
	metricskey.PerfTurn.MeasureSince(started, model)
	return res, nil
}

func (e *Engine) processTurn(ctx context.Context, req *TurnRequest, model string) (*TurnResponse, error) {
	history := req.History
	if req.SessionID != "" {
		s, err := e.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		history = s.History
	}

	apiKey, err := e.apiKey(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	chatCtx := chatmodel.NewChatContext(req.SessionID, model)
	ctx = chatmodel.WithChatContext(ctx, chatCtx)

	registry, err := e.catalog.Build(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build tool catalog")
	}

	system, err := e.renderSystemPrompt(req, model, registry)
	if err != nil {
		return nil, err
	}

	events, err := e.source.Stream(ctx, &eventsource.Request{
		Prompt:       ComposePrompt(history, req.UserMessage),
		SystemPrompt: system,
		Model:        model,
		APIKey:       apiKey,
		Tools:        registry,
		MaxTurns:     e.maxTurns,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open event stream")
	}

	result, err := reconciler.Reconcile(ctx, events)
	if err != nil {
		return nil, err
	}

	content := values.StringsCoalesce(result.Content, DefaultContent)
	turns := []session.Turn{
		{Role: session.RoleUser, Content: req.UserMessage},
		{Role: session.RoleAgent, Content: content},
	}

	sessionID, err := e.commit(ctx, req, turns)
	if err != nil {
		return nil, err
	}

	res := &TurnResponse{
		Content:   content,
		ToolUse:   result.ToolUse,
		ToolUses:  result.ToolUses,
		SessionID: sessionID,
	}

	if e.persister != nil {
		uses := result.ToolUses
		if len(uses) == 0 && result.ToolUse != nil {
			uses = []*reconciler.ToolUse{result.ToolUse}
		}
		for _, use := range uses {
			persisted, err := e.persister.Persist(ctx, use)
			if err != nil {
				logger.ContextKV(ctx, xlog.ERROR,
					"reason", "persist",
					"session", sessionID,
					"tool", use.Tool,
					"err", err.Error(),
				)
			}
			res.Persisted = res.Persisted || persisted
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"session", sessionID,
		"turn", chatCtx.GetTurnID(),
		"model", model,
		"tool_uses", len(result.ToolUses),
	)
	return res, nil
}

// commit appends the turns to the session and returns its ID
func (e *Engine) commit(ctx context.Context, req *TurnRequest, turns []session.Turn) (string, error) {
	switch {
	case req.ForkSession:
		id, err := e.sessions.Fork(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		return id, e.sessions.Append(ctx, id, turns...)
	case req.SessionID != "":
		return req.SessionID, e.sessions.Append(ctx, req.SessionID, turns...)
	default:
		history := make([]session.Turn, 0, len(req.History)+len(turns))
		history = append(history, req.History...)
		history = append(history, turns...)
		return e.sessions.Create(ctx, history...)
	}
}

func (e *Engine) apiKey(ctx context.Context, override string) (string, error) {
	if override != "" || e.secrets == nil {
		return override, nil
	}
	key, err := e.secrets.Resolve(ctx, APIKeySecret)
	if err != nil {
		return "", errors.WithMessage(err, "model API key is not configured")
	}
	return key, nil
}

func (e *Engine) renderSystemPrompt(req *TurnRequest, model string, registry *catalog.Registry) (string, error) {
	if req.SystemPrompt != "" || e.systemPrompt == nil {
		return req.SystemPrompt, nil
	}

	var names []string
	for _, t := range registry.Tools() {
		names = append(names, t.NamespacedName)
	}
	system, err := e.systemPrompt.Render(map[string]any{
		"model":      model,
		"tools":      names,
		"session_id": req.SessionID,
		"date":       time.Now().Format(time.DateOnly),
	})
	if err != nil {
		return "", errors.WithMessage(err, "invalid system prompt")
	}
	return system, nil
}

// ComposePrompt returns the prior turns as `role: content` lines
// followed by the user message, or the message alone without history
func ComposePrompt(history []session.Turn, message string) string {
	if len(history) == 0 {
		return message
	}
	var sb strings.Builder
	for _, t := range history {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	sb.WriteString(string(session.RoleUser))
	sb.WriteString(": ")
	sb.WriteString(message)
	return sb.String()
}
