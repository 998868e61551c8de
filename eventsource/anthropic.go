package eventsource

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/reconciler"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

const (
	// DefaultModel is used when the request has no model
	DefaultModel = string(anthropic.ModelClaudeSonnet4_5)
	// DefaultMaxTokens is the output limit of one model call
	DefaultMaxTokens = 4096
)

// Option configures Anthropic
type Option func(*Anthropic)

// WithBaseURL overrides the API endpoint
func WithBaseURL(baseURL string) Option {
	return func(a *Anthropic) {
		a.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client option.HTTPClient) Option {
	return func(a *Anthropic) {
		a.httpClient = client
	}
}

// WithMaxTokens sets the output limit of one model call
func WithMaxTokens(n int64) Option {
	return func(a *Anthropic) {
		a.maxTokens = n
	}
}

// WithMaxRetries sets the number of retries of a failed model call
func WithMaxRetries(n int) Option {
	return func(a *Anthropic) {
		a.maxRetries = n
	}
}

// Anthropic streams messages from the Anthropic API,
// and runs the requested tools through the registry until the model stops calling tools.
type Anthropic struct {
	baseURL    string
	httpClient option.HTTPClient
	maxTokens  int64
	maxRetries int
}

var _ EventSource = (*Anthropic)(nil)

// NewAnthropic returns the Anthropic event source
func NewAnthropic(opts ...Option) *Anthropic {
	a := &Anthropic{
		maxTokens:  DefaultMaxTokens,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Anthropic) client(apikey string) anthropic.Client {
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(apikey),
		option.WithMaxRetries(a.maxRetries),
		option.WithRequestTimeout(5 * time.Minute),
	}
	if a.baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(a.baseURL))
	}
	if a.httpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(a.httpClient))
	}
	return anthropic.NewClient(sdkOpts...)
}

func (a *Anthropic) Stream(ctx context.Context, req *Request) (<-chan reconciler.Event, error) {
	if req.APIKey == "" {
		return nil, errors.WithStack(ErrMissingAPIKey)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(values.StringsCoalesce(req.Model, DefaultModel)),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.SystemPrompt,
			},
		}
	}
	if req.Tools != nil {
		params.Tools = ToTools(req.Tools.Tools())
	}

	t := &turn{
		client:   a.client(req.APIKey),
		params:   params,
		registry: req.Tools,
		maxTurns: values.NumbersCoalesce(req.MaxTurns, DefaultMaxTurns),
		events:   make(chan reconciler.Event, reconciler.DefaultBuffer),
	}

	go func() {
		defer close(t.events)
		if err := t.run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.ContextKV(ctx, xlog.ERROR, "reason", "stream", "err", err.Error())
			t.emit(ctx, reconciler.Failure{Err: err})
		}
	}()

	return t.events, nil
}

type turn struct {
	client   anthropic.Client
	params   anthropic.MessageNewParams
	registry *catalog.Registry
	maxTurns int
	events   chan reconciler.Event
}

// emit returns false when the consumer is gone
func (t *turn) emit(ctx context.Context, ev reconciler.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *turn) run(ctx context.Context) error {
	for i := 0; i < t.maxTurns; i++ {
		msg, err := t.call(ctx)
		if err != nil {
			return err
		}

		var results []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			if block.Type != "tool_use" {
				continue
			}
			input := json.RawMessage(block.Input)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			if !t.emit(ctx, reconciler.ToolInvocation{ID: block.ID, Tool: block.Name, Input: input}) {
				return ctx.Err()
			}

			out := catalog.Output{
				Content: `{"error":"no tools available"}`,
				IsError: true,
			}
			if t.registry != nil {
				out = t.registry.Call(ctx, block.Name, string(input))
			}
			if !t.emit(ctx, reconciler.ToolResult{ID: block.ID, Payload: out.Content}) {
				return ctx.Err()
			}
			results = append(results, anthropic.NewToolResultBlock(block.ID, out.Content, out.IsError))
		}

		if len(results) == 0 || msg.StopReason != anthropic.StopReasonToolUse {
			t.emit(ctx, reconciler.Terminal{Result: messageText(msg)})
			return nil
		}

		t.params.Messages = append(t.params.Messages, msg.ToParam(), anthropic.NewUserMessage(results...))
	}

	logger.ContextKV(ctx, xlog.INFO, "reason", "max_turns", "max", t.maxTurns)
	return nil
}

// call streams one model message, text deltas are emitted as they arrive
func (t *turn) call(ctx context.Context) (*anthropic.Message, error) {
	stream := t.client.Messages.NewStreaming(ctx, t.params)
	defer stream.Close()

	msg := &anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, errors.Wrap(err, "anthropic: failed to accumulate message")
		}
		if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if !t.emit(ctx, reconciler.TextDelta{Text: delta.Text}) {
					return nil, ctx.Err()
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "anthropic: streaming error")
	}
	return msg, nil
}

func messageText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToTools converts the catalog descriptors to Anthropic tool parameters
func ToTools(list []catalog.ToolDescriptor) []anthropic.ToolUnionParam {
	if len(list) == 0 {
		return nil
	}
	sdkTools := make([]anthropic.ToolUnionParam, len(list))
	for i, d := range list {
		schema := d.Params.JSONSchema()
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
		}
		if len(schema.Required) > 0 {
			inputSchema.Required = schema.Required
		}
		sdkTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.NamespacedName,
				Description: anthropic.String(d.Description),
				InputSchema: inputSchema,
			},
		}
	}
	return sdkTools
}
