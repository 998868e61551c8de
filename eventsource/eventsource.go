// Package eventsource produces the event stream of a model turn.
package eventsource

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/reconciler"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "eventsource")

//go:generate mockgen -source=eventsource.go -destination=../mocks/mockeventsource/eventsource_mock.gen.go -package mockeventsource

// DefaultMaxTurns is the maximum number of model calls in one turn
const DefaultMaxTurns = 8

// ErrMissingAPIKey is returned when the request has no API key
var ErrMissingAPIKey = errors.New("api key is required")

// Request describes a model turn
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	APIKey       string
	// Tools are available to the model, can be nil
	Tools *catalog.Registry
	// MaxTurns bounds the model calls, each tool round trip is a call
	MaxTurns int
}

// EventSource streams the events of a model turn.
// The channel is closed when the turn is complete, a failure is
// reported with reconciler.Failure before the channel is closed.
// The producer stops when ctx is cancelled.
type EventSource interface {
	Stream(ctx context.Context, req *Request) (<-chan reconciler.Event, error)
}
