package chatmodel

import (
	"context"
	"strconv"

	"github.com/effective-security/xdb/pkg/flake"
)

// ChatContext is the context of a single chat turn.
// It carries the session ID and the model the turn is run against.
type ChatContext interface {
	// GetSessionID is empty for a turn that starts a new session
	GetSessionID() string
	GetTurnID() string
	GetModel() string
}

type chatContext struct {
	sessionID string
	turnID    string
	model     string
}

func (c *chatContext) GetSessionID() string {
	return c.sessionID
}

func (c *chatContext) GetTurnID() string {
	return c.turnID
}

func (c *chatContext) GetModel() string {
	return c.model
}

// NewChatContext returns a context for a new turn in the session,
// a new turn ID is always generated.
func NewChatContext(sessionID, model string) ChatContext {
	return &chatContext{
		sessionID: sessionID,
		turnID:    NewID(),
		model:     model,
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetSessionID retrieves the session ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetSessionID()
	}
	return ""
}

// GetTurnID retrieves the turn ID from the provided context.
func GetTurnID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetTurnID()
	}
	return ""
}

// NewID generates a new ID using the flake ID generator.
func NewID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
