// Package session stores the conversation history of chat sessions.
package session

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "session")

//go:generate mockgen -source=session.go -destination=../mocks/mocksession/session_mock.gen.go -package mocksession

// ErrNotFound is returned when the session does not exist
var ErrNotFound = errors.New("session not found")

// Role of the turn author
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is a single message in the session history
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Session is a conversation
type Session struct {
	ID           string    `json:"id" yaml:"id"`
	History      []Turn    `json:"history" yaml:"history"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	LastActivity time.Time `json:"last_activity" yaml:"last_activity"`
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	c := *s
	c.History = slices.Clone(s.History)
	if c.History == nil {
		c.History = []Turn{}
	}
	return &c
}

// Info describes a session without its history
type Info struct {
	ID           string    `json:"id" yaml:"id"`
	Turns        int       `json:"turns" yaml:"turns"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	LastActivity time.Time `json:"last_activity" yaml:"last_activity"`
}

// Store keeps the sessions.
// Returned sessions are copies, changing them does not affect the store.
type Store interface {
	// Create starts a session seeded with the history and returns its ID
	Create(ctx context.Context, history ...Turn) (string, error)
	// Get returns the session or ErrNotFound
	Get(ctx context.Context, id string) (*Session, error)
	// Fork creates a new session with a copy of the history of the source session
	Fork(ctx context.Context, id string) (string, error)
	// Append adds the turns to the history and updates the activity time
	Append(ctx context.Context, id string, turns ...Turn) error
	// Delete removes the session
	Delete(ctx context.Context, id string) error
	// Evict removes the sessions idle for longer than idleFor,
	// and returns the number of removed sessions
	Evict(ctx context.Context, idleFor time.Duration) (int, error)
	// List returns the sessions ordered by ID
	List(ctx context.Context) ([]*Info, error)
}
