// Package storage persists derived rankings and external server records.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "storage")

//go:generate mockgen -source=storage.go -destination=../mocks/mockstorage/storage_mock.gen.go -package mockstorage

var (
	// ErrNotFound is returned when the record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a record with the same key exists
	ErrAlreadyExists = errors.New("already exists")
)

// Ranking is a lead qualification record derived from a profile analysis
type Ranking struct {
	// Handle is the normalized social handle, unique per ranking
	Handle        string    `json:"handle" yaml:"handle"`
	Name          string    `json:"name" yaml:"name"`
	Niche         string    `json:"niche" yaml:"niche"`
	Score         float64   `json:"score" yaml:"score"`
	Qualified     bool      `json:"qualified" yaml:"qualified"`
	SourcePayload string    `json:"source_payload,omitempty" yaml:"source_payload,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// DiscoveredTool is a tool reported by an external server
type DiscoveredTool struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Server is a registered external tool server
type Server struct {
	ID              string             `json:"id" yaml:"id"`
	Descriptor      gateway.Descriptor `json:"descriptor" yaml:"descriptor"`
	Enabled         bool               `json:"enabled" yaml:"enabled"`
	Status          gateway.Status     `json:"status" yaml:"status"`
	LastError       string             `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	DiscoveredTools []DiscoveredTool   `json:"discovered_tools" yaml:"discovered_tools"`
	LastConnected   *time.Time         `json:"last_connected,omitempty" yaml:"last_connected,omitempty"`
	CreatedAt       time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" yaml:"updated_at"`
}

// StatusUpdate is the outcome of a connection attempt
type StatusUpdate struct {
	Status          gateway.Status
	LastError       string
	DiscoveredTools []DiscoveredTool
	// LastConnected is updated only when set
	LastConnected *time.Time
}

// Storage is the persistence collaborator of the engine
type Storage interface {
	// GetRankingByHandle returns ErrNotFound if the ranking does not exist
	GetRankingByHandle(ctx context.Context, handle string) (*Ranking, error)
	// CreateRanking returns ErrAlreadyExists if a ranking with the same handle exists
	CreateRanking(ctx context.Context, r *Ranking) (*Ranking, error)
	ListRankings(ctx context.Context, limit int) ([]*Ranking, error)

	CreateServer(ctx context.Context, s *Server) (*Server, error)
	GetServer(ctx context.Context, id string) (*Server, error)
	ListServers(ctx context.Context) ([]*Server, error)
	DeleteServer(ctx context.Context, id string) error
	SetServerEnabled(ctx context.Context, id string, enabled bool) (*Server, error)
	UpdateServerStatus(ctx context.Context, id string, update *StatusUpdate) error
}

// NormalizeHandle trims the handle, strips the leading `@` and lower-cases it
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimLeft(h, "@")
	return strings.ToLower(strings.TrimSpace(h))
}
