// Package servers manages the lifecycle of the registered external tool servers.
package servers

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/chatmodel"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "servers")

// DefaultConnectConcurrency bounds the concurrent connects of ConnectEnabled
const DefaultConnectConcurrency = 4

// ErrConnectFailed is returned when the server could not be connected,
// the message carries the sanitized reason
var ErrConnectFailed = errors.New("connection failed")

// Gateway is the connection manager of the external servers
type Gateway interface {
	Connect(ctx context.Context, d *gateway.Descriptor) ([]*mcp.Tool, error)
	Test(ctx context.Context, d *gateway.Descriptor) ([]*mcp.Tool, error)
	Disconnect(ctx context.Context, serverID string)
	Status(serverID string) gateway.ServerStatus
}

// Patch is a partial update of a server
type Patch struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// TestResult is the outcome of a connection test
type TestResult struct {
	Success bool                     `json:"success" yaml:"success"`
	Tools   []storage.DiscoveredTool `json:"tools" yaml:"tools"`
	Error   string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Service manages the registered servers and their connections
type Service struct {
	store storage.Storage
	gw    Gateway
}

// New returns the Service
func New(store storage.Storage, gw Gateway) *Service {
	return &Service{
		store: store,
		gw:    gw,
	}
}

// Create registers a server, a new ID is assigned when the descriptor has none
func (s *Service) Create(ctx context.Context, d *gateway.Descriptor) (*storage.Server, error) {
	if d == nil {
		return nil, errors.WithMessage(gateway.ErrInvalidDescriptor, "descriptor is required")
	}
	desc := *d
	if desc.ID == "" {
		desc.ID = chatmodel.NewID()
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	srv, err := s.store.CreateServer(ctx, &storage.Server{
		ID:         desc.ID,
		Descriptor: desc,
		Enabled:    true,
		Status:     gateway.StatusDisconnected,
	})
	if err != nil {
		return nil, err
	}
	logger.ContextKV(ctx, xlog.INFO,
		"status", "created",
		"server", srv.ID,
		"transport", desc.Transport)
	return srv, nil
}

// Connect connects the server and records the outcome on the server status
func (s *Service) Connect(ctx context.Context, id string) (*storage.Server, error) {
	srv, err := s.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.connect(ctx, srv); err != nil {
		return nil, err
	}
	return s.store.GetServer(ctx, id)
}

func (s *Service) connect(ctx context.Context, srv *storage.Server) error {
	tools, err := s.gw.Connect(ctx, &srv.Descriptor)
	if err != nil {
		msg := s.gw.Status(srv.ID).LastError
		if msg == "" {
			// rejected before dialing, the message has no secrets
			msg = err.Error()
		}
		uerr := s.store.UpdateServerStatus(ctx, srv.ID, &storage.StatusUpdate{
			Status:    gateway.StatusError,
			LastError: msg,
		})
		if uerr != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "update_status", "server", srv.ID, "err", uerr.Error())
		}
		return errors.WithMessage(ErrConnectFailed, msg)
	}

	now := time.Now()
	err = s.store.UpdateServerStatus(ctx, srv.ID, &storage.StatusUpdate{
		Status:          gateway.StatusConnected,
		DiscoveredTools: discovered(tools),
		LastConnected:   &now,
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to record status of server %s", srv.ID)
	}
	return nil
}

// Test connects to the server, lists its tools and disconnects.
// The registered connection and the stored status are not changed.
func (s *Service) Test(ctx context.Context, id string) (*TestResult, error) {
	srv, err := s.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	tools, err := s.gw.Test(ctx, &srv.Descriptor)
	if err != nil {
		return &TestResult{
			Tools: []storage.DiscoveredTool{},
			Error: err.Error(),
		}, nil
	}
	return &TestResult{
		Success: true,
		Tools:   discovered(tools),
	}, nil
}

// List returns the registered servers
func (s *Service) List(ctx context.Context) ([]*storage.Server, error) {
	return s.store.ListServers(ctx)
}

// Get returns the registered server
func (s *Service) Get(ctx context.Context, id string) (*storage.Server, error) {
	return s.store.GetServer(ctx, id)
}

// Delete disconnects and removes the server
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetServer(ctx, id); err != nil {
		return err
	}
	s.gw.Disconnect(ctx, id)
	if err := s.store.DeleteServer(ctx, id); err != nil {
		return err
	}
	logger.ContextKV(ctx, xlog.INFO, "status", "deleted", "server", id)
	return nil
}

// Patch updates the server, disabling a server disconnects it
func (s *Service) Patch(ctx context.Context, id string, p *Patch) (*storage.Server, error) {
	if p == nil || p.Enabled == nil {
		return s.store.GetServer(ctx, id)
	}

	srv, err := s.store.SetServerEnabled(ctx, id, *p.Enabled)
	if err != nil {
		return nil, err
	}
	if srv.Enabled {
		return srv, nil
	}

	s.gw.Disconnect(ctx, id)
	err = s.store.UpdateServerStatus(ctx, id, &storage.StatusUpdate{
		Status:          gateway.StatusDisconnected,
		DiscoveredTools: srv.DiscoveredTools,
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetServer(ctx, id)
}

// ConnectEnabled connects all enabled servers concurrently.
// Connect failures are recorded on the servers and not returned.
func (s *Service) ConnectEnabled(ctx context.Context) error {
	list, err := s.store.ListServers(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConnectConcurrency)
	for _, srv := range list {
		if !srv.Enabled {
			continue
		}
		g.Go(func() error {
			if err := s.connect(gctx, srv); err != nil {
				logger.ContextKV(gctx, xlog.ERROR, "reason", "connect_enabled", "server", srv.ID, "err", err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

func discovered(tools []*mcp.Tool) []storage.DiscoveredTool {
	list := make([]storage.DiscoveredTool, 0, len(tools))
	for _, t := range tools {
		list = append(list, storage.DiscoveredTool{
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return list
}
