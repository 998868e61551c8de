// Package gateway manages connections to external MCP tool servers.
package gateway

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/sdragent/secrets"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "gateway")

var (
	// ErrInvalidDescriptor is returned when the server descriptor is incomplete
	ErrInvalidDescriptor = errors.New("invalid server descriptor")
	// ErrMissingSecret is returned when the auth secret can not be resolved,
	// no connection is attempted in this case
	ErrMissingSecret = errors.New("missing secret")
	// ErrNotConnected is returned when calling a tool of a server that is not connected
	ErrNotConnected = errors.New("server not connected")
)

// Status of an external server connection
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ServerStatus describes the last known state of a server
type ServerStatus struct {
	ServerID  string    `json:"server_id" yaml:"server_id"`
	Status    Status    `json:"status" yaml:"status"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Connection is a snapshot of a live connection
type Connection struct {
	ServerID string
	Name     string
	Tools    []*mcp.Tool
}

// ToolResult is the normalized result of an external tool call
type ToolResult struct {
	// Content is the concatenated text content
	Content string
	// Structured is the optional structured content
	Structured any
	IsError    bool
}

type liveConn struct {
	desc    Descriptor
	session *mcp.ClientSession
	tools   []*mcp.Tool
	secret  string
}

// Option configures the Gateway
type Option func(*Gateway)

// WithTransportFactory sets the factory used to create transports
func WithTransportFactory(f TransportFactory) Option {
	return func(g *Gateway) {
		g.factory = f
	}
}

// WithHTTPClient sets the HTTP client for http servers,
// ignored if WithTransportFactory is used
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithImplementation sets the client name and version reported to servers
func WithImplementation(name, version string) Option {
	return func(g *Gateway) {
		g.impl = &mcp.Implementation{Name: name, Version: version}
	}
}

// Gateway connects to external tool servers and routes calls to them
type Gateway struct {
	resolver   secrets.Resolver
	factory    TransportFactory
	httpClient *http.Client
	impl       *mcp.Implementation

	lock     sync.RWMutex
	conns    map[string]*liveConn
	statuses map[string]*ServerStatus
	idLocks  map[string]*sync.Mutex
}

// New returns a Gateway that resolves auth secrets with the resolver
func New(resolver secrets.Resolver, opts ...Option) *Gateway {
	g := &Gateway{
		resolver: resolver,
		impl:     &mcp.Implementation{Name: "sdragent", Version: "v1.0.0"},
		conns:    make(map[string]*liveConn),
		statuses: make(map[string]*ServerStatus),
		idLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.factory == nil {
		g.factory = DefaultTransportFactory(g.httpClient)
	}
	return g
}

func (g *Gateway) serverLock(id string) *sync.Mutex {
	g.lock.Lock()
	defer g.lock.Unlock()
	l, ok := g.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		g.idLocks[id] = l
	}
	return l
}

func (g *Gateway) setStatus(id string, status Status, lastError string) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.statuses[id] = &ServerStatus{
		ServerID:  id,
		Status:    status,
		LastError: lastError,
		UpdatedAt: time.Now().UTC(),
	}
}

// Connect establishes a connection to the server and discovers its tools.
// An existing connection with the same ID is closed first.
func (g *Gateway) Connect(ctx context.Context, d *Descriptor) ([]*mcp.Tool, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	l := g.serverLock(d.ID)
	l.Lock()
	defer l.Unlock()

	g.disconnect(ctx, d.ID)

	started := time.Now()
	session, tools, secret, err := g.dial(ctx, d)
	if err != nil {
		metricskey.StatsGatewayConnectFailed.IncrCounter(1, string(d.Transport))
		msg := sanitizeErr(err, secret)
		g.setStatus(d.ID, StatusError, msg)
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "connect",
			"server", d.ID,
			"transport", d.Transport,
			"err", msg)
		return nil, err
	}
	metricskey.PerfGatewayConnect.MeasureSince(started, string(d.Transport))
	metricskey.StatsGatewayConnectSucceeded.IncrCounter(1, string(d.Transport))

	g.lock.Lock()
	g.conns[d.ID] = &liveConn{
		desc:    *d,
		session: session,
		tools:   tools,
		secret:  secret,
	}
	g.lock.Unlock()
	g.setStatus(d.ID, StatusConnected, "")

	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"server", d.ID,
		"transport", d.Transport,
		"tools", len(tools))

	return tools, nil
}

// Test connects to the server, lists its tools and disconnects.
// The registered connection of the same server, if any, is not affected.
func (g *Gateway) Test(ctx context.Context, d *Descriptor) ([]*mcp.Tool, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	session, tools, secret, err := g.dial(ctx, d)
	if err != nil {
		return nil, errors.New(sanitizeErr(err, secret))
	}
	_ = session.Close()
	return tools, nil
}

func (g *Gateway) dial(ctx context.Context, d *Descriptor) (*mcp.ClientSession, []*mcp.Tool, string, error) {
	// a server with no secret_ref is dialed without credentials
	var secret string
	if d.authMode() != AuthNone && d.SecretRef != "" {
		var err error
		secret, err = g.resolver.Resolve(ctx, d.SecretRef)
		if err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				return nil, nil, "", errors.WithMessagef(ErrMissingSecret, "%s", d.SecretRef)
			}
			return nil, nil, "", errors.Wrapf(err, "failed to resolve secret %s", d.SecretRef)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	transport, err := g.factory(ctx, d, NewCredentials(d, secret))
	if err != nil {
		return nil, nil, secret, err
	}

	client := mcp.NewClient(g.impl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, secret, errors.Wrapf(err, "failed to connect to %s", d.ID)
	}

	var tools []*mcp.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, nil, secret, errors.Wrapf(err, "failed to list tools of %s", d.ID)
		}
		tools = append(tools, tool)
	}
	return session, tools, secret, nil
}

// Disconnect closes the server connection, if any.
func (g *Gateway) Disconnect(ctx context.Context, serverID string) {
	l := g.serverLock(serverID)
	l.Lock()
	defer l.Unlock()
	g.disconnect(ctx, serverID)
}

func (g *Gateway) disconnect(ctx context.Context, serverID string) {
	g.lock.Lock()
	c, ok := g.conns[serverID]
	delete(g.conns, serverID)
	g.lock.Unlock()

	if !ok {
		return
	}
	if err := c.session.Close(); err != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"reason", "close",
			"server", serverID,
			"err", sanitizeErr(err, c.secret))
	}
	g.setStatus(serverID, StatusDisconnected, "")
}

// Close disconnects all servers.
func (g *Gateway) Close() error {
	g.lock.RLock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.lock.RUnlock()

	for _, id := range ids {
		g.Disconnect(context.Background(), id)
	}
	return nil
}

// CallTool invokes a tool by its raw name on the connected server.
func (g *Gateway) CallTool(ctx context.Context, serverID, tool string, args map[string]any) (*ToolResult, error) {
	g.lock.RLock()
	c, ok := g.conns[serverID]
	g.lock.RUnlock()
	if !ok {
		return nil, errors.WithMessagef(ErrNotConnected, "%s", serverID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.desc.timeout())
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, errors.Newf("%s/%s: %s", serverID, tool, sanitizeErr(err, c.secret))
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return &ToolResult{
		Content:    sb.String(),
		Structured: res.StructuredContent,
		IsError:    res.IsError,
	}, nil
}

// Connections returns the live connections ordered by server ID.
func (g *Gateway) Connections() []Connection {
	g.lock.RLock()
	defer g.lock.RUnlock()

	list := make([]Connection, 0, len(g.conns))
	for id, c := range g.conns {
		list = append(list, Connection{
			ServerID: id,
			Name:     c.desc.DisplayName(),
			Tools:    c.tools,
		})
	}
	slices.SortFunc(list, func(a, b Connection) int {
		return strings.Compare(a.ServerID, b.ServerID)
	})
	return list
}

// IsConnected returns true if the server has a live connection.
func (g *Gateway) IsConnected(serverID string) bool {
	g.lock.RLock()
	defer g.lock.RUnlock()
	_, ok := g.conns[serverID]
	return ok
}

// Status returns the last known status of the server.
func (g *Gateway) Status(serverID string) ServerStatus {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if s, ok := g.statuses[serverID]; ok {
		return *s
	}
	return ServerStatus{ServerID: serverID, Status: StatusDisconnected}
}
