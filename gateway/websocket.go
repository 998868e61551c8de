package gateway

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// WebSocketTransport connects to an MCP server over a websocket,
// one JSON-RPC message per text frame.
type WebSocketTransport struct {
	Endpoint string
	Header   http.Header
	Dialer   *websocket.Dialer
}

var _ mcp.Transport = (*WebSocketTransport)(nil)

func (t *WebSocketTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, t.Endpoint, t.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket dial failed: %s", resp.Status)
		}
		return nil, errors.Wrap(err, "websocket dial failed")
	}
	return NewWebSocketConnection(conn), nil
}

type readResult struct {
	msg jsonrpc.Message
	err error
}

type wsConnection struct {
	conn *websocket.Conn

	writeLock sync.Mutex
	incoming  chan readResult

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketConnection wraps an established websocket as an MCP connection,
// usable on both the client and the server side.
func NewWebSocketConnection(conn *websocket.Conn) mcp.Connection {
	c := &wsConnection{
		conn:     conn,
		incoming: make(chan readResult),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConnection) readLoop() {
	for {
		typ, data, err := c.conn.ReadMessage()
		var res readResult
		if err != nil {
			res.err = err
		} else if typ != websocket.TextMessage {
			continue
		} else {
			res.msg, res.err = jsonrpc.DecodeMessage(data)
		}

		select {
		case c.incoming <- res:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, io.EOF
	case res := <-c.incoming:
		if res.err != nil {
			if websocket.IsCloseError(res.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, res.err
		}
		return res.msg, nil
	}
}

func (c *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	select {
	case <-c.done:
		return io.EOF
	default:
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeLock.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeLock.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConnection) SessionID() string {
	return ""
}
