package gateway

import (
	"context"
	"net/http"
	"os"
	"os/exec"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportFactory creates the MCP transport for a validated descriptor
type TransportFactory func(ctx context.Context, d *Descriptor, creds *Credentials) (mcp.Transport, error)

// DefaultTransportFactory returns the factory for stdio, http and websocket servers.
// httpClient is used by http servers, nil for http.DefaultClient.
func DefaultTransportFactory(httpClient *http.Client) TransportFactory {
	return func(_ context.Context, d *Descriptor, creds *Credentials) (mcp.Transport, error) {
		switch d.Transport {
		case TransportStdio:
			cmd := exec.Command(d.Command, d.Args...)
			cmd.Env = os.Environ()
			for k, v := range d.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
			cmd.Env = append(cmd.Env, creds.Env...)
			return &mcp.CommandTransport{Command: cmd}, nil

		case TransportHTTP:
			endpoint, err := creds.ApplyURL(d.Endpoint)
			if err != nil {
				return nil, err
			}
			return &mcp.StreamableClientTransport{
				Endpoint:             endpoint,
				HTTPClient:           creds.HTTPClient(httpClient),
				DisableStandaloneSSE: true,
			}, nil

		case TransportWebSocket:
			endpoint, err := creds.ApplyURL(d.Endpoint)
			if err != nil {
				return nil, err
			}
			return &WebSocketTransport{
				Endpoint: endpoint,
				Header:   creds.Header,
			}, nil

		default:
			return nil, errors.WithMessagef(ErrInvalidDescriptor, "unsupported transport: %q", d.Transport)
		}
	}
}
