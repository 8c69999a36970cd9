package mcp

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wincontrol/deskagent/pkg/useragent"
)

const (
	TransportStreamable = "streamable"
	TransportSSE        = "sse"
)

func newRemoteClient(url, transportType string, headers map[string]string) *sessionClient {
	slog.Debug("Creating remote MCP client", "url", url, "transport", transportType)

	return &sessionClient{
		newTransport: func() (mcp.Transport, error) {
			return remoteTransport(url, transportType, &http.Client{
				Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
			})
		},
	}
}

func remoteTransport(url, transportType string, httpClient *http.Client) (mcp.Transport, error) {
	switch transportType {
	case TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   url,
			HTTPClient: httpClient,
		}, nil
	case "", TransportStreamable, "streamable-http":
		return &mcp.StreamableClientTransport{
			Endpoint:   url,
			HTTPClient: httpClient,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}

// headerTransport sets the deskagent user agent and adds static headers to every request sent to a remote tool server.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", useragent.Header)
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}
	return t.base.RoundTrip(req)
}
