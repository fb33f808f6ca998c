package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// tapTransport reports every JSON-RPC message crossing the wrapped transport
// to an RPCLogger.
type tapTransport struct {
	mcp.Transport
	server string
	sink   RPCLogger
}

func (t *tapTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.Transport.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &tapConnection{Connection: conn, server: t.server, sink: t.sink}, nil
}

type tapConnection struct {
	mcp.Connection
	server string
	sink   RPCLogger

	// serializes sink calls between the reader and writer goroutines
	mu sync.Mutex
}

func (c *tapConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.Connection.Read(ctx)
	if err != nil {
		return nil, err
	}
	c.report(RPCDirectionReceive, msg)
	return msg, nil
}

func (c *tapConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.Connection.Write(ctx, msg); err != nil {
		return err
	}
	c.report(RPCDirectionSend, msg)
	return nil
}

func (c *tapConnection) report(dir RPCDirection, msg jsonrpc.Message) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		data = []byte(err.Error())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink(RPCLogEvent{Direction: dir, Message: data, ServerID: c.server})
}

// slogRPCLogger writes JSON-RPC traffic to logger.
func slogRPCLogger(logger *slog.Logger) RPCLogger {
	return func(e RPCLogEvent) {
		logger.Info("jsonrpc", "server", e.ServerID, "direction", e.Direction, "message", string(e.Message))
	}
}

// shouldPreferSSE honours an explicit PreferSSE and otherwise treats
// endpoints ending in /sse as legacy SSE servers.
func shouldPreferSSE(cfg *HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"), "/sse")
}

// decorateHTTPClient returns base unchanged when there is nothing to add,
// otherwise a shallow copy whose transport injects headers and credentials.
func decorateHTTPClient(base *http.Client, headers http.Header, auth HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 && auth == nil {
		return base
	}
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client := *base
	client.Transport = &injectingRoundTripper{next: next, headers: headers.Clone(), auth: auth}
	return &client
}

type injectingRoundTripper struct {
	next    http.RoundTripper
	headers http.Header
	auth    HTTPAuthProvider
}

func (rt *injectingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for name, values := range rt.headers {
		out.Header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if rt.auth != nil && out.Header.Get("Authorization") == "" {
		credential, err := rt.auth(req.Context())
		if err != nil {
			return nil, err
		}
		if credential != "" {
			out.Header.Set("Authorization", credential)
		}
	}
	return rt.next.RoundTrip(out)
}
