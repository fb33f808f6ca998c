package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

// Backend is the part of mcpmgr.Supervisor the gateway depends on.
type Backend interface {
	Names() []string
	ListTools(ctx context.Context, name string) ([]*mcp.Tool, error)
	CallToolCancellable(ctx context.Context, name string, params *mcp.CallToolParams, callID string) (*mcp.CallToolResult, error)
	Cancel(callID string) error
	InFlight() []string
	Statuses() map[string]mcpmgr.ServiceStatus
}

// Gateway exposes a Streamable MCP server that fronts every server running
// under a supervisor on a single HTTP endpoint.
type Gateway struct {
	backend Backend
	opts    Options

	tools *toolIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway and synchronizes the initial tool snapshot.
func NewGateway(backend Backend, opts *Options) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("mcpgateway: backend is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions require a TokenVerifier")
	}
	g := &Gateway{
		backend: backend,
		opts:    options,
		tools:   newToolIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	if err := g.SyncAll(context.Background()); err != nil {
		options.Logger.Warn("initial gateway sync incomplete", "error", err)
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint and the
// auxiliary routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ListenAndServe runs an HTTP server, refreshing the tool index every
// ResyncInterval, until the provided context is cancelled or the server
// stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go g.Watch(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("mcp gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Watch refreshes the tool index every ResyncInterval until ctx ends.
func (g *Gateway) Watch(ctx context.Context) {
	ticker := time.NewTicker(g.opts.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.SyncAll(ctx); err != nil && ctx.Err() == nil {
				g.logError("periodic sync", err)
			}
		}
	}
}

// SyncAll refreshes every running server and drops the tools of servers that
// are no longer running.
func (g *Gateway) SyncAll(ctx context.Context) error {
	running := g.backend.Names()
	live := make(map[string]bool, len(running))
	var errs []error
	for _, serverID := range running {
		live[serverID] = true
		if err := g.SyncServer(ctx, serverID); err != nil {
			errs = append(errs, err)
			g.logError("sync server", err, "server", serverID)
		}
	}
	for _, serverID := range g.tools.Servers() {
		if !live[serverID] {
			g.DetachServer(serverID)
		}
	}
	return errors.Join(errs...)
}

// SyncServer refreshes a specific server's tools.
func (g *Gateway) SyncServer(ctx context.Context, serverID string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	tools, err := g.backend.ListTools(ctx, serverID)
	if err != nil {
		return err
	}
	stale, fresh := g.tools.Replace(serverID, tools)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(stale) > 0 {
		g.server.RemoveTools(stale...)
	}
	for _, et := range fresh {
		g.addTool(et)
	}
	return nil
}

// DetachServer removes every tool of serverID from the gateway.
func (g *Gateway) DetachServer(serverID string) {
	removed := g.tools.Drop(serverID)
	if len(removed) == 0 {
		return
	}
	g.serverMu.Lock()
	g.server.RemoveTools(removed...)
	g.serverMu.Unlock()
	g.opts.Logger.Info("gateway detached server", "server", serverID, "tools", len(removed))
}

// addTool registers one exposed tool. AddTool panics on schemas it rejects;
// such tools are skipped.
func (g *Gateway) addTool(et exposedTool) {
	defer func() {
		if r := recover(); r != nil {
			g.opts.Logger.Warn("skipping upstream tool", "server", et.Route.Server, "tool", et.Route.Tool, "error", r)
		}
	}()
	g.server.AddTool(et.Tool, g.proxyTool(et.Route))
}

// proxyTool forwards a downstream call to the supervisor under a fresh call
// id, so it shows up in /calls and can be cancelled there.
func (g *Gateway) proxyTool(r route) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := &mcp.CallToolParams{Name: r.Tool}
		if req != nil && req.Params != nil {
			params.Meta = req.Params.Meta
			if len(req.Params.Arguments) > 0 {
				params.Arguments = req.Params.Arguments
			}
		}
		if g.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
			defer cancel()
		}
		callID := mcpmgr.NewCallID()
		res, err := g.backend.CallToolCancellable(ctx, r.Server, params, callID)
		if err != nil {
			g.opts.Logger.Debug("proxied tool call failed", "server", r.Server, "tool", r.Tool, "callId", callID, "error", err)
			return nil, err
		}
		return res, nil
	}
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	protect := func(h http.Handler) http.Handler { return h }
	if g.opts.TokenVerifier != nil {
		protect = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)
	}

	mux := http.NewServeMux()
	stream := protect(g.streamHandler)
	mux.Handle(path, stream)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", stream)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /status", protect(http.HandlerFunc(g.handleStatus)))
	mux.Handle("GET /calls", protect(http.HandlerFunc(g.handleCalls)))
	mux.Handle("POST /calls/{id}/cancel", protect(http.HandlerFunc(g.handleCancel)))
	g.mux = mux

	return cors.New(*g.opts.CORS).Handler(mux)
}

type statusResponse struct {
	Servers  map[string]mcpmgr.ServiceStatus `json:"servers"`
	InFlight int                             `json:"inFlight"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Servers:  g.backend.Statuses(),
		InFlight: len(g.backend.InFlight()),
	})
}

func (g *Gateway) handleCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"calls": g.backend.InFlight()})
}

func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := g.backend.Cancel(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, mcpmgr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
