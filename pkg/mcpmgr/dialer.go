package mcpmgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Dialed is the outcome of connecting a configured server.
type Dialed struct {
	Handle ServiceHandle
	// PID is the child process backing the connection, or zero for remote
	// servers.
	PID int
}

// Dialer opens connections for configured servers.
type Dialer interface {
	Dial(ctx context.Context, name string, cfg ServerConfig) (*Dialed, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, name string, cfg ServerConfig) (*Dialed, error)

func (f DialerFunc) Dial(ctx context.Context, name string, cfg ServerConfig) (*Dialed, error) {
	return f(ctx, name, cfg)
}

// SDKDialer connects servers with the official go-sdk client, spawning child
// processes for stdio servers and negotiating Streamable HTTP or SSE for
// remote ones.
type SDKDialer struct {
	ClientName    string
	ClientVersion string
	Timeout       time.Duration
	LogJSONRPC    bool
	RPCLogger     RPCLogger
	Logger        *slog.Logger
}

func newSDKDialer(opts SupervisorOptions) *SDKDialer {
	return &SDKDialer{
		ClientName:    opts.DefaultClientName,
		ClientVersion: opts.DefaultClientVersion,
		Timeout:       opts.DefaultTimeout,
		LogJSONRPC:    opts.DefaultLogJSONRPC,
		RPCLogger:     opts.RPCLogger,
		Logger:        opts.Logger,
	}
}

type connectAttempt func(context.Context, mcp.Transport) (*mcp.ClientSession, error)

// Dial connects cfg and wraps the session in the handle variant implied by
// cfg.ClientInfo.
func (d *SDKDialer) Dial(ctx context.Context, name string, cfg ServerConfig) (*Dialed, error) {
	if cfg == nil || cfg.base() == nil {
		return nil, fmt.Errorf("mcpmgr: missing config for %q", name)
	}
	base := cfg.base()
	impl := d.implementation(name, base)
	rpcLogger := d.resolveLogger(base)

	attempt := func(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, error) {
		client := mcp.NewClient(impl, nil)
		wrapped := transport
		if rpcLogger != nil {
			wrapped = &tapTransport{Transport: transport, server: name, sink: rpcLogger}
		}
		return client.Connect(ctx, wrapped, nil)
	}

	timeout := base.Timeout
	if timeout <= 0 {
		timeout = d.Timeout
	}
	connectCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		session *mcp.ClientSession
		pid     int
		err     error
	)
	switch c := cfg.(type) {
	case *StdioServerConfig:
		session, pid, err = d.dialStdio(connectCtx, name, c, attempt)
	case *HTTPServerConfig:
		session, err = d.dialHTTP(connectCtx, name, c, attempt)
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported config %T for %q", cfg, name)
	}
	if err != nil {
		return nil, &ServiceError{Server: name, Err: err}
	}

	conn := NewSessionConnection(session)
	var handle ServiceHandle
	if base.ClientInfo != nil {
		handle = NewInitializedHandle(conn, *impl)
	} else {
		handle = NewUninitializedHandle(conn)
	}
	return &Dialed{Handle: handle, PID: pid}, nil
}

func (d *SDKDialer) dialStdio(ctx context.Context, name string, cfg *StdioServerConfig, attempt connectAttempt) (*mcp.ClientSession, int, error) {
	cmd, err := buildStdioCommand(name, cfg)
	if err != nil {
		return nil, 0, err
	}
	session, err := attempt(ctx, &mcp.CommandTransport{Command: cmd})
	if err != nil {
		return nil, 0, err
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	return session, pid, nil
}

func buildStdioCommand(name string, cfg *StdioServerConfig) (*exec.Cmd, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	isolateProcessGroup(cmd)
	return cmd, nil
}

func (d *SDKDialer) dialHTTP(ctx context.Context, name string, cfg *HTTPServerConfig, attempt connectAttempt) (*mcp.ClientSession, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mcpmgr: endpoint missing for %q", name)
	}
	client := decorateHTTPClient(cfg.HTTPClient, cfg.Headers, cfg.AuthProvider)

	var streamErr error
	if !shouldPreferSSE(cfg) {
		session, err := attempt(ctx, &mcp.StreamableClientTransport{
			Endpoint:   cfg.Endpoint,
			HTTPClient: client,
			MaxRetries: cfg.MaxRetries,
		})
		if err == nil {
			return session, nil
		}
		streamErr = err
		d.logger().Debug("streamable http connect failed, falling back to sse", "server", name, "error", err)
	}
	session, err := attempt(ctx, &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: client})
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	return session, nil
}

func (d *SDKDialer) implementation(name string, base *BaseServerConfig) *mcp.Implementation {
	if base.ClientInfo != nil {
		info := *base.ClientInfo
		if info.Version == "" {
			info.Version = d.ClientVersion
		}
		return &info
	}
	clientName := d.ClientName
	if clientName == "" {
		clientName = name
	}
	return &mcp.Implementation{Name: clientName, Version: d.ClientVersion}
}

func (d *SDKDialer) resolveLogger(base *BaseServerConfig) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if d.RPCLogger != nil {
		return d.RPCLogger
	}
	if base.LogJSONRPC || d.LogJSONRPC {
		return slogRPCLogger(d.logger())
	}
	return nil
}

func (d *SDKDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
