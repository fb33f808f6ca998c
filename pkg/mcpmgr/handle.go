package mcpmgr

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Connection is the live link to one MCP server. Implementations behave the
// same whether or not a client handshake was customised.
type Connection interface {
	// ListAllTools returns every tool the server advertises, following
	// pagination cursors until exhausted.
	ListAllTools(ctx context.Context) ([]*mcp.Tool, error)
	// CallTool invokes a tool and returns the raw result.
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	// Ping checks the server is still responsive.
	Ping(ctx context.Context) error
	// Close tears the connection down, terminating any owned process.
	Close() error
}

// exitNotifier is implemented by connections that can report transport exit
// without being polled.
type exitNotifier interface {
	Done() <-chan struct{}
}

// HandshakeState identifies the ServiceHandle variant.
type HandshakeState string

const (
	HandshakeUninitialized HandshakeState = "uninitialized"
	HandshakeInitialized   HandshakeState = "initialized"
)

// ServiceHandle is a closed set of variants wrapping a Connection. The variant
// is fixed at construction; a server that needs a different handshake is
// re-registered with a new handle rather than mutated.
type ServiceHandle interface {
	isServiceHandle()
}

// UninitializedHandle wraps a connection that was opened with the default
// client identity and no caller-provided initialize parameters.
type UninitializedHandle struct {
	conn Connection
}

// InitializedHandle wraps a connection whose initialize handshake was sent
// with explicit client information.
type InitializedHandle struct {
	conn       Connection
	clientInfo mcp.Implementation
}

func (*UninitializedHandle) isServiceHandle() {}
func (*InitializedHandle) isServiceHandle()   {}

// NewUninitializedHandle wraps conn in the Uninitialized variant.
func NewUninitializedHandle(conn Connection) ServiceHandle {
	return &UninitializedHandle{conn: conn}
}

// NewInitializedHandle wraps conn in the Initialized variant, recording the
// client information used for the handshake.
func NewInitializedHandle(conn Connection, info mcp.Implementation) ServiceHandle {
	return &InitializedHandle{conn: conn, clientInfo: info}
}

// ClientInfo returns the implementation details sent during initialization.
func (h *InitializedHandle) ClientInfo() mcp.Implementation { return h.clientInfo }

// HandshakeOf reports the variant of h.
func HandshakeOf(h ServiceHandle) HandshakeState {
	switch h.(type) {
	case *InitializedHandle:
		return HandshakeInitialized
	case *UninitializedHandle:
		return HandshakeUninitialized
	default:
		return ""
	}
}

// connectionOf resolves the variant once and returns the wrapped connection.
func connectionOf(h ServiceHandle) (Connection, error) {
	switch v := h.(type) {
	case *UninitializedHandle:
		if v.conn != nil {
			return v.conn, nil
		}
	case *InitializedHandle:
		if v.conn != nil {
			return v.conn, nil
		}
	}
	return nil, fmt.Errorf("mcpmgr: invalid service handle %T", h)
}

func listAllTools(ctx context.Context, h ServiceHandle) ([]*mcp.Tool, error) {
	conn, err := connectionOf(h)
	if err != nil {
		return nil, err
	}
	return conn.ListAllTools(ctx)
}

func callTool(ctx context.Context, h ServiceHandle, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	conn, err := connectionOf(h)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, params)
}

func pingHandle(ctx context.Context, h ServiceHandle) error {
	conn, err := connectionOf(h)
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

func closeHandle(h ServiceHandle) error {
	conn, err := connectionOf(h)
	if err != nil {
		return err
	}
	return conn.Close()
}

// closeQuietly closes h, converting a panic in the connection's Close into an
// error.
func closeQuietly(h ServiceHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mcpmgr: close panicked: %v", r)
		}
	}()
	return closeHandle(h)
}

// exitChan returns the connection's exit channel, or nil when the connection
// cannot report exit on its own.
func exitChan(h ServiceHandle) <-chan struct{} {
	conn, err := connectionOf(h)
	if err != nil {
		return nil
	}
	if n, ok := conn.(exitNotifier); ok {
		return n.Done()
	}
	return nil
}
