package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	tools []*mcp.Tool
	call  func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	ping  func(ctx context.Context) error

	closes   atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) ListAllTools(context.Context) ([]*mcp.Tool, error) {
	return c.tools, nil
}

func (c *fakeConn) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if c.call != nil {
		return c.call(ctx, params)
	}
	return textResult(params.Name), nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if c.ping != nil {
		return c.ping(ctx)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.exit()
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) exit() {
	c.doneOnce.Do(func() { close(c.done) })
}

// blockingCall returns a call func that reports when it starts and blocks
// until its context ends.
func blockingCall(started chan<- string) func(context.Context, *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
		if started != nil {
			started <- params.Name
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() *SupervisorOptions {
	return &SupervisorOptions{
		Logger:          discardLogger(),
		MonitorInterval: 10 * time.Millisecond,
		PingTimeout:     50 * time.Millisecond,
		MaxPingFailures: 2,
		CleanupInterval: time.Hour,
		MaxCallLifetime: time.Hour,
		Dialer: DialerFunc(func(context.Context, string, ServerConfig) (*Dialed, error) {
			return nil, errors.New("no dialer in tests")
		}),
	}
}

func newTestSupervisor(t *testing.T, opts *SupervisorOptions) *Supervisor {
	t.Helper()
	if opts == nil {
		opts = testOptions()
	}
	s, err := NewSupervisor(opts)
	require.NoError(t, err)
	s.pids.kill = func(int) error { return nil }
	s.pids.alive = func(int) bool { return true }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}
