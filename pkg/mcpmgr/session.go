package mcpmgr

import (
	"context"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// sessionConnection adapts a go-sdk client session to Connection.
type sessionConnection struct {
	session *mcp.ClientSession

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// NewSessionConnection wraps an established go-sdk client session. The
// returned connection reports transport exit through Done.
func NewSessionConnection(session *mcp.ClientSession) Connection {
	c := &sessionConnection{session: session, done: make(chan struct{})}
	go func() {
		c.waitErr = session.Wait()
		close(c.done)
	}()
	return c
}

func (c *sessionConnection) ListAllTools(ctx context.Context) ([]*mcp.Tool, error) {
	var (
		all    []*mcp.Tool
		cursor string
	)
	for {
		res, err := c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err) {
				return []*mcp.Tool{}, nil
			}
			return nil, err
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

func (c *sessionConnection) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, params)
}

func (c *sessionConnection) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}

func (c *sessionConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *sessionConnection) Done() <-chan struct{} { return c.done }

// Err returns the error the session ended with, once Done is closed.
func (c *sessionConnection) Err() error {
	select {
	case <-c.done:
		return c.waitErr
	default:
		return nil
	}
}

func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")
}
