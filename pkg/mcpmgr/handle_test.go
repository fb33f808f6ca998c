package mcpmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceHandleVariants(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	plain := NewUninitializedHandle(conn)
	custom := NewInitializedHandle(conn, mcp.Implementation{Name: "desk", Version: "2.0.0"})

	assert.Equal(t, HandshakeUninitialized, HandshakeOf(plain))
	assert.Equal(t, HandshakeInitialized, HandshakeOf(custom))
	assert.Equal(t, HandshakeState(""), HandshakeOf(nil))

	initialized, ok := custom.(*InitializedHandle)
	require.True(t, ok)
	assert.Equal(t, "desk", initialized.ClientInfo().Name)

	for _, h := range []ServiceHandle{plain, custom} {
		res, err := callTool(context.Background(), h, &mcp.CallToolParams{Name: "search"})
		require.NoError(t, err)
		assert.Equal(t, "search", resultText(t, res))
		require.NoError(t, pingHandle(context.Background(), h))
		assert.NotNil(t, exitChan(h))
	}
}

func TestServiceHandleWithoutConnection(t *testing.T) {
	t.Parallel()

	var empty UninitializedHandle
	_, err := listAllTools(context.Background(), &empty)
	require.Error(t, err)
	assert.Nil(t, exitChan(&empty))
}

type panickyConn struct{ fakeConn }

func (*panickyConn) Close() error { panic("close exploded") }

func TestCloseQuietlyRecoversPanics(t *testing.T) {
	t.Parallel()

	err := closeQuietly(NewUninitializedHandle(&panickyConn{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close exploded")

	conn := newFakeConn()
	require.NoError(t, closeQuietly(NewUninitializedHandle(conn)))
	assert.EqualValues(t, 1, conn.closes.Load())
}

func TestServiceErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("broken pipe")
	err := error(&ServiceError{Server: "search", Err: cause})
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"search"`)

	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, "search", se.Server)
	_, ok = AsServiceError(cause)
	assert.False(t, ok)
}
