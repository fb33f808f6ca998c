package mcpmgr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stdioServerEnv = "MCPMGR_TEST_STDIO_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(stdioServerEnv) == "1" {
		if err := newSearchServer().Run(context.Background(), &mcp.StdioTransport{}); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestBuildStdioCommand(t *testing.T) {
	t.Parallel()

	cfg := &StdioServerConfig{
		Command: "npx",
		Args:    []string{"@modelcontextprotocol/server-everything"},
		Env:     map[string]string{"MCP_SERVER_MODE": "stdio"},
		Dir:     os.TempDir(),
	}
	cmd, err := buildStdioCommand("everything", cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"npx", "@modelcontextprotocol/server-everything"}, cmd.Args)
	assert.True(t, slices.Contains(cmd.Env, "MCP_SERVER_MODE=stdio"))
	assert.Equal(t, os.TempDir(), cmd.Dir)

	_, err = buildStdioCommand("everything", &StdioServerConfig{})
	require.Error(t, err)
}

func TestDecorateHTTPClientAddsHeadersAndAuth(t *testing.T) {
	t.Parallel()

	headers := http.Header{"X-MCP-Source": []string{"supervisor-tests"}}
	providerCalled := false
	provider := func(context.Context) (string, error) {
		providerCalled = true
		return "Bearer example-token", nil
	}
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "supervisor-tests", req.Header.Get("X-MCP-Source"))
		assert.Equal(t, "Bearer example-token", req.Header.Get("Authorization"))
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	decorated := decorateHTTPClient(&http.Client{Transport: rt}, headers, provider)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://127.0.0.1:8000/mcp", nil)
	require.NoError(t, err)
	resp, err := decorated.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.True(t, providerCalled)

	base := &http.Client{}
	assert.Same(t, base, decorateHTTPClient(base, nil, nil))
}

func TestShouldPreferSSE(t *testing.T) {
	t.Parallel()

	assert.False(t, shouldPreferSSE(&HTTPServerConfig{Endpoint: "http://127.0.0.1:8000/mcp"}))
	assert.True(t, shouldPreferSSE(&HTTPServerConfig{Endpoint: "http://127.0.0.1:8000/sse"}))
	override := true
	assert.True(t, shouldPreferSSE(&HTTPServerConfig{Endpoint: "http://127.0.0.1:8000/mcp", PreferSSE: &override}))
}

func TestSDKDialerHTTPChoosesHandleVariant(t *testing.T) {
	t.Parallel()

	server := newSearchServer()
	ts := httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil))
	t.Cleanup(ts.Close)

	var (
		mu     sync.Mutex
		events []RPCLogEvent
	)
	d := &SDKDialer{ClientVersion: "1.0.0", Timeout: 10 * time.Second, Logger: discardLogger()}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	plain, err := d.Dial(ctx, "search", &HTTPServerConfig{Endpoint: ts.URL, HTTPClient: ts.Client()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeHandle(plain.Handle) })
	assert.Equal(t, HandshakeUninitialized, HandshakeOf(plain.Handle))
	assert.Zero(t, plain.PID)

	custom, err := d.Dial(ctx, "search", &HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{
			ClientInfo: &mcp.Implementation{Name: "desk"},
			RPCLogger: func(e RPCLogEvent) {
				mu.Lock()
				events = append(events, e)
				mu.Unlock()
			},
		},
		Endpoint:   ts.URL,
		HTTPClient: ts.Client(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeHandle(custom.Handle) })
	initialized, ok := custom.Handle.(*InitializedHandle)
	require.True(t, ok)
	assert.Equal(t, "desk", initialized.ClientInfo().Name)
	assert.Equal(t, "1.0.0", initialized.ClientInfo().Version)

	tools, err := listAllTools(ctx, custom.Handle)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	directions := make(map[RPCDirection]bool)
	for _, e := range events {
		assert.Equal(t, "search", e.ServerID)
		directions[e.Direction] = true
	}
	assert.True(t, directions[RPCDirectionSend])
	assert.True(t, directions[RPCDirectionReceive])
}

func TestSDKDialerMissingEndpoint(t *testing.T) {
	t.Parallel()

	d := &SDKDialer{}
	_, err := d.Dial(context.Background(), "search", &HTTPServerConfig{})
	require.Error(t, err)
	_, ok := AsServiceError(err)
	assert.True(t, ok)

	_, err = d.Dial(context.Background(), "search", nil)
	require.Error(t, err)
}

func TestSupervisorStartsStdioServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stdio process test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("process liveness is not observable on windows")
	}
	t.Parallel()

	opts := testOptions()
	opts.Dialer = nil
	opts.DefaultClientName = "supervisor-tests"
	s, err := NewSupervisor(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	defer s.Shutdown(ctx)

	err = s.Start(ctx, "search", &StdioServerConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     map[string]string{stdioServerEnv: "1"},
	})
	require.NoError(t, err)

	pid, ok := s.PID("search")
	require.True(t, ok)
	assert.True(t, processAlive(pid))

	res, err := s.CallTool(ctx, "search", &mcp.CallToolParams{Name: "search", Arguments: map[string]any{"query": "stdio"}})
	require.NoError(t, err)
	assert.Equal(t, "results for stdio", resultText(t, res))

	require.True(t, s.Shutdown(ctx))
	require.Eventually(t, func() bool { return !processAlive(pid) }, 10*time.Second, 20*time.Millisecond)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
