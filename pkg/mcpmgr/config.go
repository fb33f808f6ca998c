package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests.
type HTTPAuthProvider func(context.Context) (string, error)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// ClientInfo, when set, is sent in the initialize handshake and the
	// resulting handle is an InitializedHandle. Otherwise the supervisor's
	// default identity is used and the handle is an UninitializedHandle.
	ClientInfo *mcp.Implementation
	// Timeout bounds connection establishment.
	Timeout    time.Duration
	LogJSONRPC bool
	RPCLogger  RPCLogger
}

// StdioServerConfig describes an MCP server launched as a child process that
// speaks over stdin/stdout.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over Streamable HTTP or
// SSE.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint     string
	HTTPClient   *http.Client
	Headers      http.Header
	AuthProvider HTTPAuthProvider
	MaxRetries   int
	// PreferSSE forces the SSE transport. When nil, endpoints ending in
	// "/sse" use SSE and everything else tries Streamable HTTP first.
	PreferSSE *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportOf returns the transport kind for a ServerConfig, or "" for nil or
// unknown implementations.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportHTTP
	default:
		return ""
	}
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Dialer connects configured servers for Start. Defaults to an SDKDialer
	// built from the client defaults below.
	Dialer Dialer

	// DefaultClientName is advertised when a server config has no
	// ClientInfo. When empty, the server name is used.
	DefaultClientName string
	// DefaultClientVersion is reported alongside DefaultClientName.
	DefaultClientVersion string
	// DefaultTimeout bounds connection establishment when a server config
	// omits one.
	DefaultTimeout time.Duration
	// DefaultLogJSONRPC prints JSON-RPC traffic for every server unless a
	// logger is configured.
	DefaultLogJSONRPC bool
	// RPCLogger receives JSON-RPC traffic for every server that does not set
	// its own.
	RPCLogger RPCLogger

	// MonitorInterval is the liveness check period of each monitor.
	MonitorInterval time.Duration
	// PingTimeout bounds a single liveness ping.
	PingTimeout time.Duration
	// MaxPingFailures is the number of consecutive failed pings tolerated
	// before a server is evicted.
	MaxPingFailures int
	// CleanupInterval is the period of the orphan sweep.
	CleanupInterval time.Duration
	// MaxCallLifetime is the age after which an in-flight call is cancelled
	// by the sweep.
	MaxCallLifetime time.Duration

	// MeterProvider supplies instruments. Defaults to the global provider.
	MeterProvider metric.MeterProvider
}

func (o *SupervisorOptions) withDefaults() SupervisorOptions {
	var opts SupervisorOptions
	if o != nil {
		opts = *o
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultClientVersion == "" {
		opts.DefaultClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 5 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	if opts.MaxPingFailures <= 0 {
		opts.MaxPingFailures = 3
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 30 * time.Second
	}
	if opts.MaxCallLifetime <= 0 {
		opts.MaxCallLifetime = 10 * time.Minute
	}
	return opts
}
