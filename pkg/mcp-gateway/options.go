package mcpgateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path optionally mounts the Streamable handler under a specific HTTP path.
	// Defaults to "/mcp".
	Path string
	// Namespace customizes how upstream tool names are exposed to downstream
	// clients. Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// SyncTimeout bounds how long a synchronization of one server may take.
	SyncTimeout time.Duration
	// ResyncInterval is how often ListenAndServe refreshes the tool index so
	// servers started or evicted later are picked up. Defaults to 10s.
	ResyncInterval time.Duration
	// CallTimeout bounds every proxied tool call. Zero leaves calls bounded
	// only by the downstream request.
	CallTimeout time.Duration

	// TokenVerifier, when set, protects the MCP endpoint and the call routes
	// with bearer authentication.
	TokenVerifier auth.TokenVerifier
	// TokenOptions tune bearer authentication. Requires TokenVerifier.
	TokenOptions *auth.RequireBearerTokenOptions
	// CORS configures cross-origin access. Defaults allow any origin and
	// expose the MCP session header.
	CORS *cors.Options
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcpgateway",
			Title:   "MCP Gateway",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = 10 * time.Second
	}
	if opts.CORS == nil {
		opts.CORS = &cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id"},
		}
	}
	return opts
}
