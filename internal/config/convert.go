package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

// SupervisorOptions maps the supervisor section onto mcpmgr options.
func (c Config) SupervisorOptions(logger *slog.Logger) *mcpmgr.SupervisorOptions {
	s := c.Supervisor
	return &mcpmgr.SupervisorOptions{
		Logger:               logger,
		DefaultClientName:    s.ClientName,
		DefaultClientVersion: s.ClientVersion,
		DefaultTimeout:       s.ConnectTimeout,
		DefaultLogJSONRPC:    s.LogJSONRPC,
		MonitorInterval:      s.MonitorInterval,
		PingTimeout:          s.PingTimeout,
		MaxPingFailures:      s.MaxPingFailures,
		CleanupInterval:      s.CleanupInterval,
		MaxCallLifetime:      s.MaxCallLifetime,
	}
}

// ServerConfigs converts every enabled server definition.
func (c Config) ServerConfigs() (map[string]mcpmgr.ServerConfig, error) {
	out := make(map[string]mcpmgr.ServerConfig, len(c.Servers))
	for name, def := range c.Servers {
		if def.Disabled {
			continue
		}
		cfg, err := def.ServerConfig()
		if err != nil {
			return nil, fmt.Errorf("servers.%s: %w", name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

// ServerNames lists the enabled servers in a stable order.
func (c Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name, def := range c.Servers {
		if !def.Disabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServerConfig converts a definition into the transport-specific mcpmgr
// configuration.
func (d ServerDefinition) ServerConfig() (mcpmgr.ServerConfig, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	base := mcpmgr.BaseServerConfig{
		Timeout:    d.Timeout,
		LogJSONRPC: d.LogJSONRPC,
	}
	if d.ClientName != "" {
		base.ClientInfo = &mcp.Implementation{Name: d.ClientName, Version: d.ClientVersion}
	}
	switch d.Type {
	case ServerTypeHTTP:
		cfg := &mcpmgr.HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         d.URL,
			PreferSSE:        d.PreferSSE,
		}
		if len(d.Headers) > 0 {
			cfg.Headers = make(http.Header, len(d.Headers))
			for k, v := range d.Headers {
				cfg.Headers.Set(k, v)
			}
		}
		return cfg, nil
	default:
		return &mcpmgr.StdioServerConfig{
			BaseServerConfig: base,
			Command:          d.Command,
			Args:             append([]string(nil), d.Args...),
			Env:              d.Env,
			Dir:              d.Dir,
		}, nil
	}
}
