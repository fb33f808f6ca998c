// Package config loads and persists the supervisor's YAML configuration:
// supervisor tuning, MCP server definitions, remote model providers and the
// backend service URLs.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcp-supervisor"
	configFileName = "config.yaml"
)

// Server transport types accepted in ServerDefinition.Type.
const (
	ServerTypeStdio = "stdio"
	ServerTypeHTTP  = "http"
)

// Config is the root of config.yaml.
type Config struct {
	Supervisor SupervisorConfig            `yaml:"supervisor"`
	Gateway    GatewayConfig               `yaml:"gateway"`
	Servers    map[string]ServerDefinition `yaml:"servers,omitempty"`
	Providers  []ProviderConfig            `yaml:"providers,omitempty"`
	Services   ServiceURLs                 `yaml:"services"`
	// AppToken protects the gateway with bearer authentication when set.
	AppToken string `yaml:"appToken,omitempty"`
}

// SupervisorConfig tunes monitoring and cleanup.
type SupervisorConfig struct {
	ClientName      string        `yaml:"clientName,omitempty"`
	ClientVersion   string        `yaml:"clientVersion,omitempty"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	PingTimeout     time.Duration `yaml:"pingTimeout"`
	MaxPingFailures int           `yaml:"maxPingFailures"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	MaxCallLifetime time.Duration `yaml:"maxCallLifetime"`
	LogJSONRPC      bool          `yaml:"logJsonRpc,omitempty"`
}

// GatewayConfig configures the HTTP gateway started by serve.
type GatewayConfig struct {
	Addr           string        `yaml:"addr"`
	Path           string        `yaml:"path"`
	CallTimeout    time.Duration `yaml:"callTimeout,omitempty"`
	ResyncInterval time.Duration `yaml:"resyncInterval,omitempty"`
}

// ServerDefinition describes one MCP server.
type ServerDefinition struct {
	Type     string            `yaml:"type"`
	Disabled bool              `yaml:"disabled,omitempty"`
	Command  string            `yaml:"command,omitempty"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Dir      string            `yaml:"dir,omitempty"`
	URL      string            `yaml:"url,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	// PreferSSE forces the SSE transport for http servers.
	PreferSSE *bool         `yaml:"preferSse,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	// ClientName, when set, is sent as the client identity in the
	// initialize handshake.
	ClientName    string `yaml:"clientName,omitempty"`
	ClientVersion string `yaml:"clientVersion,omitempty"`
	LogJSONRPC    bool   `yaml:"logJsonRpc,omitempty"`
}

// ProviderConfig describes a remote model provider.
type ProviderConfig struct {
	Provider      string           `yaml:"provider" json:"provider"`
	APIKey        string           `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	BaseURL       string           `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	CustomHeaders []ProviderHeader `yaml:"customHeaders,omitempty" json:"customHeaders,omitempty"`
	Models        []string         `yaml:"models,omitempty" json:"models,omitempty"`
}

// ProviderHeader is an extra header sent to a provider.
type ProviderHeader struct {
	Header string `yaml:"header" json:"header"`
	Value  string `yaml:"value" json:"value"`
}

// ServiceURLs locates the backend services.
type ServiceURLs struct {
	API       string `yaml:"api" json:"api"`
	Retrieval string `yaml:"retrieval" json:"retrieval"`
	Agents    string `yaml:"agents" json:"agents"`
	AkiDB     string `yaml:"akidb" json:"akidb"`
}

// DefaultServiceURLs points every service at its local port.
func DefaultServiceURLs() ServiceURLs {
	return ServiceURLs{
		API:       "http://127.0.0.1:8000",
		Retrieval: "http://127.0.0.1:8001",
		Agents:    "http://127.0.0.1:8002",
		AkiDB:     "http://127.0.0.1:8003",
	}
}

// Default returns a configuration with every default applied and no servers.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// DefaultPath returns ~/.config/mcp-supervisor/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(home, userConfigDir, configFileName), nil
}

func (c *Config) applyDefaults() {
	s := &c.Supervisor
	if s.ClientVersion == "" {
		s.ClientVersion = "1.0.0"
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 30 * time.Second
	}
	if s.MonitorInterval <= 0 {
		s.MonitorInterval = 5 * time.Second
	}
	if s.PingTimeout <= 0 {
		s.PingTimeout = 3 * time.Second
	}
	if s.MaxPingFailures <= 0 {
		s.MaxPingFailures = 3
	}
	if s.CleanupInterval <= 0 {
		s.CleanupInterval = 30 * time.Second
	}
	if s.MaxCallLifetime <= 0 {
		s.MaxCallLifetime = 10 * time.Minute
	}

	if c.Gateway.Addr == "" {
		c.Gateway.Addr = "127.0.0.1:8700"
	}
	if c.Gateway.Path == "" {
		c.Gateway.Path = "/mcp"
	}

	defaults := DefaultServiceURLs()
	if c.Services.API == "" {
		c.Services.API = defaults.API
	}
	if c.Services.Retrieval == "" {
		c.Services.Retrieval = defaults.Retrieval
	}
	if c.Services.Agents == "" {
		c.Services.Agents = defaults.Agents
	}
	if c.Services.AkiDB == "" {
		c.Services.AkiDB = defaults.AkiDB
	}

	for name, def := range c.Servers {
		if def.Type == "" {
			if def.URL != "" {
				def.Type = ServerTypeHTTP
			} else {
				def.Type = ServerTypeStdio
			}
			c.Servers[name] = def
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var errs []error
	for name, def := range c.Servers {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("servers: empty server name"))
			continue
		}
		if err := def.validate(); err != nil {
			errs = append(errs, fmt.Errorf("servers.%s: %w", name, err))
		}
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		switch {
		case p.Provider == "":
			errs = append(errs, fmt.Errorf("providers[%d]: provider is required", i))
		case seen[p.Provider]:
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate provider %q", i, p.Provider))
		}
		seen[p.Provider] = true
		if p.BaseURL != "" {
			if err := validateURL(p.BaseURL); err != nil {
				errs = append(errs, fmt.Errorf("providers[%d].baseUrl: %w", i, err))
			}
		}
		for j, h := range p.CustomHeaders {
			if h.Header == "" {
				errs = append(errs, fmt.Errorf("providers[%d].customHeaders[%d]: header is required", i, j))
			}
		}
	}
	for field, raw := range map[string]string{
		"services.api":       c.Services.API,
		"services.retrieval": c.Services.Retrieval,
		"services.agents":    c.Services.Agents,
		"services.akidb":     c.Services.AkiDB,
	} {
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	if c.Gateway.Path != "" && !strings.HasPrefix(c.Gateway.Path, "/") {
		errs = append(errs, fmt.Errorf("gateway.path: must start with /"))
	}
	return errors.Join(errs...)
}

func (d ServerDefinition) validate() error {
	switch d.Type {
	case ServerTypeStdio:
		if d.Command == "" {
			return errors.New("command is required for stdio servers")
		}
	case ServerTypeHTTP:
		if d.URL == "" {
			return errors.New("url is required for http servers")
		}
		if err := validateURL(d.URL); err != nil {
			return fmt.Errorf("url: %w", err)
		}
	default:
		return fmt.Errorf("unknown type %q", d.Type)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// Load reads path, applies defaults and validates the result. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path through a temporary file so readers never observe
// a partial file.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("error creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error writing temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error setting config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("error replacing config %s: %w", path, err)
	}
	return nil
}

// ProviderMap indexes providers by name.
func (c Config) ProviderMap() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, len(c.Providers))
	for _, p := range c.Providers {
		out[p.Provider] = p
	}
	return out
}
