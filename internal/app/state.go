// Package app wires the supervisor, the gateway and the auxiliary shared
// state of the desktop backend into a single explicitly constructed value.
package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/vikashloomba/mcp-supervisor-go/internal/config"
	mcpgateway "github.com/vikashloomba/mcp-supervisor-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

// ErrGatewayRunning is returned by StartGateway when a gateway is already
// serving.
var ErrGatewayRunning = errors.New("app: gateway already running")

// AppState owns every piece of process-wide state. Each field group has its
// own lock so unrelated subsystems never contend.
type AppState struct {
	logger     *slog.Logger
	supervisor *mcpmgr.Supervisor
	downloads  *DownloadManager

	settingsMu sync.RWMutex
	settings   config.Config

	providersMu sync.RWMutex
	providers   map[string]config.ProviderConfig

	servicesMu sync.RWMutex
	services   config.ServiceURLs

	tokenMu  sync.RWMutex
	appToken string

	gatewayMu sync.Mutex
	gateway   *gatewayHandle
}

type gatewayHandle struct {
	gw     *mcpgateway.Gateway
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New builds the supervisor and the auxiliary state from cfg.
func New(cfg config.Config, logger *slog.Logger) (*AppState, error) {
	if logger == nil {
		logger = slog.Default()
	}
	supervisor, err := mcpmgr.NewSupervisor(cfg.SupervisorOptions(logger))
	if err != nil {
		return nil, err
	}
	return &AppState{
		logger:     logger,
		supervisor: supervisor,
		downloads:  NewDownloadManager(nil, logger),
		settings:   cfg,
		providers:  cfg.ProviderMap(),
		services:   cfg.Services,
		appToken:   cfg.AppToken,
	}, nil
}

// Supervisor returns the MCP supervisor.
func (a *AppState) Supervisor() *mcpmgr.Supervisor { return a.supervisor }

// Downloads returns the download manager.
func (a *AppState) Downloads() *DownloadManager { return a.downloads }

// Settings returns the configuration the state was built or last updated
// from.
func (a *AppState) Settings() config.Config {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.settings
}

// StartConfiguredServers starts every enabled server from the settings.
func (a *AppState) StartConfiguredServers(ctx context.Context) error {
	servers, err := a.Settings().ServerConfigs()
	if err != nil {
		return err
	}
	return a.supervisor.StartAll(ctx, servers)
}

// Providers returns a copy of the provider configurations.
func (a *AppState) Providers() map[string]config.ProviderConfig {
	a.providersMu.RLock()
	defer a.providersMu.RUnlock()
	out := make(map[string]config.ProviderConfig, len(a.providers))
	for k, v := range a.providers {
		out[k] = v
	}
	return out
}

// Provider returns one provider configuration.
func (a *AppState) Provider(name string) (config.ProviderConfig, bool) {
	a.providersMu.RLock()
	defer a.providersMu.RUnlock()
	p, ok := a.providers[name]
	return p, ok
}

// SetProvider inserts or replaces a provider configuration.
func (a *AppState) SetProvider(p config.ProviderConfig) error {
	if p.Provider == "" {
		return errors.New("app: provider name is required")
	}
	a.providersMu.Lock()
	a.providers[p.Provider] = p
	a.providersMu.Unlock()
	return nil
}

// RemoveProvider deletes a provider configuration.
func (a *AppState) RemoveProvider(name string) {
	a.providersMu.Lock()
	delete(a.providers, name)
	a.providersMu.Unlock()
}

// ServiceURLs returns the backend service locations.
func (a *AppState) ServiceURLs() config.ServiceURLs {
	a.servicesMu.RLock()
	defer a.servicesMu.RUnlock()
	return a.services
}

// SetServiceURLs replaces the backend service locations.
func (a *AppState) SetServiceURLs(urls config.ServiceURLs) {
	a.servicesMu.Lock()
	a.services = urls
	a.servicesMu.Unlock()
}

// AppToken returns the bearer token guarding the gateway, if any.
func (a *AppState) AppToken() string {
	a.tokenMu.RLock()
	defer a.tokenMu.RUnlock()
	return a.appToken
}

// ApplyConfig takes the hot-reloadable parts of cfg: providers, service URLs
// and the app token. Server definitions and supervisor tuning need a restart.
func (a *AppState) ApplyConfig(cfg config.Config) {
	a.providersMu.Lock()
	a.providers = cfg.ProviderMap()
	a.providersMu.Unlock()

	a.SetServiceURLs(cfg.Services)

	a.tokenMu.Lock()
	a.appToken = cfg.AppToken
	a.tokenMu.Unlock()

	a.settingsMu.Lock()
	a.settings = cfg
	a.settingsMu.Unlock()
	a.logger.Info("applied config update", "providers", len(cfg.Providers))
}

// verifyToken checks a bearer token against the current app token, so a
// reloaded token takes effect without restarting the gateway.
func (a *AppState) verifyToken(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
	want := a.AppToken()
	if want == "" || subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		return nil, auth.ErrInvalidToken
	}
	return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
}

// StartGateway serves the supervisor's tools over HTTP until StopGateway or
// Shutdown. The gateway requires the app token when one is configured.
func (a *AppState) StartGateway(opts mcpgateway.Options) (*mcpgateway.Gateway, error) {
	a.gatewayMu.Lock()
	defer a.gatewayMu.Unlock()
	if a.gateway != nil {
		return nil, ErrGatewayRunning
	}
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	if a.AppToken() != "" && opts.TokenVerifier == nil {
		opts.TokenVerifier = a.verifyToken
	}
	gw, err := mcpgateway.NewGateway(a.supervisor, &opts)
	if err != nil {
		return nil, fmt.Errorf("app: gateway: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &gatewayHandle{gw: gw, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		if err := gw.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.err = err
			a.logger.Error("gateway stopped", "error", err)
		}
	}()
	a.gateway = h
	return gw, nil
}

// GatewayRunning reports whether StartGateway's server is still serving.
func (a *AppState) GatewayRunning() bool {
	a.gatewayMu.Lock()
	h := a.gateway
	a.gatewayMu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// StopGateway stops the gateway started by StartGateway and returns the error
// it stopped with, if any.
func (a *AppState) StopGateway(ctx context.Context) error {
	a.gatewayMu.Lock()
	h := a.gateway
	a.gateway = nil
	a.gatewayMu.Unlock()
	if h == nil {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the gateway, cancels downloads and shuts the supervisor
// down. It reports whether this call performed the supervisor teardown.
func (a *AppState) Shutdown(ctx context.Context) bool {
	if err := a.StopGateway(ctx); err != nil {
		a.logger.Warn("gateway shutdown", "error", err)
	}
	if err := a.downloads.CancelAll(ctx); err != nil {
		a.logger.Warn("download shutdown", "error", err)
	}
	return a.supervisor.Shutdown(ctx)
}
