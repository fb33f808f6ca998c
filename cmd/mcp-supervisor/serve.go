package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vikashloomba/mcp-supervisor-go/internal/app"
	"github.com/vikashloomba/mcp-supervisor-go/internal/config"
	mcpgateway "github.com/vikashloomba/mcp-supervisor-go/pkg/mcp-gateway"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		addr            string
		shutdownTimeout time.Duration
		watch           bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start every configured server and serve their tools over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Gateway.Addr = addr
			}
			logger := slog.Default()

			state, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				state.Shutdown(shutdownCtx)
			}()

			if err := state.StartConfiguredServers(ctx); err != nil {
				logger.Warn("some servers failed to start", "error", err)
			}
			if _, err := state.StartGateway(gatewayOptions(cfg.Gateway)); err != nil {
				return err
			}

			if watch {
				w := config.NewWatcher(path, logger, state.ApplyConfig)
				if err := w.Start(); err != nil {
					logger.Warn("config hot reload disabled", "error", err)
				} else {
					defer w.Stop()
				}
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down", "reason", context.Cause(ctx))
			case <-state.Supervisor().Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway listen address (overrides gateway.addr)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "time allowed for graceful shutdown")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload providers, service URLs and the app token when the config file changes")
	return cmd
}

func gatewayOptions(cfg config.GatewayConfig) mcpgateway.Options {
	return mcpgateway.Options{
		Addr:           cfg.Addr,
		Path:           cfg.Path,
		CallTimeout:    cfg.CallTimeout,
		ResyncInterval: cfg.ResyncInterval,
	}
}
