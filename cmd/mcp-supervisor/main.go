package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "mcp-supervisor",
		Short: "Run and supervise MCP servers",
		Long: `mcp-supervisor starts the MCP servers defined in its config file, keeps
them healthy, and exposes their tools through a single HTTP gateway.`,
		// SilenceUsage prevents printing usage on runtime errors
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default is $HOME/.config/mcp-supervisor/config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")

	cmd.Version = version
	cmd.SetVersionTemplate(fmt.Sprintf("mcp-supervisor version %s\n", version))

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newToolsCmd(flags))
	cmd.AddCommand(newCallCmd(flags))
	cmd.AddCommand(newVersionCmd())
	return cmd
}
