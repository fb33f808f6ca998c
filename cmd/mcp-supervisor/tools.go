package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

func newToolsCmd(flags *rootFlags) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "tools [server...]",
		Short: "Start the given servers (default: all) and list their tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			s, err := startServers(ctx, flags, args)
			if err != nil {
				return err
			}
			defer shutdownQuietly(s)

			listing := make(map[string][]*mcp.Tool)
			for _, name := range s.Names() {
				tools, err := s.ListTools(ctx, name)
				if err != nil {
					return err
				}
				listing[name] = tools
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}
			return printTools(cmd.OutOrStdout(), listing)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// startServers builds a supervisor from the config and starts the named
// servers, or every enabled server when names is empty.
func startServers(ctx context.Context, flags *rootFlags, names []string) (*mcpmgr.Supervisor, error) {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	all, err := cfg.ServerConfigs()
	if err != nil {
		return nil, err
	}
	selected, err := selectServers(all, names)
	if err != nil {
		return nil, err
	}
	s, err := mcpmgr.NewSupervisor(cfg.SupervisorOptions(slog.Default()))
	if err != nil {
		return nil, err
	}
	if err := s.StartAll(ctx, selected); err != nil {
		shutdownQuietly(s)
		return nil, err
	}
	return s, nil
}

func selectServers(all map[string]mcpmgr.ServerConfig, names []string) (map[string]mcpmgr.ServerConfig, error) {
	if len(names) == 0 {
		return all, nil
	}
	out := make(map[string]mcpmgr.ServerConfig, len(names))
	for _, name := range names {
		cfg, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("server %q: %w", name, mcpmgr.ErrNotFound)
		}
		out[name] = cfg
	}
	return out, nil
}

func shutdownQuietly(s *mcpmgr.Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown(ctx)
}

func printTools(w io.Writer, listing map[string][]*mcp.Tool) error {
	servers := make([]string, 0, len(listing))
	for name := range listing {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tTOOL\tDESCRIPTION")
	for _, server := range servers {
		for _, tool := range listing[server] {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", server, tool.Name, firstLine(tool.Description))
		}
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
