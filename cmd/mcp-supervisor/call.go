package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

func newCallCmd(flags *rootFlags) *cobra.Command {
	var (
		rawArgs string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Start one server and invoke one of its tools",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, tool := args[0], args[1]
			arguments, err := parseArguments(rawArgs)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			s, err := startServers(ctx, flags, []string{server})
			if err != nil {
				return err
			}
			defer shutdownQuietly(s)

			res, err := s.CallToolCancellable(ctx, server, &mcp.CallToolParams{Name: tool, Arguments: arguments}, mcpmgr.NewCallID())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.IsError {
				return fmt.Errorf("tool %q reported an error", tool)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rawArgs, "args", "a", "{}", "tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall timeout including server startup")
	return cmd
}

func parseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	return args, nil
}
