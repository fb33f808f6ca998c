// Command manager-example embeds a Supervisor directly: it starts one stdio
// server, lists its tools, calls one with a cancellable id and shuts down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	supervisor, err := mcpmgr.NewSupervisor(&mcpmgr.SupervisorOptions{
		Logger:            logger,
		DefaultClientName: "manager-example",
	})
	if err != nil {
		logger.Error("create supervisor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer supervisor.Shutdown(ctx)

	err = supervisor.Start(ctx, "everything", &mcpmgr.StdioServerConfig{
		BaseServerConfig: mcpmgr.BaseServerConfig{Timeout: 10 * time.Second},
		Command:          "npx",
		Args:             []string{"-y", "@modelcontextprotocol/server-everything"},
	})
	if err != nil {
		logger.Error("start server", "error", err)
		return
	}

	tools, err := supervisor.ListTools(ctx, "everything")
	if err != nil {
		logger.Error("list tools", "error", err)
		return
	}
	for _, tool := range tools {
		fmt.Printf("tool: %s\n", tool.Name)
	}
	if status, ok := supervisor.Status("everything"); ok {
		fmt.Printf("status: %s (pid %d)\n", status.State, status.PID)
	}

	callID := mcpmgr.NewCallID()
	res, err := supervisor.CallToolCancellable(ctx, "everything", &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "hello"},
	}, callID)
	switch {
	case errors.Is(err, mcpmgr.ErrCancelled):
		fmt.Printf("call %s cancelled\n", callID)
	case err != nil:
		logger.Error("call tool", "error", err)
	default:
		for _, c := range res.Content {
			if text, ok := c.(*mcp.TextContent); ok {
				fmt.Println(text.Text)
			}
		}
	}
}
