package mcpgateway

import (
	"fmt"
	"strings"
)

// NamespaceStrategy generates the downstream tool names for upstream MCP
// servers. Implementations must be deterministic and collision-free for a given
// serverID/name pair.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	// ParseToolName reverses ToolName.
	ParseToolName(gatewayName string) (serverID, toolName string, ok bool)
}

// ServerPrefixNamespace prefixes every tool with the originating server ID,
// separating fields with a configurable delimiter (defaults to "__" to stay
// within the MCP spec's character guidance).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return fmt.Sprintf("%s%s%s", serverID, s.separator(), toolName)
}

func (s ServerPrefixNamespace) ParseToolName(gatewayName string) (string, string, bool) {
	serverID, toolName, ok := strings.Cut(gatewayName, s.separator())
	if !ok || serverID == "" || toolName == "" {
		return "", "", false
	}
	return serverID, toolName, true
}
