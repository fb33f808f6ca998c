package mcpgateway

import (
	"maps"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Meta keys attached to every exposed tool so clients can trace it back to
// its origin.
const (
	metaServer     = "mcpgateway.server_id"
	metaNativeName = "mcpgateway.native_name"
)

// route maps an exposed tool name back to the server and tool it proxies.
type route struct {
	Exposed string
	Server  string
	Tool    string
}

type exposedTool struct {
	Tool  *mcp.Tool
	Route route
}

// toolIndex tracks which exposed names belong to which server.
type toolIndex struct {
	ns NamespaceStrategy

	mu       sync.RWMutex
	routes   map[string]route
	byServer map[string][]string
}

func newToolIndex(ns NamespaceStrategy) *toolIndex {
	return &toolIndex{
		ns:       ns,
		routes:   make(map[string]route),
		byServer: make(map[string][]string),
	}
}

// Replace swaps the tool set of server for upstream. It returns the exposed
// names that must be unregistered first and the tools to register after.
func (x *toolIndex) Replace(server string, upstream []*mcp.Tool) (stale []string, fresh []exposedTool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	stale = x.dropLocked(server)
	names := make([]string, 0, len(upstream))
	for _, t := range upstream {
		if t == nil {
			continue
		}
		r := route{Exposed: x.ns.ToolName(server, t.Name), Server: server, Tool: t.Name}
		x.routes[r.Exposed] = r
		names = append(names, r.Exposed)
		fresh = append(fresh, exposedTool{Tool: r.expose(t), Route: r})
	}
	x.byServer[server] = names
	return stale, fresh
}

// Drop forgets every tool of server and returns their exposed names.
func (x *toolIndex) Drop(server string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dropLocked(server)
}

// Servers returns the sorted servers that currently have an entry.
func (x *toolIndex) Servers() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Sorted(maps.Keys(x.byServer))
}

func (x *toolIndex) Route(exposed string) (route, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.routes[exposed]
	return r, ok
}

func (x *toolIndex) dropLocked(server string) []string {
	names, ok := x.byServer[server]
	if !ok {
		return nil
	}
	delete(x.byServer, server)
	for _, name := range names {
		delete(x.routes, name)
	}
	return names
}

// expose copies t under the exposed name. Servers may omit an input schema,
// which the MCP server side requires.
func (r route) expose(t *mcp.Tool) *mcp.Tool {
	out := *t
	out.Name = r.Exposed
	if out.InputSchema == nil {
		out.InputSchema = map[string]any{"type": "object"}
	}
	meta := maps.Clone(t.Meta)
	if meta == nil {
		meta = mcp.Meta{}
	}
	meta[metaServer] = r.Server
	meta[metaNativeName] = r.Tool
	out.Meta = meta
	return &out
}
