// Package mcpgateway exposes an HTTP-facing aggregation layer that mirrors the
// tools of every server running under an mcpmgr.Supervisor over a single
// Streamable MCP server. Downstream clients connect to one host and call any
// upstream tool by its namespaced name; each call is registered with the
// supervisor's cancellation registry so it can be cancelled by ID.
package mcpgateway
