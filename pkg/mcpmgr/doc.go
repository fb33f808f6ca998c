// Package mcpmgr supervises a dynamic set of long-lived Model Context Protocol
// (MCP) server connections from a single Go process. It tracks which servers
// are running and how their handshake was performed, dispatches tool calls by
// server name, lets in-flight calls be cancelled by ID, evicts servers that
// stop responding, and tears everything down exactly once.
//
// # Core entry points
//
//   - Supervisor is the long-lived orchestration type. Construct it with
//     NewSupervisor, then Register already connected handles or Start servers
//     from a ServerConfig through a Dialer.
//   - ServiceHandle is a closed set of variants (UninitializedHandle and
//     InitializedHandle) around a Connection. NewSessionConnection adapts a
//     go-sdk client session.
//   - CallToolCancellable pairs a tool call with a call ID; Cancel with the
//     same ID stops the caller waiting and reports ErrCancelled.
//   - Shutdown stops every monitor, fires outstanding cancellations, closes
//     every connection and terminates child processes. Only the first call
//     does any work.
//
// Each server is watched by its own monitor goroutine. A server is evicted
// when its transport closes, its process exits, or it misses MaxPingFailures
// consecutive pings. A single cleanup job sweeps stale calls and entries that
// outlived their server.
//
// Errors are reported through the sentinels ErrNotFound, ErrAlreadyRunning,
// ErrCancelled and ErrShutdownInProgress, and through *ServiceError for
// failures reported by a server connection.
package mcpmgr
