package mcpmgr

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// ServiceState is the coarse lifecycle state reported for a server.
type ServiceState string

const (
	StateStarting  ServiceState = "starting"
	StateRunning   ServiceState = "running"
	StateUnhealthy ServiceState = "unhealthy"
)

// ServiceStatus is the last-known status of a running server. Details carries
// arbitrary structured data contributed by callers.
type ServiceStatus struct {
	Name                string         `json:"name"`
	State               ServiceState   `json:"state"`
	Handshake           HandshakeState `json:"handshake"`
	PID                 int            `json:"pid,omitempty"`
	ConsecutiveFailures int            `json:"consecutiveFailures,omitempty"`
	LastError           string         `json:"lastError,omitempty"`
	LastChecked         time.Time      `json:"lastChecked"`
	Details             map[string]any `json:"details,omitempty"`
}

// StatusBoard is the active-service snapshot. It is refreshed by monitors and
// may lag the registry by one monitor tick.
type StatusBoard struct {
	mu      sync.RWMutex
	entries map[string]ServiceStatus
}

// NewStatusBoard returns an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{entries: make(map[string]ServiceStatus)}
}

// Set replaces the status stored for status.Name.
func (b *StatusBoard) Set(status ServiceStatus) {
	status.Details = maps.Clone(status.Details)
	b.mu.Lock()
	b.entries[status.Name] = status
	b.mu.Unlock()
}

// Update applies fn to the status for name, creating it when absent.
func (b *StatusBoard) Update(name string, fn func(*ServiceStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.entries[name]
	if !ok {
		status = ServiceStatus{Name: name}
	}
	fn(&status)
	status.Name = name
	b.entries[name] = status
}

// UpdateIfPresent applies fn to the status for name and reports whether an
// entry existed. Absent names are left absent.
func (b *StatusBoard) UpdateIfPresent(name string, fn func(*ServiceStatus)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.entries[name]
	if !ok {
		return false
	}
	fn(&status)
	status.Name = name
	b.entries[name] = status
	return true
}

// Get returns a copy of the status for name.
func (b *StatusBoard) Get(name string) (ServiceStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status, ok := b.entries[name]
	status.Details = maps.Clone(status.Details)
	return status, ok
}

// Snapshot returns copies of every status keyed by server name.
func (b *StatusBoard) Snapshot() map[string]ServiceStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(b.entries))
	for name, status := range b.entries {
		status.Details = maps.Clone(status.Details)
		out[name] = status
	}
	return out
}

// Names returns a sorted snapshot of the names on the board.
func (b *StatusBoard) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove deletes the status for name.
func (b *StatusBoard) Remove(name string) {
	b.mu.Lock()
	delete(b.entries, name)
	b.mu.Unlock()
}

// Clear empties the board.
func (b *StatusBoard) Clear() {
	b.mu.Lock()
	b.entries = make(map[string]ServiceStatus)
	b.mu.Unlock()
}
