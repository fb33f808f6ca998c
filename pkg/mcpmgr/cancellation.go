package mcpmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewCallID returns a fresh identifier suitable for CallToolCancellable.
func NewCallID() string {
	return uuid.NewString()
}

// cancelEntry is the one-shot signal for a single in-flight call.
type cancelEntry struct {
	cancel    context.CancelCauseFunc
	server    string
	startedAt time.Time
}

// CancellationRegistry maps in-flight call IDs to their cancellation signal.
type CancellationRegistry struct {
	mu      sync.Mutex
	entries map[string]*cancelEntry
	now     func() time.Time
}

// NewCancellationRegistry returns an empty registry.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{
		entries: make(map[string]*cancelEntry),
		now:     time.Now,
	}
}

// register derives a cancellable context for callID. The returned entry must
// be passed to release on every exit path of the call.
func (c *CancellationRegistry) register(parent context.Context, callID, server string) (context.Context, *cancelEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[callID]; exists {
		return nil, nil, alreadyRunning("call", callID)
	}
	ctx, cancel := context.WithCancelCause(parent)
	entry := &cancelEntry{cancel: cancel, server: server, startedAt: c.now()}
	c.entries[callID] = entry
	return ctx, entry, nil
}

// release removes callID if it still refers to entry and frees the derived
// context. A sweep may already have removed it.
func (c *CancellationRegistry) release(callID string, entry *cancelEntry) {
	c.mu.Lock()
	if current, ok := c.entries[callID]; ok && current == entry {
		delete(c.entries, callID)
	}
	c.mu.Unlock()
	entry.cancel(context.Canceled)
}

// Cancel fires the signal for callID. It fails with ErrNotFound when the call
// already completed or never existed. Firing an in-flight call twice is a
// no-op.
func (c *CancellationRegistry) Cancel(callID string) error {
	c.mu.Lock()
	entry, ok := c.entries[callID]
	c.mu.Unlock()
	if !ok {
		return notFound("call", callID)
	}
	entry.cancel(errCallCancelled)
	return nil
}

// Contains reports whether callID is in flight.
func (c *CancellationRegistry) Contains(callID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[callID]
	return ok
}

// IDs returns a sorted snapshot of in-flight call IDs.
func (c *CancellationRegistry) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of in-flight calls.
func (c *CancellationRegistry) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CancelAll fires and removes every entry. It returns how many were fired.
func (c *CancellationRegistry) CancelAll() int {
	c.mu.Lock()
	drained := c.entries
	c.entries = make(map[string]*cancelEntry)
	c.mu.Unlock()
	for _, entry := range drained {
		entry.cancel(errCallCancelled)
	}
	return len(drained)
}

// sweepExpired fires and removes entries older than maxAge and returns their
// IDs.
func (c *CancellationRegistry) sweepExpired(maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := c.now().Add(-maxAge)
	var expired []*cancelEntry
	var ids []string
	c.mu.Lock()
	for id, entry := range c.entries {
		if entry.startedAt.Before(cutoff) {
			expired = append(expired, entry)
			ids = append(ids, id)
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
	for _, entry := range expired {
		entry.cancel(errCallCancelled)
	}
	sort.Strings(ids)
	return ids
}
