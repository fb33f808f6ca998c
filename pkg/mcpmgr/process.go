package mcpmgr

import (
	"sort"
	"sync"
)

// ProcessTable maps server names to the OS process backing them. It is only
// consulted for liveness checks and forced termination; a server may be
// registered before its pid is known.
type ProcessTable struct {
	mu    sync.Mutex
	pids  map[string]int
	kill  func(pid int) error
	alive func(pid int) bool
}

// NewProcessTable returns an empty table using the platform's process
// primitives.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{
		pids:  make(map[string]int),
		kill:  terminateProcess,
		alive: processAlive,
	}
}

// Set records pid for name. Non-positive pids are ignored.
func (p *ProcessTable) Set(name string, pid int) {
	if pid <= 0 {
		return
	}
	p.mu.Lock()
	p.pids[name] = pid
	p.mu.Unlock()
}

// Get returns the pid recorded for name.
func (p *ProcessTable) Get(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid, ok := p.pids[name]
	return pid, ok
}

// Remove forgets name and returns the pid it had.
func (p *ProcessTable) Remove(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid, ok := p.pids[name]
	if ok {
		delete(p.pids, name)
	}
	return pid, ok
}

// RemoveIf forgets name only while it still maps to pid.
func (p *ProcessTable) RemoveIf(name string, pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.pids[name]; ok && current == pid {
		delete(p.pids, name)
		return true
	}
	return false
}

// Names returns a sorted snapshot of the names with a known pid.
func (p *ProcessTable) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.pids))
	for name := range p.pids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of recorded pids.
func (p *ProcessTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pids)
}

// Drain empties the table and returns its previous contents.
func (p *ProcessTable) Drain() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.pids
	p.pids = make(map[string]int)
	return drained
}

// Alive reports whether the process recorded for name still exists. Unknown
// names report true: without a pid there is nothing to contradict liveness.
func (p *ProcessTable) Alive(name string) bool {
	pid, ok := p.Get(name)
	if !ok {
		return true
	}
	return p.alive(pid)
}

// Terminate forcibly stops pid.
func (p *ProcessTable) Terminate(pid int) error {
	return p.kill(pid)
}
