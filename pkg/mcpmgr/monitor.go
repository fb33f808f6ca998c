package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	evictConnectionClosed = "connection_closed"
	evictProcessExited    = "process_exited"
	evictPingFailures     = "ping_failures"
	evictPanic            = "monitor_panic"
)

type monitorTask struct {
	name   string
	handle ServiceHandle
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitoringSupervisor owns one watcher goroutine per registered server and a
// single periodic cleanup job. Watchers evict servers that stop responding.
type MonitoringSupervisor struct {
	registry *ServiceRegistry
	pids     *ProcessTable
	statuses *StatusBoard
	calls    *CancellationRegistry
	logger   *slog.Logger
	metrics  *supervisorMetrics

	interval        time.Duration
	pingTimeout     time.Duration
	maxFailures     int
	cleanupInterval time.Duration
	maxCallLifetime time.Duration

	mu      sync.Mutex
	tasks   map[string]*monitorTask
	wg      sync.WaitGroup
	cron    *cron.Cron
	stopped bool
}

func newMonitoringSupervisor(
	opts SupervisorOptions,
	registry *ServiceRegistry,
	pids *ProcessTable,
	statuses *StatusBoard,
	calls *CancellationRegistry,
	metrics *supervisorMetrics,
) *MonitoringSupervisor {
	return &MonitoringSupervisor{
		registry:        registry,
		pids:            pids,
		statuses:        statuses,
		calls:           calls,
		logger:          opts.Logger,
		metrics:         metrics,
		interval:        opts.MonitorInterval,
		pingTimeout:     opts.PingTimeout,
		maxFailures:     opts.MaxPingFailures,
		cleanupInterval: opts.CleanupInterval,
		maxCallLifetime: opts.MaxCallLifetime,
		tasks:           make(map[string]*monitorTask),
	}
}

// startCleanup schedules the cleanup sweep. It is a no-op after the first
// call.
func (m *MonitoringSupervisor) startCleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil || m.stopped {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.cleanupInterval), m.Sweep); err != nil {
		return fmt.Errorf("mcpmgr: schedule cleanup: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

// watch starts the monitor for name. It runs inside the registry's critical
// section and must not block. A leftover task for the same name is replaced.
func (m *MonitoringSupervisor) watch(name string, handle ServiceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if old, ok := m.tasks[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &monitorTask{name: name, handle: handle, cancel: cancel, done: make(chan struct{})}
	m.tasks[name] = task
	m.wg.Add(1)
	go m.run(ctx, task)
}

// unwatch stops the monitor for name without waiting for it to exit. Callers
// removing a server run it inside the registry's critical section.
func (m *MonitoringSupervisor) unwatch(name string) {
	m.mu.Lock()
	task, ok := m.tasks[name]
	if ok {
		delete(m.tasks, name)
	}
	m.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// Watching returns a sorted snapshot of the names with a live monitor.
func (m *MonitoringSupervisor) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll cancels every monitor and the cleanup job and waits for them to
// exit or for ctx to end. No monitor is started afterwards.
func (m *MonitoringSupervisor) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	tasks := m.tasks
	m.tasks = make(map[string]*monitorTask)
	c := m.cron
	m.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}

	var cronDone <-chan struct{}
	if c != nil {
		cronDone = c.Stop().Done()
	}
	joined := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-ctx.Done():
		return fmt.Errorf("mcpmgr: waiting for monitors: %w", ctx.Err())
	}
	if cronDone != nil {
		select {
		case <-cronDone:
		case <-ctx.Done():
			return fmt.Errorf("mcpmgr: waiting for cleanup job: %w", ctx.Err())
		}
	}
	return nil
}

func (m *MonitoringSupervisor) run(ctx context.Context, task *monitorTask) {
	defer m.wg.Done()
	defer close(task.done)
	defer func() {
		if r := recover(); r != nil {
			m.evict(task, evictPanic, fmt.Errorf("monitor panic: %v", r))
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	exited := exitChan(task.handle)
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-exited:
			if ctx.Err() != nil {
				return
			}
			m.evict(task, evictConnectionClosed, errors.New("connection closed"))
			return
		case <-ticker.C:
		}

		if !m.pids.Alive(task.name) {
			if ctx.Err() != nil {
				return
			}
			m.evict(task, evictProcessExited, errors.New("process exited"))
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
		err := pingHandle(pingCtx, task.handle)
		cancel()
		if ctx.Err() != nil {
			return
		}
		now := time.Now()
		if err == nil {
			failures = 0
			m.statuses.Update(task.name, func(s *ServiceStatus) {
				s.State = StateRunning
				s.Handshake = HandshakeOf(task.handle)
				s.ConsecutiveFailures = 0
				s.LastError = ""
				s.LastChecked = now
				if pid, ok := m.pids.Get(task.name); ok {
					s.PID = pid
				}
			})
			continue
		}

		failures++
		m.logger.Warn("mcp server ping failed", "server", task.name, "failures", failures, "error", err)
		m.statuses.Update(task.name, func(s *ServiceStatus) {
			s.State = StateUnhealthy
			s.Handshake = HandshakeOf(task.handle)
			s.ConsecutiveFailures = failures
			s.LastError = err.Error()
			s.LastChecked = now
		})
		if failures >= m.maxFailures {
			m.evict(task, evictPingFailures, err)
			return
		}
	}
}

// evict removes task's server from every table, provided the registry still
// maps the name to the handle this task watches.
func (m *MonitoringSupervisor) evict(task *monitorTask, reason string, cause error) {
	pid, hasPID := m.pids.Get(task.name)
	if !m.registry.RemoveIf(task.name, task.handle) {
		m.dropTask(task)
		return
	}
	if hasPID {
		m.pids.RemoveIf(task.name, pid)
	}
	if !m.registry.Contains(task.name) {
		m.statuses.Remove(task.name)
	}
	m.dropTask(task)

	if err := closeQuietly(task.handle); err != nil {
		m.logger.Debug("closing evicted mcp server", "server", task.name, "error", err)
	}
	m.metrics.serviceRemoved(task.name)
	m.metrics.observeEviction(task.name, reason)
	m.logger.Warn("mcp server evicted", "server", task.name, "reason", reason, "error", cause)
}

func (m *MonitoringSupervisor) dropTask(task *monitorTask) {
	m.mu.Lock()
	if current, ok := m.tasks[task.name]; ok && current == task {
		delete(m.tasks, task.name)
	}
	m.mu.Unlock()
}

// Sweep removes state that outlived its owner: calls older than the maximum
// call lifetime, and monitor, process and status entries for servers that are
// no longer registered.
func (m *MonitoringSupervisor) Sweep() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("mcp cleanup sweep panicked", "panic", r)
		}
	}()

	expired := m.calls.sweepExpired(m.maxCallLifetime)
	for _, id := range expired {
		m.logger.Info("cancelled stale tool call", "callId", id)
	}
	m.metrics.observeSweep("call", len(expired))

	m.mu.Lock()
	tasks := make([]*monitorTask, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	m.mu.Unlock()
	orphanTasks := 0
	for _, task := range tasks {
		if current, err := m.registry.Lookup(task.name); err == nil && current == task.handle {
			continue
		}
		m.dropTask(task)
		task.cancel()
		orphanTasks++
		m.logger.Info("stopped orphaned monitor", "server", task.name)
	}
	m.metrics.observeSweep("monitor", orphanTasks)

	orphanPIDs := 0
	for _, name := range m.pids.Names() {
		if m.registry.Contains(name) {
			continue
		}
		if pid, ok := m.pids.Remove(name); ok {
			orphanPIDs++
			m.logger.Info("removed orphaned process entry", "server", name, "pid", pid)
		}
	}
	m.metrics.observeSweep("process", orphanPIDs)

	orphanStatuses := 0
	for _, name := range m.statuses.Names() {
		if m.registry.Contains(name) {
			continue
		}
		m.statuses.Remove(name)
		orphanStatuses++
	}
	m.metrics.observeSweep("status", orphanStatuses)
}
