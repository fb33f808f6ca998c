package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var errNilParams = errors.New("mcpmgr: nil call params")

const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Supervisor tracks a dynamic set of MCP server connections. It dispatches
// tool calls by server name, lets in-flight calls be cancelled by ID, watches
// every server for liveness and shuts the whole set down exactly once.
type Supervisor struct {
	opts     SupervisorOptions
	logger   *slog.Logger
	dialer   Dialer
	metrics  *supervisorMetrics
	registry *ServiceRegistry
	calls    *CancellationRegistry
	pids     *ProcessTable
	statuses *StatusBoard
	monitors *MonitoringSupervisor
	shutdown *ShutdownCoordinator
}

// NewSupervisor constructs a Supervisor and schedules its cleanup sweep.
func NewSupervisor(opts *SupervisorOptions) (*Supervisor, error) {
	o := opts.withDefaults()
	metrics, err := newSupervisorMetrics(o.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: create metrics: %w", err)
	}
	dialer := o.Dialer
	if dialer == nil {
		dialer = newSDKDialer(o)
	}
	s := &Supervisor{
		opts:     o,
		logger:   o.Logger,
		dialer:   dialer,
		metrics:  metrics,
		registry: NewServiceRegistry(),
		calls:    NewCancellationRegistry(),
		pids:     NewProcessTable(),
		statuses: NewStatusBoard(),
		shutdown: NewShutdownCoordinator(),
	}
	s.monitors = newMonitoringSupervisor(o, s.registry, s.pids, s.statuses, s.calls, metrics)
	if err := s.monitors.startCleanup(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds handle under name and starts its monitor in the same step.
// It fails with ErrAlreadyRunning when name is taken and with
// ErrShutdownInProgress once shutdown has started.
func (s *Supervisor) Register(name string, handle ServiceHandle) error {
	release, err := s.shutdown.admit()
	if err != nil {
		return err
	}
	defer release()
	err = s.registry.registerWith(name, handle, func() {
		s.statuses.Set(ServiceStatus{
			Name:        name,
			State:       StateStarting,
			Handshake:   HandshakeOf(handle),
			LastChecked: time.Now(),
		})
		s.monitors.watch(name, handle)
	})
	if err != nil {
		return err
	}
	s.metrics.serviceAdded(name)
	s.logger.Info("mcp server registered", "server", name, "handshake", HandshakeOf(handle))
	return nil
}

// SetPID records the OS process backing name. It may be called any time after
// registration, or not at all for remote servers. Pids for names that are not
// registered, or that arrive once shutdown has begun, are ignored.
func (s *Supervisor) SetPID(name string, pid int) {
	if pid <= 0 {
		return
	}
	release, err := s.shutdown.admit()
	if err != nil {
		s.logger.Debug("ignoring pid after shutdown", "server", name, "pid", pid)
		return
	}
	defer release()
	recorded := s.registry.whilePresent(name, func(ServiceHandle) {
		s.pids.Set(name, pid)
		s.statuses.UpdateIfPresent(name, func(st *ServiceStatus) { st.PID = pid })
	})
	if !recorded {
		s.logger.Debug("ignoring pid for unregistered server", "server", name, "pid", pid)
	}
}

// Start connects cfg through the configured Dialer and registers the result
// under name.
func (s *Supervisor) Start(ctx context.Context, name string, cfg ServerConfig) error {
	if s.shutdown.ShuttingDown() {
		return ErrShutdownInProgress
	}
	if s.registry.Contains(name) {
		return alreadyRunning("server", name)
	}
	dialed, err := s.dialer.Dial(ctx, name, cfg)
	if err != nil {
		return err
	}
	if err := s.Register(name, dialed.Handle); err != nil {
		s.discard(name, dialed)
		return err
	}
	s.SetPID(name, dialed.PID)
	return nil
}

// StartAll starts every configured server concurrently. Servers that fail to
// start are reported together; the others stay running.
func (s *Supervisor) StartAll(ctx context.Context, servers map[string]ServerConfig) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(8)
	for name, cfg := range servers {
		g.Go(func() error {
			if err := s.Start(ctx, name, cfg); err != nil {
				s.logger.Error("starting mcp server", "server", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("start %q: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Restart replaces the connection for name with a freshly dialed one. A
// server that is not running is simply started.
func (s *Supervisor) Restart(ctx context.Context, name string, cfg ServerConfig) error {
	if err := s.Remove(name); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.Start(ctx, name, cfg)
}

// Remove stops monitoring name, forgets it and closes its connection.
func (s *Supervisor) Remove(name string) error {
	release, err := s.shutdown.admit()
	if err != nil {
		return err
	}
	handle, ok := s.registry.removeWith(name, func(ServiceHandle) {
		s.monitors.unwatch(name)
	})
	release()
	if !ok {
		return notFound("server", name)
	}
	pid, hasPID := s.pids.Remove(name)
	s.statuses.Remove(name)
	s.metrics.serviceRemoved(name)
	if err := closeQuietly(handle); err != nil {
		s.logger.Warn("closing mcp server", "server", name, "error", err)
	}
	if hasPID && s.pids.alive(pid) {
		if err := s.pids.Terminate(pid); err != nil {
			s.logger.Warn("terminating mcp server process", "server", name, "pid", pid, "error", err)
		}
	}
	s.logger.Info("mcp server removed", "server", name)
	return nil
}

func (s *Supervisor) discard(name string, dialed *Dialed) {
	if err := closeQuietly(dialed.Handle); err != nil {
		s.logger.Debug("closing rejected mcp server", "server", name, "error", err)
	}
	if dialed.PID > 0 && s.pids.alive(dialed.PID) {
		_ = s.pids.Terminate(dialed.PID)
	}
}

// Lookup returns the handle registered under name.
func (s *Supervisor) Lookup(name string) (ServiceHandle, error) {
	return s.registry.Lookup(name)
}

// Names returns the sorted names of the registered servers.
func (s *Supervisor) Names() []string {
	return s.registry.Names()
}

// ListTools returns every tool advertised by name.
func (s *Supervisor) ListTools(ctx context.Context, name string) ([]*mcp.Tool, error) {
	handle, err := s.admitCall(name)
	if err != nil {
		return nil, err
	}
	tools, err := listAllTools(ctx, handle)
	if err != nil {
		return nil, &ServiceError{Server: name, Err: err}
	}
	return tools, nil
}

// CallTool invokes a tool on name and waits for the result. Connection
// errors are returned wrapped in *ServiceError.
func (s *Supervisor) CallTool(ctx context.Context, name string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if params == nil {
		return nil, errNilParams
	}
	handle, err := s.admitCall(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := callTool(ctx, handle, params)
	if err != nil {
		s.metrics.observeCall(name, params.Name, outcomeError, time.Since(start))
		return nil, &ServiceError{Server: name, Err: err}
	}
	s.metrics.observeCall(name, params.Name, outcomeSuccess, time.Since(start))
	return res, nil
}

// CallToolCancellable invokes a tool on name under callID, which Cancel can
// use while the call is in flight. A fired cancellation returns ErrCancelled
// even if the result arrived at the same moment; a late result is discarded.
// When ctx ends first the error wraps both ErrCancelled and ctx's cause. The
// call ID is released on every return path.
func (s *Supervisor) CallToolCancellable(ctx context.Context, name string, params *mcp.CallToolParams, callID string) (*mcp.CallToolResult, error) {
	if params == nil {
		return nil, errNilParams
	}
	if callID == "" {
		return nil, errors.New("mcpmgr: empty call id")
	}
	release, err := s.shutdown.admit()
	if err != nil {
		return nil, err
	}
	handle, err := s.registry.Lookup(name)
	if err != nil {
		release()
		return nil, err
	}
	callCtx, entry, err := s.calls.register(ctx, callID, name)
	release()
	if err != nil {
		return nil, err
	}
	defer s.calls.release(callID, entry)

	type outcome struct {
		res *mcp.CallToolResult
		err error
	}
	start := time.Now()
	results := make(chan outcome, 1)
	go func() {
		res, err := callTool(callCtx, handle, params)
		results <- outcome{res: res, err: err}
	}()

	select {
	case out := <-results:
		if errors.Is(context.Cause(callCtx), errCallCancelled) {
			return nil, s.cancelled(name, params.Name, callID, start, nil)
		}
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, s.cancelled(name, params.Name, callID, start, context.Cause(ctx))
			}
			s.metrics.observeCall(name, params.Name, outcomeError, time.Since(start))
			return nil, &ServiceError{Server: name, Err: out.err}
		}
		s.metrics.observeCall(name, params.Name, outcomeSuccess, time.Since(start))
		return out.res, nil
	case <-callCtx.Done():
		cause := context.Cause(callCtx)
		if errors.Is(cause, errCallCancelled) {
			cause = nil
		}
		return nil, s.cancelled(name, params.Name, callID, start, cause)
	}
}

func (s *Supervisor) cancelled(server, tool, callID string, start time.Time, cause error) error {
	s.metrics.observeCall(server, tool, outcomeCancelled, time.Since(start))
	s.logger.Info("tool call cancelled", "server", server, "tool", tool, "callId", callID, "cause", cause)
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// Cancel fires the cancellation signal of an in-flight call. It returns
// ErrNotFound when the call already finished or never existed.
func (s *Supervisor) Cancel(callID string) error {
	return s.calls.Cancel(callID)
}

// InFlight returns the sorted IDs of calls that can currently be cancelled.
func (s *Supervisor) InFlight() []string {
	return s.calls.IDs()
}

// Status returns the last-known status of name.
func (s *Supervisor) Status(name string) (ServiceStatus, bool) {
	return s.statuses.Get(name)
}

// Statuses returns the active-service snapshot.
func (s *Supervisor) Statuses() map[string]ServiceStatus {
	return s.statuses.Snapshot()
}

// PID returns the process recorded for name.
func (s *Supervisor) PID(name string) (int, bool) {
	return s.pids.Get(name)
}

// Sweep runs the cleanup pass immediately.
func (s *Supervisor) Sweep() {
	s.monitors.Sweep()
}

// ShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) ShuttingDown() bool {
	return s.shutdown.ShuttingDown()
}

// Done is closed once Shutdown has finished tearing everything down.
func (s *Supervisor) Done() <-chan struct{} {
	return s.shutdown.Done()
}

func (s *Supervisor) admitCall(name string) (ServiceHandle, error) {
	release, err := s.shutdown.admit()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.registry.Lookup(name)
}
