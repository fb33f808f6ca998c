package mcpmgr

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ShutdownCoordinator guards the one-way transition into shutdown. Operations
// that add state hold a read lock for their short admission section, so the
// flip to shutting down cannot interleave with them.
type ShutdownCoordinator struct {
	mu           sync.RWMutex
	shuttingDown bool
	done         chan struct{}
}

// NewShutdownCoordinator returns a coordinator in the idle state.
func NewShutdownCoordinator() *ShutdownCoordinator {
	return &ShutdownCoordinator{done: make(chan struct{})}
}

// admit enters an admission section. The returned release must be called
// before any blocking work.
func (c *ShutdownCoordinator) admit() (release func(), err error) {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return nil, ErrShutdownInProgress
	}
	return c.mu.RUnlock, nil
}

// begin flips the flag. Only the first caller gets true.
func (c *ShutdownCoordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shuttingDown {
		return false
	}
	c.shuttingDown = true
	return true
}

func (c *ShutdownCoordinator) finish() { close(c.done) }

// ShuttingDown reports whether shutdown has started.
func (c *ShutdownCoordinator) ShuttingDown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shuttingDown
}

// Done is closed once teardown has completed.
func (c *ShutdownCoordinator) Done() <-chan struct{} { return c.done }

// Shutdown tears the supervisor down. Only the first call does any work and
// it returns true; later and concurrent calls return false immediately. Use
// Done to wait for teardown started elsewhere. Failures are logged and never
// stop the remaining steps. ctx bounds how long teardown waits on monitors and
// connection closes.
func (s *Supervisor) Shutdown(ctx context.Context) bool {
	if !s.shutdown.begin() {
		return false
	}
	defer s.shutdown.finish()
	s.logger.Info("mcp supervisor shutting down")

	var errs []error
	if err := s.monitors.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}

	if n := s.calls.CancelAll(); n > 0 {
		s.logger.Info("cancelled in-flight tool calls", "count", n)
	}

	handles := s.registry.Drain()
	if err := s.closeAll(ctx, handles); err != nil {
		errs = append(errs, err)
	}

	for name, pid := range s.pids.Drain() {
		if !s.pids.alive(pid) {
			s.logger.Debug("mcp server process already exited", "server", name, "pid", pid)
			continue
		}
		if err := s.pids.Terminate(pid); err != nil {
			s.logger.Warn("terminating mcp server process", "server", name, "pid", pid, "error", err)
			errs = append(errs, &ServiceError{Server: name, Err: err})
		}
	}

	s.statuses.Clear()
	s.calls.CancelAll()

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("mcp supervisor shut down with errors", "error", err)
	} else {
		s.logger.Info("mcp supervisor shut down", "servers", len(handles))
	}
	return true
}

func (s *Supervisor) closeAll(ctx context.Context, handles map[string]ServiceHandle) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, handle := range handles {
		g.Go(func() error {
			err := closeQuietly(handle)
			s.metrics.serviceRemoved(name)
			if err != nil {
				s.logger.Warn("closing mcp server", "server", name, "error", err)
				mu.Lock()
				errs = append(errs, &ServiceError{Server: name, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	waited := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), errors.New("mcpmgr: connection close did not finish"))
	}
	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}
