package mcpmgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsExactlyOnce(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, nil)
	var killed sync.Map
	var kills atomic.Int32
	s.pids.kill = func(pid int) error {
		kills.Add(1)
		killed.Store(pid, true)
		return nil
	}

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = newFakeConn()
		name := fmt.Sprintf("server-%d", i)
		require.NoError(t, s.Register(name, NewUninitializedHandle(conns[i])))
		s.SetPID(name, 1000+i)
	}

	const callers = 16
	var performed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.Shutdown(context.Background()) {
				performed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	<-s.Done()

	assert.EqualValues(t, 1, performed.Load())
	for i, conn := range conns {
		assert.EqualValues(t, 1, conn.closes.Load(), "server-%d closed", i)
		_, ok := killed.Load(1000 + i)
		assert.True(t, ok, "pid %d terminated", 1000+i)
	}
	assert.EqualValues(t, len(conns), kills.Load())

	assert.Empty(t, s.Names())
	assert.Empty(t, s.InFlight())
	assert.Empty(t, s.Statuses())
	assert.Zero(t, s.pids.Len())
	assert.Empty(t, s.monitors.Watching())
	assert.True(t, s.ShuttingDown())
}

func TestShutdownRejectsNewWork(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, nil)
	require.NoError(t, s.Register("search", NewUninitializedHandle(newFakeConn())))
	require.True(t, s.Shutdown(context.Background()))
	require.False(t, s.Shutdown(context.Background()))

	require.ErrorIs(t, s.Register("late", NewUninitializedHandle(newFakeConn())), ErrShutdownInProgress)
	_, err := s.CallTool(context.Background(), "search", &mcp.CallToolParams{Name: "search"})
	require.ErrorIs(t, err, ErrShutdownInProgress)
	_, err = s.CallToolCancellable(context.Background(), "search", &mcp.CallToolParams{Name: "search"}, "id")
	require.ErrorIs(t, err, ErrShutdownInProgress)
	_, err = s.ListTools(context.Background(), "search")
	require.ErrorIs(t, err, ErrShutdownInProgress)
	require.ErrorIs(t, s.Start(context.Background(), "search", &StdioServerConfig{Command: "x"}), ErrShutdownInProgress)
	require.ErrorIs(t, s.Remove("search"), ErrShutdownInProgress)
	assert.Empty(t, s.Names())
}

func TestShutdownCancelsInFlightCalls(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, nil)
	started := make(chan string, 3)
	conn := newFakeConn()
	conn.call = blockingCall(started)
	require.NoError(t, s.Register("search", NewUninitializedHandle(conn)))

	errs := make(chan error, 3)
	for i := range 3 {
		go func() {
			_, err := s.CallToolCancellable(context.Background(), "search", &mcp.CallToolParams{Name: "search"}, fmt.Sprintf("call-%d", i))
			errs <- err
		}()
	}
	for range 3 {
		<-started
	}

	require.True(t, s.Shutdown(context.Background()))
	for range 3 {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrCancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("in-flight call survived shutdown")
		}
	}
	assert.Empty(t, s.InFlight())
}

func TestShutdownRacesWithRegistration(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, nil)
	var wg sync.WaitGroup
	conns := make([]*fakeConn, 32)
	accepted := make([]bool, len(conns))
	for i := range conns {
		conns[i] = newFakeConn()
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted[i] = s.Register(fmt.Sprintf("server-%d", i), NewUninitializedHandle(conns[i])) == nil
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Shutdown(context.Background())
	}()
	wg.Wait()
	<-s.Done()

	assert.Empty(t, s.Names())
	assert.Empty(t, s.monitors.Watching())
	for i, conn := range conns {
		if accepted[i] {
			assert.EqualValues(t, 1, conn.closes.Load(), "accepted server-%d must be closed", i)
		} else {
			assert.Zero(t, conn.closes.Load())
		}
	}
}

func TestShutdownCoordinatorAdmission(t *testing.T) {
	t.Parallel()

	c := NewShutdownCoordinator()
	release, err := c.admit()
	require.NoError(t, err)

	begun := make(chan bool)
	go func() { begun <- c.begin() }()
	select {
	case <-begun:
		t.Fatal("begin must wait for admitted work")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	require.True(t, <-begun)
	require.False(t, c.begin())

	_, err = c.admit()
	require.ErrorIs(t, err, ErrShutdownInProgress)
	c.finish()
	<-c.Done()
}

func TestShutdownIgnoresLatePID(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, nil)
	require.NoError(t, s.Register("search", NewUninitializedHandle(newFakeConn())))
	require.True(t, s.Shutdown(context.Background()))
	<-s.Done()

	s.SetPID("search", 4242)
	s.SetPID("late", 4243)

	assert.Zero(t, s.pids.Len())
	assert.Empty(t, s.Statuses())
}

func TestShutdownSkipsExitedProcesses(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, nil)
	var kills atomic.Int32
	s.pids.kill = func(int) error {
		kills.Add(1)
		return nil
	}
	s.pids.alive = func(pid int) bool { return pid == 2000 }

	require.NoError(t, s.Register("exited", NewUninitializedHandle(newFakeConn())))
	s.SetPID("exited", 1000)
	require.NoError(t, s.Register("running", NewUninitializedHandle(newFakeConn())))
	s.SetPID("running", 2000)

	require.True(t, s.Shutdown(context.Background()))
	assert.EqualValues(t, 1, kills.Load())
	assert.Zero(t, s.pids.Len())
}
