package mcpmgr

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRegistryLifecycle(t *testing.T) {
	t.Parallel()

	r := NewServiceRegistry()
	h := NewUninitializedHandle(newFakeConn())

	require.NoError(t, r.Register("search", h))
	assert.True(t, r.Contains("search"))
	got, err := r.Lookup("search")
	require.NoError(t, err)
	assert.Same(t, h, got)

	removed, ok := r.Remove("search")
	require.True(t, ok)
	assert.Same(t, h, removed)
	_, ok = r.Remove("search")
	assert.False(t, ok)

	_, err = r.Lookup("search")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, r.Len())
}

func TestServiceRegistryRemoveIfComparesHandle(t *testing.T) {
	t.Parallel()

	r := NewServiceRegistry()
	current := NewUninitializedHandle(newFakeConn())
	stale := NewUninitializedHandle(newFakeConn())
	require.NoError(t, r.Register("search", current))

	assert.False(t, r.RemoveIf("search", stale))
	assert.True(t, r.Contains("search"))
	assert.True(t, r.RemoveIf("search", current))
	assert.False(t, r.Contains("search"))
}

func TestServiceRegistryConcurrentRegisterHasOneWinner(t *testing.T) {
	t.Parallel()

	r := NewServiceRegistry()
	var wins, follows atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.registerWith("search", NewUninitializedHandle(newFakeConn()), func() { follows.Add(1) })
			if err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyRunning)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 1, follows.Load())
}

func TestServiceRegistryNamesAndDrain(t *testing.T) {
	t.Parallel()

	r := NewServiceRegistry()
	for i := 3; i > 0; i-- {
		require.NoError(t, r.Register(fmt.Sprintf("server-%d", i), NewUninitializedHandle(newFakeConn())))
	}
	assert.Equal(t, []string{"server-1", "server-2", "server-3"}, r.Names())

	drained := r.Drain()
	assert.Len(t, drained, 3)
	assert.Empty(t, r.Names())
}
