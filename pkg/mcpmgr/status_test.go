package mcpmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBoardCopiesDetails(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard()
	details := map[string]any{"transport": "stdio"}
	b.Set(ServiceStatus{Name: "search", State: StateStarting, Details: details})
	details["transport"] = "mutated"

	st, ok := b.Get("search")
	require.True(t, ok)
	assert.Equal(t, "stdio", st.Details["transport"])

	st.Details["transport"] = "changed"
	again, _ := b.Get("search")
	assert.Equal(t, "stdio", again.Details["transport"])
}

func TestStatusBoardUpdateCreatesAndRemoves(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard()
	b.Update("search", func(s *ServiceStatus) {
		s.State = StateUnhealthy
		s.ConsecutiveFailures = 2
	})
	st, ok := b.Get("search")
	require.True(t, ok)
	assert.Equal(t, "search", st.Name)
	assert.Equal(t, 2, st.ConsecutiveFailures)

	b.Set(ServiceStatus{Name: "fetch", State: StateRunning})
	assert.Equal(t, []string{"fetch", "search"}, b.Names())
	assert.Len(t, b.Snapshot(), 2)

	b.Remove("search")
	_, ok = b.Get("search")
	assert.False(t, ok)
	b.Clear()
	assert.Empty(t, b.Snapshot())
}

func TestStatusBoardUpdateIfPresentLeavesAbsentNamesAlone(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard()
	assert.False(t, b.UpdateIfPresent("search", func(s *ServiceStatus) { s.PID = 7 }))
	assert.Empty(t, b.Snapshot())

	b.Set(ServiceStatus{Name: "search", State: StateRunning})
	require.True(t, b.UpdateIfPresent("search", func(s *ServiceStatus) { s.PID = 7 }))
	st, ok := b.Get("search")
	require.True(t, ok)
	assert.Equal(t, 7, st.PID)
	assert.Equal(t, StateRunning, st.State)
}
