//go:build !windows

package mcpmgr

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAliveAndTerminate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}

	assert.True(t, processAlive(os.Getpid()))

	cmd := exec.Command(sleep, "30")
	isolateProcessGroup(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	assert.True(t, processAlive(pid))

	require.NoError(t, terminateProcess(pid))
	require.Error(t, cmd.Wait())
	assert.False(t, processAlive(pid))
	require.NoError(t, terminateProcess(pid))
}
