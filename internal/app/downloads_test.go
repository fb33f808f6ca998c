package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

func TestDownloadCompletes(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("model-weights", 1024)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(ts.Close)

	m := NewDownloadManager(ts.Client(), discardLogger())
	dest := filepath.Join(t.TempDir(), "models", "weights.bin")
	id, err := m.Start(ts.URL, dest)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DownloadCompleted, p.State)
	assert.EqualValues(t, len(payload), p.Downloaded)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))

	m.Forget()
	assert.Empty(t, m.List())
}

func TestDownloadCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)

	m := NewDownloadManager(ts.Client(), discardLogger())
	dest := filepath.Join(t.TempDir(), "big.bin")
	id, err := m.Start(ts.URL, dest)
	require.NoError(t, err)
	<-started

	require.NoError(t, m.Cancel(id))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DownloadCancelled, p.State)
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))

	require.ErrorIs(t, m.Cancel("missing"), mcpmgr.ErrNotFound)
}

func TestDownloadFailureAndCancelAll(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	m := NewDownloadManager(ts.Client(), discardLogger())
	_, err := m.Start("", "")
	require.Error(t, err)

	id, err := m.Start(ts.URL, filepath.Join(t.TempDir(), "missing.bin"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.CancelAll(ctx))

	p, ok := m.Get(id)
	require.True(t, ok)
	assert.Contains(t, []DownloadState{DownloadFailed, DownloadCancelled}, p.State)
	assert.NotEmpty(t, p.Error)
}
