package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vikashloomba/mcp-supervisor-go/pkg/mcpmgr"
)

// DownloadState is the lifecycle state of a download task.
type DownloadState string

const (
	DownloadRunning   DownloadState = "running"
	DownloadCompleted DownloadState = "completed"
	DownloadFailed    DownloadState = "failed"
	DownloadCancelled DownloadState = "cancelled"
)

// DownloadProgress is a point-in-time view of one task.
type DownloadProgress struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	Dest       string        `json:"dest"`
	State      DownloadState `json:"state"`
	Downloaded int64         `json:"downloaded"`
	Total      int64         `json:"total"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
}

type downloadTask struct {
	progress DownloadProgress
	cancel   context.CancelFunc
	done     chan struct{}
}

// DownloadManager runs file downloads in the background, each with its own
// cancellation.
type DownloadManager struct {
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*downloadTask
	wg    sync.WaitGroup
}

// NewDownloadManager returns an empty manager. A nil client uses
// http.DefaultClient.
func NewDownloadManager(client *http.Client, logger *slog.Logger) *DownloadManager {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadManager{client: client, logger: logger, tasks: make(map[string]*downloadTask)}
}

// Start begins downloading url into dest and returns the task id.
func (m *DownloadManager) Start(url, dest string) (string, error) {
	if url == "" || dest == "" {
		return "", errors.New("download: url and dest are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &downloadTask{
		progress: DownloadProgress{
			ID:        uuid.NewString(),
			URL:       url,
			Dest:      dest,
			State:     DownloadRunning,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.tasks[task.progress.ID] = task
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, task)
	return task.progress.ID, nil
}

// Cancel stops a running task. Finished tasks are left untouched.
func (m *DownloadManager) Cancel(id string) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("download %q: %w", id, mcpmgr.ErrNotFound)
	}
	task.cancel()
	return nil
}

// Wait blocks until task id finishes or ctx ends.
func (m *DownloadManager) Wait(ctx context.Context, id string) (DownloadProgress, error) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return DownloadProgress{}, fmt.Errorf("download %q: %w", id, mcpmgr.ErrNotFound)
	}
	select {
	case <-task.done:
	case <-ctx.Done():
		return DownloadProgress{}, ctx.Err()
	}
	p, _ := m.Get(id)
	return p, nil
}

// Get returns the progress of one task.
func (m *DownloadManager) Get(id string) (DownloadProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return DownloadProgress{}, false
	}
	return task.progress, true
}

// List returns every task ordered by start time.
func (m *DownloadManager) List() []DownloadProgress {
	m.mu.Lock()
	out := make([]DownloadProgress, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task.progress)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Forget drops finished tasks from the table.
func (m *DownloadManager) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, task := range m.tasks {
		if task.progress.State != DownloadRunning {
			delete(m.tasks, id)
		}
	}
}

// CancelAll cancels every running task and waits for them to stop or for ctx
// to end.
func (m *DownloadManager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	for _, task := range m.tasks {
		task.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *DownloadManager) run(ctx context.Context, task *downloadTask) {
	defer m.wg.Done()
	defer close(task.done)
	defer task.cancel()

	err := m.fetch(ctx, task)
	m.mu.Lock()
	switch {
	case err == nil:
		task.progress.State = DownloadCompleted
	case ctx.Err() != nil:
		task.progress.State = DownloadCancelled
		task.progress.Error = context.Canceled.Error()
	default:
		task.progress.State = DownloadFailed
		task.progress.Error = err.Error()
	}
	p := task.progress
	m.mu.Unlock()
	m.logger.Info("download finished", "id", p.ID, "url", p.URL, "state", p.State, "bytes", p.Downloaded)
}

func (m *DownloadManager) fetch(ctx context.Context, task *downloadTask) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.progress.URL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	m.mu.Lock()
	task.progress.Total = resp.ContentLength
	m.mu.Unlock()

	dest := task.progress.Dest
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, &progressReader{r: resp.Body, add: func(n int) {
		m.mu.Lock()
		task.progress.Downloaded += int64(n)
		m.mu.Unlock()
	}})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

type progressReader struct {
	r   io.Reader
	add func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.add(n)
	}
	return n, err
}
