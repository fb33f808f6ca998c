package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is the quiet period after the last change before a
// reload is triggered.
const DefaultDebounceInterval = 250 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk and hands valid
// results to OnChange. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	onChange func(Config)
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	done      chan struct{}
	timer     *time.Timer
}

// NewWatcher prepares a watcher for path. Call Start to begin watching.
func NewWatcher(path string, logger *slog.Logger, onChange func(Config)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounceInterval,
	}
}

// Start watches the directory containing the config file, which also catches
// the rename performed by Save.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsWatcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsWatcher = watcher
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.processEvents(watcher.Events, watcher.Errors, w.stopCh, w.done)
	w.logger.Info("watching config", "path", w.path)
	return nil
}

// Stop ends watching and cancels a pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	watcher := w.fsWatcher
	stopCh, done := w.stopCh, w.done
	w.fsWatcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if watcher == nil {
		return nil
	}
	close(stopCh)
	err := watcher.Close()
	<-done
	return err
}

func (w *Watcher) processEvents(events <-chan fsnotify.Event, errs <-chan error, stopCh, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(w.path)
	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsWatcher == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	running := w.fsWatcher != nil
	w.mu.Unlock()
	if !running {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring config change", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
