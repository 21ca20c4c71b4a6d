package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bnbong/bifrost/internal/observability"
)

// ReloadFunc is called with the watched path after it changed.
// A returned error is logged and the previous state is kept by the caller.
type ReloadFunc func(path string) error

// ErrorCallback is called when an error occurs during reload.
type ErrorCallback func(error)

// Watcher watches a single file for changes and triggers reloads.
//
// The parent directory is watched rather than the file itself so that
// atomic replacements (write to temp file, rename) are seen.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	reload        ReloadFunc
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// NewWatcher creates a new file watcher.
func NewWatcher(path string, reload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		reload:        reload,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching the file. It returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true

	w.logger.Info("started watching file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)

	return nil
}

// Stop stops watching the file and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("file watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = w.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			_ = w.ForceReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError("file watcher error", err)
		}
	}
}

// handleFileEvent processes a file system event and returns the updated debounce timer.
func (w *Watcher) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return debounceTimer, debounceCh
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return debounceTimer, debounceCh
	}

	w.logger.Debug("watched file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()),
	)

	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(w.debounceDelay)
	return debounceTimer, debounceTimer.C
}

func (w *Watcher) handleError(msg string, err error) {
	w.logger.Error(msg,
		observability.String("path", w.path),
		observability.Error(err),
	)
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

// ForceReload invokes the reload callback immediately.
func (w *Watcher) ForceReload() error {
	if w.reload == nil {
		return nil
	}

	w.logger.Info("reloading file",
		observability.String("path", w.path),
	)

	if err := w.reload(w.path); err != nil {
		w.handleError("reload failed, keeping current state", err)
		return err
	}

	w.logger.Info("file reloaded successfully",
		observability.String("path", w.path),
	)
	return nil
}
