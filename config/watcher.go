package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherRunning is returned by Watch when it is already running.
var ErrWatcherRunning = errors.New("watcher already running")

// Watcher reloads a configuration file whenever it changes. The directory
// is watched rather than the file so editors that replace the file are seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	onReload func(*Config)
	timer    *time.Timer
	stopCh   chan struct{}
	doneCh   chan struct{}
	path     string
	debounce time.Duration
	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger for reload reports.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher for path. onReload receives every
// configuration that loads and validates; invalid files are logged and
// skipped.
func NewWatcher(path string, onReload func(*Config), opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		logger:   zap.NewNop(),
		onReload: onReload,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch blocks until ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.doneCh)

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}
	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped", zap.Error(ctx.Err()))
			return nil
		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file event", zap.String("op", event.Op.String()))
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			// Keep watching; fsnotify errors are usually transient overflows.
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		w.logger.Error("config reload failed", zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.onReload(cfg)
}

// Stop ends Watch and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		running := w.running
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		if running {
			<-w.doneCh
		}
		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
	})
	return err
}
