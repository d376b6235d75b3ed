package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/microapp/internal/logging"
)

// ErrAlreadyWatching is returned by Watch while another Watch runs.
var ErrAlreadyWatching = errors.New("config watcher already running")

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc receives every configuration that loaded and validated after a
// change to the watched file.
type ReloadFunc func(ctx context.Context, cfg *Config)

// Watcher reloads a configuration file when it changes. Invalid revisions are
// logged and skipped, so the last good configuration stays in effect.
type Watcher struct {
	path      string
	envPrefix string
	debounce  time.Duration
	logger    logging.Logger
	watching  atomic.Bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before it is reloaded.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logging.OrDiscard(logger) }
}

// WithEnvPrefix applies environment overrides to every reload.
func WithEnvPrefix(prefix string) WatcherOption {
	return func(w *Watcher) { w.envPrefix = prefix }
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsWatching reports whether Watch is running.
func (w *Watcher) IsWatching() bool {
	return w.watching.Load()
}

// Watch blocks until ctx ends, calling onReload after each change. The
// directory is watched rather than the file so that editors replacing the
// file by rename are followed.
func (w *Watcher) Watch(ctx context.Context, onReload ReloadFunc) error {
	if !w.watching.CompareAndSwap(false, true) {
		return ErrAlreadyWatching
	}
	defer w.watching.Store(false)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.logger.Info("Watching configuration", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Configuration watcher error", "path", w.path, "error", err)
		case <-timer.C:
			cfg, err := LoadFile(w.path, w.envPrefix)
			if err != nil {
				w.logger.Error("Ignoring invalid configuration", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("Configuration reloaded", "path", w.path, "apps", len(cfg.Apps))
			onReload(ctx, cfg)
		}
	}
}
