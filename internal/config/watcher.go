package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alo17/secgateway/internal/observability"
)

// DefaultDebounceDelay coalesces the burst of events editors emit on save.
const DefaultDebounceDelay = 100 * time.Millisecond

// ChangeCallback receives each configuration that loaded and validated.
type ChangeCallback func(*Config)

// ErrorCallback receives load, validation and watch errors.
type ErrorCallback func(error)

// Watcher reloads the configuration file when it changes.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	onChange ChangeCallback
	onError  ErrorCallback
	logger   observability.Logger
	debounce time.Duration

	mu      sync.RWMutex
	last    *Config
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		if delay > 0 {
			w.debounce = delay
		}
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.onError = callback
	}
}

// NewWatcher creates a watcher for path. onChange runs on the watcher's
// goroutine.
func NewWatcher(path string, onChange ChangeCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		fs:       fsWatcher,
		onChange: onChange,
		logger:   observability.NopLogger(),
		debounce: DefaultDebounceDelay,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start loads the file once and then watches its directory, so editors
// that replace the file by rename are noticed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	cfg, err := w.load()
	if err != nil {
		return err
	}

	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.mu.Lock()
	w.last = cfg
	w.running = true
	w.mu.Unlock()

	w.logger.Info("watching configuration file",
		observability.String("path", w.path),
	)

	go w.loop(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fs.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	return w.fs.Close()
}

// Current returns the last configuration that loaded and validated.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", observability.Error(err))
			w.notifyError(err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}

// Reload loads the file immediately, outside the debounce loop.
func (w *Watcher) Reload() error {
	cfg, err := w.load()
	if err != nil {
		return err
	}
	w.apply(cfg)
	return nil
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("configuration reload rejected, keeping previous configuration",
			observability.String("path", w.path),
			observability.Error(err),
		)
		w.notifyError(err)
		return
	}

	w.logger.Info("configuration reloaded",
		observability.String("path", w.path),
	)
	w.apply(cfg)
}

func (w *Watcher) load() (*Config, error) {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (w *Watcher) apply(cfg *Config) {
	w.mu.Lock()
	w.last = cfg
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) notifyError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
