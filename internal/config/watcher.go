package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "yomtov/internal/log"
)

// DefaultDebounce is how long the watcher waits after the last write before
// reloading.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc receives the previous and the reloaded config.
type ChangeFunc func(old, cur *Config)

// Watcher reloads the config file when it changes on disk. It watches the
// parent directory so atomic rename-over saves are seen.
type Watcher struct {
	path     string
	onChange ChangeFunc
	fsw      *fsnotify.Watcher

	// Debounce must be set before Run.
	Debounce time.Duration

	mu      sync.Mutex
	current *Config
}

func NewWatcher(path string, current *Config, onChange ChangeFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		onChange: onChange,
		fsw:      fsw,
		Debounce: DefaultDebounce,
		current:  current.Clone(),
	}, nil
}

// SetCurrent records a config the process itself saved, so the resulting
// file event is not reported as a change.
func (w *Watcher) SetCurrent(cfg *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = cfg.Clone()
}

// Current returns a copy of the last known config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.Clone()
}

// Run blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			appLog.Error("config watcher error", err, "path", w.path)
		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Read(w.path)
	if err != nil {
		// Mid-rename or a half-written file; the next event retries.
		appLog.Warn("config reload failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	if old.Equal(cfg) {
		w.mu.Unlock()
		return
	}
	w.current = cfg.Clone()
	w.mu.Unlock()

	appLog.Info("config changed on disk", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
