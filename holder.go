package haven

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder owns the live record of a configuration file. Get hands out the
// current record; Reload materializes the file again and swaps atomically,
// keeping the previous record whenever the new document fails to load.
type Holder[T any] struct {
	mu       sync.RWMutex
	current  *T
	onReload []func(*T)

	path string
	opts []Option
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewHolder loads path and holds the result. The same options apply to every
// subsequent reload.
func NewHolder[T any](path string, opts ...Option) (*Holder[T], error) {
	o := newOptions(opts)
	cfg, err := LoadFile[T](path, opts...)
	if err != nil {
		return nil, err
	}
	return &Holder[T]{current: cfg, path: path, opts: opts, log: o.logger}, nil
}

// Get returns the current record. Records are shared between callers; treat
// them as read-only and derive changed copies with Update.
func (h *Holder[T]) Get() *T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload materializes the file again and swaps the held record. On failure
// the previous record stays current and the error is returned.
func (h *Holder[T]) Reload() error {
	cfg, err := LoadFile[T](h.path, h.opts...)
	if err != nil {
		return fmt.Errorf("reload %s: %w", h.path, err)
	}
	h.mu.Lock()
	h.current = cfg
	callbacks := append([]func(*T){}, h.onReload...)
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// OnReload registers a callback invoked with the new record after every
// successful reload.
func (h *Holder[T]) OnReload(fn func(*T)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

// Watch starts reloading when the file changes on disk. The parent directory
// is watched rather than the file itself so rename-based atomic writes are
// seen.
func (h *Holder[T]) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	stop := make(chan struct{})
	h.mu.Lock()
	h.watcher = watcher
	h.stopCh = stop
	h.mu.Unlock()
	go h.watchLoop(watcher, stop)
	h.log.Info().Str("path", h.path).Msg("watching configuration file")
	return nil
}

// watchLoop receives the watcher and stop channel as locals so Close can
// clear the Holder's fields without racing the loop.
func (h *Holder[T]) watchLoop(watcher *fsnotify.Watcher, stop chan struct{}) {
	base := filepath.Base(h.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.log.Debug().Str("event", event.Op.String()).Msg("configuration file changed")
			if err := h.Reload(); err != nil {
				h.log.Error().Err(err).Msg("reload failed, keeping previous configuration")
				continue
			}
			h.log.Info().Str("path", h.path).Msg("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.log.Error().Err(err).Msg("watcher error")
		case <-stop:
			return
		}
	}
}

// Close stops watching. The held record stays readable afterwards.
func (h *Holder[T]) Close() error {
	h.mu.Lock()
	watcher, stop := h.watcher, h.stopCh
	h.watcher, h.stopCh = nil, nil
	h.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
