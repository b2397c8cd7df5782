// Package watcher observes vault roots and invalidates cached engines
// after change bursts settle.
//
// Explicit invalidation after mutating operations remains the contract;
// the watcher is an optional convenience layered on top so that edits made
// outside Temoa are picked up by the next query.
package watcher

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pborenstein/temoa/internal/store"
)

// DefaultDebounce is how long a vault must stay quiet before invalidation.
const DefaultDebounce = 500 * time.Millisecond

// Invalidator receives settled-change notifications.
type Invalidator interface {
	Invalidate(vaultName string)
}

// Watcher debounces filesystem events per vault.
type Watcher struct {
	fsw         *fsnotify.Watcher
	invalidator Invalidator
	debounce    time.Duration

	mu     sync.Mutex
	vaults map[string]string // root path -> vault name
	timers map[string]*time.Timer
	done   chan struct{}
}

// New creates a watcher that notifies inv after debounced change bursts.
func New(inv Invalidator, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:         fsw,
		invalidator: inv,
		debounce:    debounce,
		vaults:      make(map[string]string),
		timers:      make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WatchVault registers a vault root and its subdirectories.
func (w *Watcher) WatchVault(name, root string) error {
	w.mu.Lock()
	w.vaults[root] = name
	w.mu.Unlock()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		// The state directory churns during indexing; watching it would
		// invalidate the engine the indexer just refreshed.
		if d.Name() == store.StateDirName || strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Debug("watch_add_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// loop drains events, resetting each vault's debounce timer.
func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Debug("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for root, name := range w.vaults {
		if ev.Name != root && !strings.HasPrefix(ev.Name, root+string(filepath.Separator)) {
			continue
		}
		if strings.Contains(ev.Name, string(filepath.Separator)+store.StateDirName+string(filepath.Separator)) {
			continue
		}

		vaultName := name
		if timer, ok := w.timers[root]; ok {
			timer.Reset(w.debounce)
			continue
		}
		w.timers[root] = time.AfterFunc(w.debounce, func() {
			slog.Debug("vault_changed", slog.String("vault", vaultName))
			w.invalidator.Invalidate(vaultName)
			w.mu.Lock()
			delete(w.timers, root)
			w.mu.Unlock()
		})
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
