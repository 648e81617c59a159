// Package bundlewatcher translates filesystem events under a bundles root
// into coalesced per-tenant reload jobs, dispatched to a single worker that
// drives tenantregistry.Registry.ReloadTenant.
package bundlewatcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
)

// Reloader is the subset of tenantregistry.Registry the watcher drives.
type Reloader interface {
	ReloadTenant(ctx context.Context, tenantID string) error
}

// Watcher watches bundlesRoot recursively and dispatches debounced,
// per-tenant reloads.
type Watcher struct {
	root     string
	reloader Reloader
	debounce time.Duration
	log      *logging.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	timers   map[string]*time.Timer
	reloadCh chan string

	stop chan struct{}
	done chan struct{}
}

// New creates a watcher over root that dispatches reloads to reloader,
// coalescing repeat events for the same tenant within debounce.
func New(root string, reloader Reloader, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		root:     root,
		reloader: reloader,
		debounce: debounce,
		log:      logging.New("bundlewatcher"),
		fsw:      fsw,
		timers:   make(map[string]*time.Timer),
		reloadCh: make(chan string, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// Start runs the event loop and the single-threaded reload dispatcher
// until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	go w.dispatchLoop(ctx)
}

// Stop releases the underlying OS watch.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// If a new directory appeared (tenant onboarding), start watching it too.
	if ev.Op&fsnotify.Create != 0 {
		_ = w.fsw.Add(ev.Name)
	}

	tenantID := w.tenantFromPath(ev.Name)
	if tenantID == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[tenantID]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[tenantID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, tenantID)
		w.mu.Unlock()
		select {
		case w.reloadCh <- tenantID:
		case <-w.stop:
		}
	})
}

// tenantFromPath resolves the first path component relative to root as the
// tenant identifier.
func (w *Watcher) tenantFromPath(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}

func (w *Watcher) dispatchLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case tenantID := <-w.reloadCh:
			if err := w.reloader.ReloadTenant(ctx, tenantID); err != nil {
				w.log.Warn(logging.WithTenant(tenantID, "reload failed: %v"), err)
			}
		}
	}
}
