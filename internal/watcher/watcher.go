package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"clause/internal/protocol"

	"github.com/fsnotify/fsnotify"
)

// File change kinds.
const (
	KindCreate = "create"
	KindModify = "modify"
	KindRemove = "remove"
)

// excludedDirs are never watched.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// ChangeCallback receives every file change under a watched root.
type ChangeCallback func(change protocol.FileChangePayload)

// Watcher monitors directory trees for file changes.
type Watcher struct {
	mu       sync.Mutex
	watchers map[string]*rootWatcher // root → watcher
	callback ChangeCallback
	logger   *slog.Logger
}

type rootWatcher struct {
	root      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
}

// New creates a new file system watcher.
func New(callback ChangeCallback, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watchers: make(map[string]*rootWatcher),
		callback: callback,
		logger:   logger,
	}
}

// Watch starts watching root and all its subdirectories. Watching a root
// that is already watched is a no-op.
func (w *Watcher) Watch(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	w.mu.Lock()
	_, exists := w.watchers[root]
	w.mu.Unlock()
	if exists {
		return nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return err
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if info.IsDir() {
		err = addDirsRecursive(fsW, root)
	} else {
		err = fsW.Add(root)
	}
	if err != nil {
		fsW.Close()
		return err
	}

	rw := &rootWatcher{
		root:      root,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	w.mu.Lock()
	if _, exists := w.watchers[root]; exists {
		w.mu.Unlock()
		fsW.Close()
		return nil
	}
	w.watchers[root] = rw
	w.mu.Unlock()

	go w.watchLoop(rw)

	w.logger.Info("watching directory", "root", root)
	return nil
}

// Unwatch stops watching root.
func (w *Watcher) Unwatch(root string) {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	w.mu.Lock()
	rw, ok := w.watchers[root]
	if ok {
		delete(w.watchers, root)
	}
	w.mu.Unlock()

	if ok {
		close(rw.cancel)
		rw.fsWatcher.Close()
		<-rw.done
	}
}

// Watching reports whether root is currently watched.
func (w *Watcher) Watching(root string) bool {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watchers[root]
	return ok
}

// watchLoop translates fsnotify events into change notifications.
func (w *Watcher) watchLoop(rw *rootWatcher) {
	defer close(rw.done)

	for {
		select {
		case <-rw.cancel:
			return

		case event, ok := <-rw.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					base := filepath.Base(event.Name)
					if !excludedDirs[base] && !isHidden(base) {
						if err := addDirsRecursive(rw.fsWatcher, event.Name); err != nil {
							w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
						}
					}
				}
			}

			kind, ok := changeKind(event.Op)
			if !ok {
				continue
			}
			if w.callback != nil {
				w.callback(protocol.FileChangePayload{Path: event.Name, Kind: kind})
			}

		case err, ok := <-rw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "root", rw.root, "error", err)
		}
	}
}

// changeKind maps an fsnotify operation to a change kind. Attribute-only
// changes are not reported.
func changeKind(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreate, true
	case op.Has(fsnotify.Remove):
		return KindRemove, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Rename):
		return KindModify, true
	default:
		return "", false
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	roots := make([]string, 0, len(w.watchers))
	for root := range w.watchers {
		roots = append(roots, root)
	}
	w.mu.Unlock()

	for _, root := range roots {
		w.Unwatch(root)
	}
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if excludedDirs[name] && path != dir {
			return filepath.SkipDir
		}
		if isHidden(name) && path != dir {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
