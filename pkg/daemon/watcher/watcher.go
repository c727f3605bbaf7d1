// Package watcher reports files added under deepclean roots.
//
// Dotfiles, node_modules and deepclean's own .deepclean-* directories are
// ignored, matched against the path relative to the watched root so a root
// that is itself a dot directory can still be watched.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
)

// Watcher watches directory trees for new files.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  logging.Logger

	mu     sync.RWMutex
	roots  []string
	paths  map[string]bool
	closed bool
}

// New creates a new Watcher.
func New(logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher: fsw,
		logger:  logging.OrDiscard(logger),
		paths:   make(map[string]bool),
	}, nil
}

// Ignored reports whether rel, a path relative to a watched root, is
// excluded from watching.
func Ignored(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" || part == "." {
			continue
		}
		if strings.HasPrefix(part, ".") || part == "node_modules" {
			return true
		}
	}
	return false
}

// Watch starts watching root and every directory below it that is not
// ignored. Symlinks are not followed.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	w.mu.Lock()
	known := false
	for _, r := range w.roots {
		if r == absRoot {
			known = true
		}
	}
	if !known {
		w.roots = append(w.roots, absRoot)
	}
	w.mu.Unlock()

	return w.addTree(absRoot, absRoot, nil)
}

// addTree watches dir and its subdirectories, calling onFile for every
// regular file found when onFile is set.
func (w *Watcher) addTree(root, dir string, onFile func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip entries with errors
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err == nil && Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		if onFile != nil && d.Type().IsRegular() {
			onFile(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("failed to add watch", "path", path, "error", err)
		return err
	}

	w.paths[path] = true
	return nil
}

// Watched returns the number of directories being watched.
func (w *Watcher) Watched() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.paths)
}

// Run delivers added files to onAdd until ctx is done. New directories are
// watched as they appear and files already inside them are reported.
func (w *Watcher) Run(ctx context.Context, onAdd func(path string)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onAdd)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, onAdd func(string)) {
	root := w.rootOf(event.Name)
	if root == "" {
		return
	}
	if rel, err := filepath.Rel(root, event.Name); err == nil && Ignored(rel) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			return
		}
		switch {
		case info.IsDir():
			_ = w.addTree(root, event.Name, onAdd)
		case info.Mode().IsRegular():
			w.logger.Debug("file added", "path", event.Name)
			onAdd(event.Name)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.forget(event.Name)
	}
}

// rootOf returns the longest watched root containing path.
func (w *Watcher) rootOf(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	best := ""
	for _, r := range w.roots {
		if (path == r || isSubPath(path, r)) && len(r) > len(best) {
			best = r
		}
	}
	return best
}

// forget drops watches for a removed directory and everything below it.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for p := range w.paths {
		if p == path || isSubPath(p, path) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
