// Package walker enumerates regular files under a root directory using
// fastwalk. Traversal is parallel but results are always returned in
// lexical order of their slash-separated relative paths, which is the
// canonical order the planner and the proof bundle depend on.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/deepclean/pkg/deepclean/classifier"
)

// alwaysExcluded are directory names that are never descended into,
// regardless of the configured skip patterns.
var alwaysExcluded = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Options configures a walk.
type Options struct {
	// SkipPatterns are substrings matched against each entry's
	// slash-separated path relative to the root. A matching directory is
	// pruned along with everything below it.
	SkipPatterns []string

	// Workers is the number of fastwalk workers. Zero uses the fastwalk
	// default.
	Workers int
}

// Entry is a regular file found by Walk.
type Entry struct {
	// Path is the absolute path.
	Path string

	// RelPath is the path relative to the root, always slash-separated.
	RelPath string

	// Info is the lstat result captured during the walk.
	Info fs.FileInfo
}

// Walk returns every regular file under root. Symlinks are not followed.
// A root that does not exist yields no entries and no error. Any other
// error aborts the walk.
func Walk(ctx context.Context, root string, opts Options) ([]Entry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s: %w", abs, os.ErrInvalid)
	}

	conf := fastwalk.Config{
		Follow:     false,
		NumWorkers: opts.Workers,
	}

	var (
		mu      sync.Mutex
		entries []Entry
	)

	walkErr := fastwalk.Walk(&conf, abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == abs {
			return nil
		}

		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysExcluded[d.Name()] || classifier.ShouldSkip(rel, opts.SkipPatterns) {
				return fastwalk.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || classifier.ShouldSkip(rel, opts.SkipPatterns) {
			return nil
		}

		fi, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		mu.Lock()
		entries = append(entries, Entry{Path: path, RelPath: rel, Info: fi})
		mu.Unlock()
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", abs, walkErr)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
	return entries, nil
}

// RelPaths returns the relative paths of entries in order.
func RelPaths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}
