// Package quarantine moves files into and out of the quarantine directory.
// Nothing here deletes data: every operation on a file is a move, and a
// move never replaces an existing file. Each admitted file carries a hidden
// origin record so restore can tell quarantined files from duplicates.
package quarantine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/planner"
)

var (
	// ErrTargetExists is returned when a move would replace an existing path.
	ErrTargetExists = errors.New("target already exists")

	// ErrNotFound is returned when a quarantined file does not exist.
	ErrNotFound = errors.New("not found in quarantine")
)

// Move relocates src to dst, creating dst's parent directories. It uses
// rename(2) and falls back to copy, fsync and remove when src and dst are on
// different filesystems. It fails with ErrTargetExists if dst exists.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, ErrTargetExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking target: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("moving %s: %w", src, err)
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing source after copy: %w", err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("moving %s: is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", dst, ErrTargetExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("failed to sync destination: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close destination: %w", err)
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// originSuffix names the hidden record written beside each admitted file.
// The default skip patterns exclude ".deepclean-", so such names never
// come from a planned root.
const originSuffix = ".deepclean-origin"

// Origin records where a quarantined file came from.
type Origin struct {
	// RelPath is the slash-separated path relative to the root it left.
	RelPath   string `json:"relPath"`
	Source    string `json:"source"`
	Duplicate bool   `json:"duplicate"`
}

func originPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+originSuffix)
}

func isOriginFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, originSuffix)
}

func readOrigin(path string) (*Origin, error) {
	data, err := os.ReadFile(originPath(path))
	if err != nil {
		return nil, err
	}
	var o Origin
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing origin of %s: %w", path, err)
	}
	return &o, nil
}

// Admit moves src into quarantine at dst and records origin beside it.
// If the record cannot be written the file is moved back.
func Admit(src, dst string, origin Origin) error {
	data, err := json.Marshal(origin)
	if err != nil {
		return fmt.Errorf("encoding origin: %w", err)
	}
	if err := Move(src, dst); err != nil {
		return err
	}
	if err := os.WriteFile(originPath(dst), data, 0o644); err != nil {
		if rerr := Move(dst, src); rerr != nil {
			return errors.Join(fmt.Errorf("recording origin of %s: %w", dst, err), rerr)
		}
		return fmt.Errorf("recording origin of %s: %w", dst, err)
	}
	return nil
}

// Item is a file held in quarantine.
type Item struct {
	// RelPath is the slash-separated path inside the quarantine directory.
	RelPath string `json:"relPath" yaml:"relPath"`

	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mtime" yaml:"mtime"`

	// Duplicate is set for files moved by dedupe.
	Duplicate bool `json:"duplicate" yaml:"duplicate"`

	// Origin is the recorded path relative to the root the file left.
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// OriginalRelPath is where the item lived relative to its root. Files
// without an origin record are assumed to follow the planner's layout.
func (i Item) OriginalRelPath() string {
	if i.Origin != "" {
		return i.Origin
	}
	return strings.TrimPrefix(i.RelPath, planner.DupesDir+"/")
}

// itemFor describes the quarantined file at path, rel inside the store.
func itemFor(path, rel string, info fs.FileInfo) Item {
	it := Item{
		RelPath:   rel,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Duplicate: strings.HasPrefix(rel, planner.DupesDir+"/"),
	}
	if o, err := readOrigin(path); err == nil {
		it.Origin = o.RelPath
		it.Duplicate = o.Duplicate
	}
	return it
}

// Restored describes one restored file.
type Restored struct {
	RelPath string `json:"relPath" yaml:"relPath"`
	Target  string `json:"target" yaml:"target"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Store operates on a quarantine directory.
type Store struct {
	dir    string
	logger logging.Logger
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, logger logging.Logger) *Store {
	return &Store{dir: dir, logger: logging.OrDiscard(logger)}
}

// Dir returns the quarantine directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns every quarantined file sorted by path. A missing quarantine
// directory holds nothing.
func (s *Store) List() ([]Item, error) {
	var items []Item
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || isOriginFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		items = append(items, itemFor(path, filepath.ToSlash(rel), info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing quarantine: %w", err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].RelPath < items[j].RelPath })
	return items, nil
}

// Restore moves the quarantined file at rel back under root, at the path
// it was quarantined from. Duplicates return to their own original path.
func (s *Store) Restore(rel, root string) (string, error) {
	clean, err := validateRelPath(rel)
	if err != nil {
		return "", err
	}

	src := filepath.Join(s.dir, clean)
	info, err := os.Lstat(src)
	if errors.Is(err, fs.ErrNotExist) || isOriginFile(filepath.Base(clean)) {
		return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: not a regular file", rel)
	}

	item := itemFor(src, filepath.ToSlash(clean), info)
	original, err := validateRelPath(item.OriginalRelPath())
	if err != nil {
		return "", fmt.Errorf("%s: recorded origin: %w", rel, err)
	}
	target := filepath.Join(root, original)
	if err := Move(src, target); err != nil {
		return "", err
	}
	if err := os.Remove(originPath(src)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("removing origin record", "rel", item.RelPath, "error", err)
	}
	s.pruneEmptyParents(filepath.Dir(src))

	s.logger.Info("restored file", "rel", item.RelPath, "target", target)
	return target, nil
}

// RestoreAll restores every quarantined file. Failures are recorded per
// file and joined into the returned error; the remaining files are still
// restored.
func (s *Store) RestoreAll(root string) ([]Restored, error) {
	items, err := s.List()
	if err != nil {
		return nil, err
	}

	var (
		out  []Restored
		errs []error
	)
	for _, it := range items {
		target, err := s.Restore(it.RelPath, root)
		r := Restored{RelPath: it.RelPath, Target: target}
		if err != nil {
			r.Error = err.Error()
			errs = append(errs, err)
			s.logger.Warn("restore failed", "rel", it.RelPath, "error", err)
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

// pruneEmptyParents removes now-empty directories between dir and the
// quarantine root.
func (s *Store) pruneEmptyParents(dir string) {
	root := filepath.Clean(s.dir)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func validateRelPath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid path: empty or current directory")
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid path: must be relative, got %q", rel)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: path traversal not allowed in %q", rel)
	}
	return cleaned, nil
}
