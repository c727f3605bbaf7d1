package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultMaxSize = 10 << 20
	dayLayout      = "2006-01-02"

	// backups sort lexically in creation order
	backupLayout = "20060102T150405.000000000"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize in bytes before the file is rotated. Zero means 10MiB.
	MaxSize int64

	// MaxAge in days for rotated files. Zero keeps them regardless of age.
	MaxAge int

	// MaxBackups is how many rotated files survive. Zero keeps all.
	MaxBackups int

	// Daily starts a new file on the first write of each day.
	Daily bool
}

// DefaultRotationConfig returns the rotation used when nothing is configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    defaultMaxSize,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

// RotatingWriter appends to a log file and moves it aside by size or day.
// Each write holds an exclusive flock on the file, so deepclean and
// deepcleand may log to the same path.
type RotatingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig

	f    *os.File
	size int64
	day  string
}

// NewRotatingWriter opens path for appending, creating it and its
// directory as needed, and drops stale backups.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.removeBackups()
	return w, nil
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	if w.due(len(p)) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	var n int
	err := withFlock(w.f, func() error {
		var werr error
		n, werr = w.f.Write(p)
		return werr
	})
	w.size += int64(n)
	return n, err
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing log file: %w", err)
	}
	return f.Close()
}

func withFlock(f *os.File, fn func() error) error {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking log file: %w", err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	if err := fn(); err != nil {
		return fmt.Errorf("writing log file: %w", err)
	}
	return nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f = f
	w.size = info.Size()
	w.day = info.ModTime().Format(dayLayout)
	return nil
}

func (w *RotatingWriter) due(n int) bool {
	if w.size > 0 && w.size+int64(n) > w.cfg.MaxSize {
		return true
	}
	return w.cfg.Daily && w.size > 0 && time.Now().Format(dayLayout) != w.day
}

func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	w.f = nil

	stem, ext := w.split()
	backup := stem + "." + time.Now().Format(backupLayout) + ext
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("moving log file aside: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.day = time.Now().Format(dayLayout)
	w.removeBackups()
	return nil
}

func (w *RotatingWriter) split() (stem, ext string) {
	ext = filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext), ext
}

// removeBackups deletes backups past MaxBackups, newest kept, and any
// older than MaxAge.
func (w *RotatingWriter) removeBackups() {
	stem, ext := w.split()
	backups, err := filepath.Glob(stem + ".*" + ext)
	if err != nil {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	cutoff := time.Now().AddDate(0, 0, -w.cfg.MaxAge)
	kept := 0
	for _, b := range backups {
		if b == w.path {
			continue
		}
		info, err := os.Stat(b)
		if err != nil || info.IsDir() {
			continue
		}
		expired := w.cfg.MaxAge > 0 && info.ModTime().Before(cutoff)
		if expired || (w.cfg.MaxBackups > 0 && kept >= w.cfg.MaxBackups) {
			_ = os.Remove(b)
			continue
		}
		kept++
	}
}
