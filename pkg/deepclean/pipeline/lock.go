package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/deepclean/pkg/deepclean/digest"
)

// ErrRunInProgress is returned when another run holds the lock for a root.
var ErrRunInProgress = errors.New("a run is already in progress for this root")

// rootLock is an advisory flock on a per-root lock file. The kernel drops
// it when the holder exits, so a crashed run never leaves a stale lock.
type rootLock struct {
	file *os.File
}

// LockPath returns the lock file used for root inside dir.
func LockPath(dir, root string) string {
	return filepath.Join(dir, digest.SHA256Bytes([]byte(root))[:16]+".lock")
}

func lockRoot(dir, root string) (*rootLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(LockPath(dir, root), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrRunInProgress, root)
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}

	// informational only
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+" "+root+"\n"), 0)

	return &rootLock{file: f}, nil
}

func (l *rootLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
