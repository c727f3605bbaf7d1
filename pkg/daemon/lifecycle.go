// Package daemon runs deepclean in the background: it triggers pipeline
// runs on an interval and when new files appear under a watched root.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
)

// ErrDaemonAlreadyRunning means the PID file names a live process.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// badgerLock is the directory lock badger leaves behind after a crash.
const badgerLock = "LOCK"

// WritePIDFile records the current process in path, creating its
// directory. The file is replaced atomically.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadPIDFile returns the PID stored in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsDaemonRunning reports whether the PID file names a live process.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	return err == nil && IsProcessRunning(pid)
}

// IsProcessRunning probes pid with signal 0. A process owned by another
// user counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// RecoverFromStaleDaemon clears what a crashed daemon leaves behind: its
// PID file, its status file and the history index lock. It returns
// ErrDaemonAlreadyRunning when the recorded process is still alive, and
// nil when there is no readable PID file.
func RecoverFromStaleDaemon(pidPath, historyDir string, logger logging.Logger) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return nil //nolint:nilerr // nothing to recover
	}
	if IsProcessRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrDaemonAlreadyRunning, pid)
	}

	logging.OrDiscard(logger).Warn("cleaning up after stale daemon", "stale_pid", pid, "pid_file", pidPath)

	stale := []string{pidPath, StatusPath(pidPath)}
	if historyDir != "" {
		stale = append(stale, filepath.Join(historyDir, badgerLock))
	}
	for _, p := range stale {
		_ = os.Remove(p)
	}
	return nil
}
