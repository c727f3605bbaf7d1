// Package client starts, stops and inspects the deepcleand daemon from
// the CLI. The daemon has no RPC surface; control goes through its PID
// file, its status file, and signals.
package client

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jamesainslie/deepclean/pkg/daemon"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
)

// BinaryName is the daemon executable looked up when no path is configured.
const BinaryName = "deepcleand"

// ErrNotRunning is returned by Status when no daemon owns the PID file.
var ErrNotRunning = errors.New("daemon is not running")

// DaemonPaths locates a daemon instance.
type DaemonPaths struct {
	PID    string
	Config string
	Binary string
}

func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.PID == "" {
		p.PID = DefaultPIDPath()
	}
	return p
}

// DefaultPIDPath returns the PID file used when none is configured.
func DefaultPIDPath() string {
	return config.Default().PIDPath()
}

// poll intervals, overridden in tests
var (
	pollInterval = 100 * time.Millisecond
	startTimeout = 5 * time.Second
	stopTimeout  = 10 * time.Second
)

// EnsureDaemon starts the daemon if it is not already running.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StartDaemon launches deepcleand in the background and waits for it to
// write its status file. Idempotent: returns nil if the daemon is running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", BinaryName, err)
	}

	statusPath := daemon.StatusPath(paths.PID)
	_ = os.Remove(statusPath)

	args := []string{"--pid-file", paths.PID}
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// exec.Command, not CommandContext: the daemon must outlive the caller.
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is validated
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		status, err := daemon.ReadStatus(statusPath)
		if err != nil {
			continue
		}
		if status.State == daemon.StateError && status.Runs == 0 {
			return fmt.Errorf("daemon failed to start: %s", status.LastError)
		}
		return nil
	}

	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon sends SIGTERM and waits for the PID file to go away.
// Idempotent: returns nil if the daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if !daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	pid, err := daemon.ReadPIDFile(paths.PID)
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		if !daemon.IsDaemonRunning(paths.PID) {
			return nil
		}
	}

	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// Status returns the state the running daemon last recorded.
func Status(paths DaemonPaths) (*daemon.StatusFile, error) {
	paths = paths.withDefaults()

	if !daemon.IsDaemonRunning(paths.PID) {
		return nil, ErrNotRunning
	}
	status, err := daemon.ReadStatus(daemon.StatusPath(paths.PID))
	if err != nil {
		return nil, fmt.Errorf("read status file: %w", err)
	}
	return status, nil
}

// resolveBinary finds the deepcleand binary.
// Priority: configured path > same directory as executable > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), BinaryName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	return "", errors.New(BinaryName + " not found")
}
