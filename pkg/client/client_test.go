package client

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deepclean/pkg/daemon"
)

func TestResolveBinaryConfigured(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, BinaryName)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := resolveBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = resolveBinary(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStatusNotRunning(t *testing.T) {
	paths := DaemonPaths{PID: filepath.Join(t.TempDir(), "deepcleand.pid")}

	_, err := Status(paths)
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestStatusReadsStatusFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "deepcleand.pid")
	require.NoError(t, daemon.WritePIDFile(pidPath))
	require.NoError(t, daemon.WriteStatus(daemon.StatusPath(pidPath), &daemon.StatusFile{
		State: daemon.StateIdle,
		PID:   os.Getpid(),
		Runs:  3,
	}))

	status, err := Status(DaemonPaths{PID: pidPath})
	require.NoError(t, err)
	assert.Equal(t, daemon.StateIdle, status.State)
	assert.Equal(t, 3, status.Runs)
}

func TestStopDaemonNotRunning(t *testing.T) {
	paths := DaemonPaths{PID: filepath.Join(t.TempDir(), "deepcleand.pid")}
	assert.NoError(t, StopDaemon(paths))
}

func TestStopDaemonSignalsProcess(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	cmd := exec.Command(sleep, "30")
	require.NoError(t, cmd.Start())
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	pidPath := filepath.Join(t.TempDir(), "deepcleand.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644))

	pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { pollInterval = 100 * time.Millisecond })

	require.NoError(t, StopDaemon(DaemonPaths{PID: pidPath}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not terminated")
	}
}

func TestStartDaemonAlreadyRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "deepcleand.pid")
	require.NoError(t, daemon.WritePIDFile(pidPath))

	assert.NoError(t, StartDaemon(DaemonPaths{PID: pidPath, Binary: "/nonexistent"}))
}

func TestStartDaemonMissingBinary(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "deepcleand.pid")

	err := StartDaemon(DaemonPaths{PID: pidPath, Binary: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}
