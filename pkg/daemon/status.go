package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Daemon states recorded in the status file.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateError   = "error"
)

// StatusFile is the daemon state written next to the PID file so the CLI
// can report on it without talking to the process.
type StatusFile struct {
	State     string    `json:"state" yaml:"state"`
	PID       int       `json:"pid" yaml:"pid"`
	StartedAt time.Time `json:"startedAt" yaml:"startedAt"`
	Roots     []string  `json:"roots" yaml:"roots"`
	Watching  bool      `json:"watching" yaml:"watching"`
	Interval  string    `json:"interval" yaml:"interval"`
	Runs      int       `json:"runs" yaml:"runs"`
	LastRunAt time.Time `json:"lastRunAt,omitempty" yaml:"lastRunAt,omitempty"`
	LastRunID string    `json:"lastRunId,omitempty" yaml:"lastRunId,omitempty"`
	LastError string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// WriteStatus atomically replaces the status file at path.
func WriteStatus(path string, status *StatusFile) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file.
func RemoveStatus(path string) error {
	return os.Remove(path)
}

// StatusPath returns the status file that belongs to a PID file.
func StatusPath(pidPath string) string {
	return strings.TrimSuffix(pidPath, filepath.Ext(pidPath)) + ".status"
}
