// Package types provides the core data types for the deepclean pipeline.
// It includes file descriptors produced by planning, the action plan itself,
// per-action execution results, and the proof manifest sealed at the end of
// a run, along with small helpers for formatting sizes.
package types

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
)

// Category is the semantic class of a file, derived from its extension.
type Category string

// File categories.
const (
	CategoryArchive    Category = "archive"
	CategoryMedia      Category = "media"
	CategoryCode       Category = "code"
	CategoryDocument   Category = "document"
	CategoryExecutable Category = "executable"
	CategoryUnknown    Category = "unknown"
)

// Categories lists every category in the order reports use.
var Categories = []Category{
	CategoryArchive,
	CategoryMedia,
	CategoryCode,
	CategoryDocument,
	CategoryExecutable,
	CategoryUnknown,
}

// ActionKind identifies what the executor does with a file.
type ActionKind string

// Action kinds. ActionClassify is accepted in allow-lists for compatibility
// with existing configuration files but is never planned.
const (
	ActionQuarantine ActionKind = "quarantine"
	ActionDedupe     ActionKind = "dedupe"
	ActionRename     ActionKind = "rename"
	ActionUnzip      ActionKind = "unzip"
	ActionSkip       ActionKind = "skip"
	ActionReport     ActionKind = "report"
	ActionClassify   ActionKind = "classify"
)

// FileDescriptor captures a file's state at planning time.
// The SHA256 field is the digest of the full content when the file was read.
type FileDescriptor struct {
	// Path is the absolute path to the file.
	Path string `json:"path"`

	// RelativePath is the path relative to the scan root.
	RelativePath string `json:"relativePath"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// ModTime is the last modification time of the file.
	ModTime time.Time `json:"mtime"`

	// SHA256 is the hex-encoded content digest.
	SHA256 string `json:"sha256"`

	// Category is the semantic category of the file.
	Category Category `json:"category"`

	// Suspicious is set when the classifier flagged the file.
	Suspicious bool `json:"suspicious"`

	// SuspiciousReason explains why the file was flagged.
	SuspiciousReason string `json:"suspiciousReason,omitempty"`
}

// HumanSize returns the file size formatted as a human-readable string.
func (f FileDescriptor) HumanSize() string {
	return FormatSize(f.Size)
}

// PlannedAction is a single step of an ActionPlan.
type PlannedAction struct {
	ID         string         `json:"id"`
	Type       ActionKind     `json:"type"`
	SourcePath string         `json:"sourcePath"`
	TargetPath string         `json:"targetPath,omitempty"`
	Reason     string         `json:"reason"`
	FileInfo   FileDescriptor `json:"fileInfo"`
}

// ActionPlan is the ordered, immutable output of the planner.
type ActionPlan struct {
	RunID         string          `json:"runId"`
	Timestamp     time.Time       `json:"timestamp"`
	PolicyVersion string          `json:"policyVersion"`
	PolicyHash    string          `json:"policyHash"`
	RootPath      string          `json:"rootPath"`
	DryRun        bool            `json:"dryRun"`
	Actions       []PlannedAction `json:"actions"`
	FileCount     int             `json:"fileCount"`
	PlanHash      string          `json:"planHash"`
	Summary       string          `json:"summary"`
}

// CountByKind returns how many actions of each kind the plan contains.
func (p *ActionPlan) CountByKind() map[ActionKind]int {
	counts := make(map[ActionKind]int)
	for _, a := range p.Actions {
		counts[a.Type]++
	}
	return counts
}

// FileMeta is a point-in-time snapshot of a file taken by the executor.
type FileMeta struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	SHA256  string    `json:"sha256"`
}

// ActionResult records the outcome of executing one PlannedAction.
type ActionResult struct {
	ActionID   string     `json:"actionId"`
	Type       ActionKind `json:"type"`
	Success    bool       `json:"success"`
	SourcePath string     `json:"sourcePath"`
	TargetPath string     `json:"targetPath,omitempty"`
	Reason     string     `json:"reason"`
	Error      string     `json:"error,omitempty"`
	BeforeMeta *FileMeta  `json:"beforeMeta,omitempty"`
	AfterMeta  *FileMeta  `json:"afterMeta,omitempty"`
}

// CountSucceeded returns the number of successful results.
func CountSucceeded(results []ActionResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

// Environment describes the host that produced a proof bundle.
type Environment struct {
	OS           string            `json:"os"`
	GoVersion    string            `json:"goVersion"`
	ToolVersions map[string]string `json:"toolVersions"`
}

// ProofManifest documents a run: what was planned, what happened, and the
// directory state before and after. BundleSHA256 is empty in the copy that
// gets packaged and is filled in once the archive digest is known.
type ProofManifest struct {
	RunID           string          `json:"runId"`
	StartTimestamp  time.Time       `json:"startTimestamp"`
	EndTimestamp    time.Time       `json:"endTimestamp"`
	PolicyVersion   string          `json:"policyVersion"`
	PolicyHash      string          `json:"policyHash"`
	PlanHash        string          `json:"planHash"`
	RootPath        string          `json:"rootPath"`
	DryRun          bool            `json:"dryRun"`
	Complete        bool            `json:"complete"`
	Environment     Environment     `json:"environment"`
	PlannedActions  []PlannedAction `json:"plannedActions"`
	ExecutedActions []ActionResult  `json:"executedActions"`
	FileTreeBefore  []string        `json:"fileTreeBefore"`
	FileTreeAfter   []string        `json:"fileTreeAfter"`
	BundleSHA256    string          `json:"bundleSha256"`
	Summary         string          `json:"summary"`
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
