package config

import (
	"time"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// Default values for configuration options.
const (
	DefaultQuarantineDir = ".deepclean-quarantine"
	DefaultStagingDir    = ".deepclean-staging"
	DefaultProofsDir     = ".deepclean-proofs"

	// DefaultSchedule runs the daemon every 30 minutes.
	DefaultSchedule = "*/30 * * * *"

	DefaultMaxCPUPercent = 50

	// DefaultDebounce is how long the watcher waits for quiet before a run.
	DefaultDebounce = 5 * time.Second
)

// DefaultRoots are the directories cleaned when none are configured.
var DefaultRoots = []string{".deepclean-demo"}

// DefaultAllowedActions lists the action kinds enabled out of the box.
var DefaultAllowedActions = []types.ActionKind{
	types.ActionClassify,
	types.ActionDedupe,
	types.ActionRename,
	types.ActionQuarantine,
	types.ActionUnzip,
}
