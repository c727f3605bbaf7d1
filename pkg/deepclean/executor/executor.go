// Package executor applies an ActionPlan to the filesystem.
//
// Actions run one at a time in plan order. A failing action is recorded and
// execution moves on to the next; nothing already applied is rolled back.
// Dry runs touch nothing and report every action as a success.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jamesainslie/deepclean/pkg/deepclean/digest"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/quarantine"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// DryRunPrefix is prepended to the reason of every dry-run result.
const DryRunPrefix = "[DRY RUN] "

// Options configures an Executor.
type Options struct {
	Logger logging.Logger
}

// Executor runs plans.
type Executor struct {
	logger logging.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	return &Executor{logger: logging.OrDiscard(opts.Logger)}
}

// Execute applies plan and returns one result per attempted action, in
// plan order. The context is checked before each action. When it is done,
// no further action is started and Execute returns the results gathered so
// far together with ctx.Err().
func (e *Executor) Execute(ctx context.Context, plan *types.ActionPlan) ([]types.ActionResult, error) {
	results := make([]types.ActionResult, 0, len(plan.Actions))

	if plan.DryRun {
		e.logger.Info("dry run, no actions will be executed", "run_id", plan.RunID, "actions", len(plan.Actions))
	}

	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("execution cancelled", "run_id", plan.RunID, "attempted", len(results), "planned", len(plan.Actions))
			return results, err
		}

		if plan.DryRun {
			results = append(results, types.ActionResult{
				ActionID:   action.ID,
				Type:       action.Type,
				Success:    true,
				SourcePath: action.SourcePath,
				TargetPath: action.TargetPath,
				Reason:     DryRunPrefix + action.Reason,
			})
			continue
		}

		results = append(results, e.apply(action))
	}

	return results, nil
}

// apply runs a single action and converts any failure into a failed result.
func (e *Executor) apply(action types.PlannedAction) types.ActionResult {
	result := types.ActionResult{
		ActionID:   action.ID,
		Type:       action.Type,
		SourcePath: action.SourcePath,
		TargetPath: action.TargetPath,
		Reason:     action.Reason,
		BeforeMeta: regularFileMeta(action.SourcePath),
	}

	if err := e.perform(action); err != nil {
		e.logger.Error("action failed", "id", action.ID, "type", action.Type, "source", action.SourcePath, "error", err)
		result.Error = err.Error()
		result.BeforeMeta = nil
		return result
	}

	final := action.TargetPath
	if final == "" {
		final = action.SourcePath
	}
	result.AfterMeta = regularFileMeta(final)
	result.Success = true

	e.logger.Info("action applied", "id", action.ID, "type", action.Type, "source", action.SourcePath, "target", action.TargetPath)
	return result
}

func (e *Executor) perform(action types.PlannedAction) error {
	switch action.Type {
	case types.ActionQuarantine, types.ActionDedupe:
		if action.TargetPath == "" {
			return nil
		}
		return quarantine.Admit(action.SourcePath, action.TargetPath, quarantine.Origin{
			RelPath:   action.FileInfo.RelativePath,
			Source:    action.SourcePath,
			Duplicate: action.Type == types.ActionDedupe,
		})

	case types.ActionRename:
		if action.TargetPath == "" {
			return nil
		}
		return rename(action.SourcePath, action.TargetPath)

	case types.ActionUnzip:
		if action.TargetPath == "" {
			return nil
		}
		return Extract(action.SourcePath, action.TargetPath)

	case types.ActionSkip, types.ActionReport, types.ActionClassify:
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// rename renames src to dst in place. It refuses to replace an existing dst.
func rename(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("rename source: %w", err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, quarantine.ErrTargetExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking target: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("renaming %s: %w", src, err)
	}
	return nil
}

// regularFileMeta returns size, mtime and digest for path, or nil when path
// is missing, not a regular file, or unreadable.
func regularFileMeta(path string) *types.FileMeta {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	meta, err := digest.Meta(path)
	if err != nil {
		return nil
	}
	return meta
}
