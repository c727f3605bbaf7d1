// Package pipeline runs one complete deepclean pass over a root: plan,
// execute, and seal the outcome into a proof bundle.
//
// A run that starts executing always ends with a sealed bundle. If the
// context is cancelled mid-execution the remaining actions are skipped,
// but the tree snapshot and sealing still happen and the manifest is
// marked incomplete.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/executor"
	"github.com/jamesainslie/deepclean/pkg/deepclean/history"
	"github.com/jamesainslie/deepclean/pkg/deepclean/ids"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/planner"
	"github.com/jamesainslie/deepclean/pkg/deepclean/policy"
	"github.com/jamesainslie/deepclean/pkg/deepclean/power"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// SkipOnBattery is the skip reason recorded when the policy forbids running
// on battery power.
const SkipOnBattery = "host is running on battery power"

// Options configures a Runner. Config is required; zero values elsewhere
// select production defaults.
type Options struct {
	Config     config.RunConfig
	PolicyPath string

	// LockDir holds per-root lock files. Empty uses $XDG_STATE_HOME/deepclean/locks.
	LockDir string

	// History, when set, receives a record for every sealed run.
	History *history.Store

	Power   power.Source
	Clock   clock.Clock
	IDs     ids.Generator
	Logger  logging.Logger
	Version string
}

// RunOptions selects per-run behavior.
type RunOptions struct {
	DryRun bool
}

// Outcome is what a run produced.
type Outcome struct {
	Plan       *types.ActionPlan
	Results    []types.ActionResult
	Bundle     *bundle.Bundle
	BundlePath string
	BundleHash string
	Anchor     *bundle.AnchorRequest
	Record     *history.Record

	Skipped    bool
	SkipReason string

	// Warnings are non-fatal problems, such as a failed history write.
	Warnings []string
}

// Runner executes pipeline runs.
type Runner struct {
	cfg        config.RunConfig
	policyPath string
	lockDir    string
	history    *history.Store
	power      power.Source
	clock      clock.Clock
	logger     logging.Logger
	planner    *planner.Planner
	builder    *bundle.Builder
}

// New creates a Runner.
func New(opts Options) *Runner {
	r := &Runner{
		cfg:        opts.Config,
		policyPath: opts.PolicyPath,
		lockDir:    opts.LockDir,
		history:    opts.History,
		power:      opts.Power,
		clock:      opts.Clock,
		logger:     logging.OrDiscard(opts.Logger),
	}
	if r.clock == nil {
		r.clock = clock.Real{}
	}
	if r.power == nil {
		r.power = power.Default()
	}
	if r.lockDir == "" {
		r.lockDir = filepath.Join(config.StateDir(), "locks")
	}
	r.planner = planner.New(planner.Options{
		Clock:   r.clock,
		IDs:     opts.IDs,
		Logger:  r.logger,
		Workers: opts.Config.Workers(),
	})
	r.builder = bundle.New(bundle.Options{
		Clock:   r.clock,
		Logger:  r.logger,
		Version: opts.Version,
	})
	return r
}

// Plan generates a dry-run plan for root without touching anything.
func (r *Runner) Plan(ctx context.Context, root string) (*types.ActionPlan, error) {
	return r.planner.Generate(ctx, root, r.cfg, r.policyPath, true)
}

// Run performs a full pass over root. Planning and sealing failures are
// returned as errors. When execution is cancelled the returned Outcome
// carries the sealed partial run alongside the context error.
func (r *Runner) Run(ctx context.Context, root string, opts RunOptions) (*Outcome, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	if skip, reason := r.shouldSkip(); skip {
		r.logger.Info("run skipped", "root", abs, "reason", reason)
		return &Outcome{Skipped: true, SkipReason: reason}, nil
	}

	lock, err := lockRoot(r.lockDir, abs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.release() }()

	before, err := r.planner.FileTree(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("capturing file tree: %w", err)
	}

	plan, err := r.planner.Generate(ctx, abs, r.cfg, r.policyPath, opts.DryRun)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	if !plan.DryRun {
		for _, dir := range []string{r.cfg.QuarantineDir, r.cfg.StagingDir} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
	}

	var captured bytes.Buffer
	exec := executor.New(executor.Options{
		Logger: logging.Tee(r.logger, logging.NewWriterLogger(&captured, "executor", logging.LevelInfo)),
	})
	results, execErr := exec.Execute(ctx, plan)

	// sealing must finish even when the run was cancelled
	sealCtx := context.WithoutCancel(ctx)

	after, err := r.planner.FileTree(sealCtx, abs)
	if err != nil {
		return nil, fmt.Errorf("capturing file tree: %w", err)
	}

	manifest := r.builder.BuildManifest(plan, results, abs, before, after)
	sealed, err := r.builder.Create(sealCtx, manifest, r.cfg.ProofsDir, RunLog(captured.String(), results))
	if err != nil {
		return nil, fmt.Errorf("sealing proof bundle: %w", err)
	}

	anchor := sealed.AnchorRequest()
	out := &Outcome{
		Plan:       plan,
		Results:    results,
		Bundle:     sealed,
		BundlePath: sealed.Path,
		BundleHash: sealed.SHA256,
		Anchor:     &anchor,
	}

	if r.history != nil {
		rec, err := history.NewRecord(sealed)
		if err == nil {
			err = r.history.Put(rec)
		}
		if err != nil {
			r.logger.Warn("recording run in history", "run_id", plan.RunID, "error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("run not recorded in history: %v", err))
		} else {
			out.Record = rec
		}
	}

	r.logger.Info("run complete", "run_id", plan.RunID, "summary", sealed.Manifest.Summary, "bundle", sealed.Path)
	return out, execErr
}

func (r *Runner) shouldSkip() (bool, string) {
	pol := policy.Load(r.policyPath, r.logger)
	if !pol.Rules.SkipOnBattery {
		return false, ""
	}
	onBattery, err := r.power.OnBattery()
	if err != nil {
		r.logger.Warn("could not read power state", "error", err)
		return false, ""
	}
	if onBattery {
		return true, SkipOnBattery
	}
	return false, ""
}

// RunLog renders the log stored in a bundle: the captured executor log
// followed by one line per result, "[type] source → OK" or
// "[type] source → FAIL: error".
func RunLog(captured string, results []types.ActionResult) string {
	lines := make([]string, 0, len(results)+1)
	if text := strings.TrimRight(captured, "\n"); text != "" {
		lines = append(lines, text)
	}
	for _, res := range results {
		status := "OK"
		if !res.Success {
			status = "FAIL: " + res.Error
		}
		lines = append(lines, fmt.Sprintf("[%s] %s → %s", res.Type, res.SourcePath, status))
	}
	return strings.Join(lines, "\n")
}
