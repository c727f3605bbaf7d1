// Package planner turns a directory tree and a policy into an ordered,
// immutable ActionPlan.
//
// Files are visited in lexical order of their slash-separated relative
// path. For each file the rules apply in a fixed priority:
//
//  1. suspicious files are quarantined and nothing else happens to them
//  2. later copies of already-seen content are moved to quarantine/dupes
//  3. archives are extracted into the staging directory
//  4. files are renamed with their modification date as a prefix
//
// Rules 3 and 4 are not exclusive. When both apply the unzip action comes
// first so extraction reads the archive at its original path.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jamesainslie/deepclean/pkg/deepclean/classifier"
	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/digest"
	"github.com/jamesainslie/deepclean/pkg/deepclean/ids"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/policy"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
	"github.com/jamesainslie/deepclean/pkg/deepclean/walker"
)

// DupesDir is the quarantine subdirectory that receives duplicates.
const DupesDir = "dupes"

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Options configures a Planner. Zero values select production defaults.
type Options struct {
	Clock   clock.Clock
	IDs     ids.Generator
	Logger  logging.Logger
	Workers int
}

// Planner generates action plans.
type Planner struct {
	clock   clock.Clock
	ids     ids.Generator
	logger  logging.Logger
	workers int
}

// New creates a Planner.
func New(opts Options) *Planner {
	p := &Planner{
		clock:   opts.Clock,
		ids:     opts.IDs,
		logger:  logging.OrDiscard(opts.Logger),
		workers: opts.Workers,
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	if p.ids == nil {
		p.ids = ids.UUID{}
	}
	return p
}

// Generate builds the plan for root. Planning is fail-fast: any stat,
// read or enumeration error aborts and no plan is returned.
func (p *Planner) Generate(ctx context.Context, root string, cfg config.RunConfig, policyPath string, dryRun bool) (*types.ActionPlan, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	pol := policy.Load(policyPath, p.logger)
	policyHash, err := policy.Fingerprint(pol)
	if err != nil {
		return nil, err
	}
	runID := p.ids.NewID()

	p.logger.Info("generating plan", "run_id", runID, "root", abs, "policy_version", pol.Version, "dry_run", dryRun)

	entries, err := walker.Walk(ctx, abs, walker.Options{
		SkipPatterns: pol.Rules.SkipPatterns,
		Workers:      p.workers,
	})
	if err != nil {
		return nil, err
	}

	allowed := func(k types.ActionKind) bool { return policy.IsAllowed(k, cfg.AllowedActions) }
	seen := make(map[string]string)
	var actions []types.PlannedAction

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fd, err := describe(e, pol.Rules.QuarantineLargeExecutablesMB)
		if err != nil {
			return nil, err
		}

		if fd.Suspicious {
			if allowed(types.ActionQuarantine) {
				reason := fd.SuspiciousReason
				if reason == "" {
					reason = "Suspicious file"
				}
				actions = append(actions, p.action(types.ActionQuarantine, fd,
					filepath.Join(cfg.QuarantineDir, filepath.FromSlash(fd.RelativePath)), reason))
			}
			p.logger.Debug("suspicious file", "path", fd.RelativePath, "reason", fd.SuspiciousReason)
			continue
		}

		if pol.Rules.DedupeByContentHash && allowed(types.ActionDedupe) {
			if first, ok := seen[fd.SHA256]; ok {
				actions = append(actions, p.action(types.ActionDedupe, fd,
					filepath.Join(cfg.QuarantineDir, DupesDir, filepath.FromSlash(fd.RelativePath)),
					"Duplicate of "+filepath.Base(first)))
				continue
			}
			seen[fd.SHA256] = fd.Path
		}

		if fd.Category == types.CategoryArchive && pol.Rules.AutoUnzipArchives && allowed(types.ActionUnzip) {
			base := filepath.Base(fd.Path)
			base = strings.TrimSuffix(base, filepath.Ext(base))
			actions = append(actions, p.action(types.ActionUnzip, fd,
				filepath.Join(cfg.StagingDir, base), "Archive file, auto-unzip to staging"))
		}

		if pol.Rules.RenameWithDatePrefix && allowed(types.ActionRename) {
			base := filepath.Base(fd.Path)
			newName := DatePrefixedName(base, fd)
			if newName != base {
				actions = append(actions, p.action(types.ActionRename, fd,
					filepath.Join(filepath.Dir(fd.Path), newName), "Rename with date prefix: "+newName))
			}
		}
	}

	plan := &types.ActionPlan{
		RunID:         runID,
		Timestamp:     p.clock.Now(),
		PolicyVersion: pol.Version,
		PolicyHash:    policyHash,
		RootPath:      abs,
		DryRun:        dryRun,
		Actions:       actions,
		FileCount:     len(entries),
		Summary:       fmt.Sprintf("Plan: %d actions across %d files in %s", len(actions), len(entries), abs),
	}
	if plan.Actions == nil {
		plan.Actions = []types.PlannedAction{}
	}

	plan.PlanHash, err = Fingerprint(plan)
	if err != nil {
		return nil, err
	}

	p.logger.Info("plan ready", "run_id", runID, "actions", len(actions), "files", len(entries), "plan_hash", plan.PlanHash)
	return plan, nil
}

func (p *Planner) action(kind types.ActionKind, fd types.FileDescriptor, target, reason string) types.PlannedAction {
	return types.PlannedAction{
		ID:         p.ids.NewID(),
		Type:       kind,
		SourcePath: fd.Path,
		TargetPath: target,
		Reason:     reason,
		FileInfo:   fd,
	}
}

func describe(e walker.Entry, maxExecutableMB float64) (types.FileDescriptor, error) {
	sum, err := digest.SHA256File(e.Path)
	if err != nil {
		return types.FileDescriptor{}, err
	}
	s := classifier.IsSuspicious(e.Path, e.Info.Size(), maxExecutableMB)
	return types.FileDescriptor{
		Path:             e.Path,
		RelativePath:     e.RelPath,
		Size:             e.Info.Size(),
		ModTime:          e.Info.ModTime().UTC(),
		SHA256:           sum,
		Category:         classifier.Classify(e.Path),
		Suspicious:       s.Suspicious,
		SuspiciousReason: s.Reason,
	}, nil
}

// DatePrefixedName returns base prefixed with the file's UTC modification
// date and with characters outside [a-zA-Z0-9._-] replaced by underscores.
func DatePrefixedName(base string, fd types.FileDescriptor) string {
	return fd.ModTime.UTC().Format("2006-01-02") + "_" + unsafeNameChars.ReplaceAllString(base, "_")
}

// FileTree lists every regular file under dir as sorted slash-separated
// relative paths. Policy skip patterns are not applied; dependency and VCS
// directories are still excluded. A missing dir yields an empty list.
func (p *Planner) FileTree(ctx context.Context, dir string) ([]string, error) {
	entries, err := walker.Walk(ctx, dir, walker.Options{Workers: p.workers})
	if err != nil {
		return nil, err
	}
	return walker.RelPaths(entries), nil
}

type fingerprintAction struct {
	Type       types.ActionKind `json:"type"`
	SourcePath string           `json:"sourcePath"`
	TargetPath string           `json:"targetPath"`
	Reason     string           `json:"reason"`
	SHA256     string           `json:"sha256"`
}

type fingerprintDoc struct {
	PolicyHash string              `json:"policyHash"`
	RootPath   string              `json:"rootPath"`
	DryRun     bool                `json:"dryRun"`
	FileCount  int                 `json:"fileCount"`
	Actions    []fingerprintAction `json:"actions"`
}

// Fingerprint returns the plan hash: the hex SHA-256 of compact JSON over
// the policy hash, root, dry-run flag, file count and, in plan order, each
// action's type, source, target, reason and content hash. Run id,
// timestamp and action ids are left out so an unchanged tree and policy
// always produce the same fingerprint.
func Fingerprint(plan *types.ActionPlan) (string, error) {
	doc := fingerprintDoc{
		PolicyHash: plan.PolicyHash,
		RootPath:   filepath.ToSlash(plan.RootPath),
		DryRun:     plan.DryRun,
		FileCount:  plan.FileCount,
		Actions:    make([]fingerprintAction, len(plan.Actions)),
	}
	for i, a := range plan.Actions {
		doc.Actions[i] = fingerprintAction{
			Type:       a.Type,
			SourcePath: filepath.ToSlash(a.SourcePath),
			TargetPath: filepath.ToSlash(a.TargetPath),
			Reason:     a.Reason,
			SHA256:     a.FileInfo.SHA256,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("serializing plan: %w", err)
	}
	return digest.SHA256Bytes(data), nil
}
