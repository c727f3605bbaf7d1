package planner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/ids"
	"github.com/jamesainslie/deepclean/pkg/deepclean/planner"
	"github.com/jamesainslie/deepclean/pkg/deepclean/policy"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newPlanner() *planner.Planner {
	return planner.New(planner.Options{
		Clock: clock.NewFake(fixedTime),
		IDs:   ids.NewSequence("id"),
	})
}

func runConfig(base string, allowed ...types.ActionKind) config.RunConfig {
	if len(allowed) == 0 {
		allowed = config.DefaultAllowedActions
	}
	return config.RunConfig{
		QuarantineDir:  filepath.Join(base, "quarantine"),
		StagingDir:     filepath.Join(base, "staging"),
		ProofsDir:      filepath.Join(base, "proofs"),
		AllowedActions: allowed,
	}
}

func writeFile(t *testing.T, root, rel, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func actionsFor(plan *types.ActionPlan, source string) []types.PlannedAction {
	var out []types.PlannedAction
	for _, a := range plan.Actions {
		if a.SourcePath == source {
			out = append(out, a)
		}
	}
	return out
}

func countKind(plan *types.ActionPlan, kind types.ActionKind) int {
	return plan.CountByKind()[kind]
}

func TestGenerateDedupeThreeIdenticalFiles(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	mtime := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a := writeFile(t, root, "a.txt", "duplicate", mtime)
	b := writeFile(t, root, "b.txt", "duplicate", mtime)
	c := writeFile(t, root, "c.txt", "duplicate", mtime)

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base), "", true)
	require.NoError(t, err)

	assert.Equal(t, 2, countKind(plan, types.ActionDedupe))
	assert.Empty(t, filterKind(actionsFor(plan, a), types.ActionDedupe), "first occurrence is never deduped")

	for _, src := range []string{b, c} {
		dd := filterKind(actionsFor(plan, src), types.ActionDedupe)
		require.Len(t, dd, 1)
		assert.Equal(t, "Duplicate of a.txt", dd[0].Reason)
		assert.Equal(t, filepath.Join(base, "quarantine", "dupes", filepath.Base(src)), dd[0].TargetPath)
		assert.Len(t, actionsFor(plan, src), 1, "dedupe stops further rules")
	}

	renames := filterKind(actionsFor(plan, a), types.ActionRename)
	require.Len(t, renames, 1)
	assert.Equal(t, filepath.Join(root, "2024-01-02_a.txt"), renames[0].TargetPath)
	assert.Equal(t, "Rename with date prefix: 2024-01-02_a.txt", renames[0].Reason)
}

func filterKind(actions []types.PlannedAction, kind types.ActionKind) []types.PlannedAction {
	var out []types.PlannedAction
	for _, a := range actions {
		if a.Type == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestGenerateQuarantineStopsProcessing(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	src := writeFile(t, root, "mail/invoice.pdf.exe", "MZ", fixedTime)

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base), "", true)
	require.NoError(t, err)

	got := actionsFor(plan, src)
	require.Len(t, got, 1)
	assert.Equal(t, types.ActionQuarantine, got[0].Type)
	assert.Equal(t, filepath.Join(base, "quarantine", "mail", "invoice.pdf.exe"), got[0].TargetPath)
	assert.Equal(t, "Double extension detected: invoice.pdf.exe", got[0].Reason)
	assert.True(t, got[0].FileInfo.Suspicious)
}

func TestGenerateSuspiciousNotAllowedGetsNothing(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	writeFile(t, root, "invoice.pdf.exe", "MZ", fixedTime)

	plan, err := newPlanner().Generate(context.Background(), root,
		runConfig(base, types.ActionRename, types.ActionDedupe), "", true)
	require.NoError(t, err)
	assert.Empty(t, plan.Actions)
	assert.Equal(t, 1, plan.FileCount)
}

func TestGenerateUnzipBeforeRename(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	src := writeFile(t, root, "photos.zip", "PK", time.Date(2023, 7, 9, 12, 0, 0, 0, time.UTC))

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base), "", false)
	require.NoError(t, err)

	got := actionsFor(plan, src)
	require.Len(t, got, 2)
	assert.Equal(t, types.ActionUnzip, got[0].Type)
	assert.Equal(t, filepath.Join(base, "staging", "photos"), got[0].TargetPath)
	assert.Equal(t, types.ActionRename, got[1].Type)
	assert.Equal(t, filepath.Join(root, "2023-07-09_photos.zip"), got[1].TargetPath)
	assert.False(t, plan.DryRun)
}

func TestGenerateSanitizesNames(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	src := writeFile(t, root, "my report (final).txt", "x", time.Date(2022, 12, 31, 23, 0, 0, 0, time.UTC))

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base), "", true)
	require.NoError(t, err)

	got := actionsFor(plan, src)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(root, "2022-12-31_my_report__final_.txt"), got[0].TargetPath)
}

func TestGenerateHonorsAllowList(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	writeFile(t, root, "a.txt", "same", fixedTime)
	writeFile(t, root, "b.txt", "same", fixedTime)
	writeFile(t, root, "c.tar.gz", "archive", fixedTime)

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base, types.ActionClassify), "", true)
	require.NoError(t, err)
	assert.Empty(t, plan.Actions)
	assert.Equal(t, 3, plan.FileCount)
	assert.Equal(t, "Plan: 0 actions across 3 files in "+root, plan.Summary)
}

func TestGenerateHonorsPolicyFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	writeFile(t, root, "a.txt", "same", fixedTime)
	writeFile(t, root, "b.txt", "same", fixedTime)
	writeFile(t, root, "scratch/c.txt", "other", fixedTime)

	pol := policy.Default()
	pol.Version = "9.9.9"
	pol.Rules.RenameWithDatePrefix = false
	pol.Rules.SkipPatterns = []string{"scratch"}
	policyPath := filepath.Join(base, "policy.json")
	require.NoError(t, policy.Write(policyPath, pol))

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base), policyPath, true)
	require.NoError(t, err)

	assert.Equal(t, "9.9.9", plan.PolicyVersion)
	want, err := policy.Fingerprint(pol)
	require.NoError(t, err)
	assert.Equal(t, want, plan.PolicyHash)
	assert.Equal(t, 2, plan.FileCount)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, types.ActionDedupe, plan.Actions[0].Type)
}

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	writeFile(t, root, "z.txt", "1", fixedTime)
	writeFile(t, root, "a/b.zip", "2", fixedTime)
	writeFile(t, root, "a/c.txt", "1", fixedTime)
	writeFile(t, root, "m.pdf.exe", "3", fixedTime)

	p1, err := planner.New(planner.Options{}).Generate(context.Background(), root, runConfig(base), "", true)
	require.NoError(t, err)
	p2, err := planner.New(planner.Options{Workers: 1}).Generate(context.Background(), root, runConfig(base), "", true)
	require.NoError(t, err)

	assert.NotEqual(t, p1.RunID, p2.RunID)
	assert.Equal(t, p1.PlanHash, p2.PlanHash)
	require.Len(t, p2.Actions, len(p1.Actions))
	for i := range p1.Actions {
		assert.Equal(t, p1.Actions[i].Type, p2.Actions[i].Type)
		assert.Equal(t, p1.Actions[i].SourcePath, p2.Actions[i].SourcePath)
	}

	// canonical order: a/b.zip, a/c.txt, m.pdf.exe, z.txt
	assert.Equal(t, filepath.Join(root, "a", "b.zip"), p1.Actions[0].SourcePath)
	assert.Equal(t, filepath.Join(root, "z.txt"), p1.Actions[len(p1.Actions)-1].SourcePath)
}

func TestGenerateUsesInjectedClockAndIDs(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	writeFile(t, root, "a.txt", "a", fixedTime)

	plan, err := newPlanner().Generate(context.Background(), root, runConfig(base), "", true)
	require.NoError(t, err)

	assert.Equal(t, "id-0001", plan.RunID)
	assert.Equal(t, fixedTime, plan.Timestamp)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "id-0002", plan.Actions[0].ID)
	assert.Equal(t, policy.DefaultVersion, plan.PolicyVersion)
	assert.Len(t, plan.PlanHash, 64)
}

func TestGenerateMissingRoot(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	plan, err := newPlanner().Generate(context.Background(), filepath.Join(base, "absent"), runConfig(base), "", true)
	require.NoError(t, err)
	assert.Zero(t, plan.FileCount)
	assert.NotNil(t, plan.Actions)
	assert.Empty(t, plan.Actions)
}

func TestGenerateCancelled(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	writeFile(t, root, "a.txt", "a", fixedTime)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan, err := newPlanner().Generate(ctx, root, runConfig(base), "", true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, plan)
}

func TestFingerprintChangesWithActions(t *testing.T) {
	t.Parallel()

	plan := &types.ActionPlan{
		PolicyHash: "p",
		RootPath:   "/r",
		FileCount:  1,
		Actions: []types.PlannedAction{
			{ID: "x", Type: types.ActionRename, SourcePath: "/r/a", TargetPath: "/r/b", Reason: "r"},
		},
	}
	h1, err := planner.Fingerprint(plan)
	require.NoError(t, err)

	plan.Actions[0].ID = "y"
	plan.RunID = "other"
	h2, err := planner.Fingerprint(plan)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "ids do not affect the fingerprint")

	plan.Actions[0].TargetPath = "/r/c"
	h3, err := planner.Fingerprint(plan)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	plan.DryRun = true
	h4, err := planner.Fingerprint(plan)
	require.NoError(t, err)
	assert.NotEqual(t, h3, h4)
}

func TestFileTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "b.txt", "b", fixedTime)
	writeFile(t, root, "a/c.txt", "c", fixedTime)
	writeFile(t, root, ".deepclean-staging/x.txt", "x", fixedTime)
	writeFile(t, root, "node_modules/m.js", "m", fixedTime)

	tree, err := newPlanner().FileTree(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{".deepclean-staging/x.txt", "a/c.txt", "b.txt"}, tree)

	empty, err := newPlanner().FileTree(context.Background(), filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
