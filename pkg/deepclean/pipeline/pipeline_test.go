package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/history"
	"github.com/jamesainslie/deepclean/pkg/deepclean/ids"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/pipeline"
	"github.com/jamesainslie/deepclean/pkg/deepclean/policy"
	"github.com/jamesainslie/deepclean/pkg/deepclean/power"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

var (
	fixedTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	fileTime  = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
)

type fixture struct {
	root string
	cfg  config.RunConfig
	base string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))

	for name, content := range map[string]string{"a.txt": "same", "b.txt": "same"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(path, fileTime, fileTime))
	}

	return &fixture{
		root: root,
		base: base,
		cfg: config.RunConfig{
			QuarantineDir:  filepath.Join(base, "quarantine"),
			StagingDir:     filepath.Join(base, "staging"),
			ProofsDir:      filepath.Join(base, "proofs"),
			AllowedActions: config.DefaultAllowedActions,
		},
	}
}

func (f *fixture) runner(t *testing.T, mutate func(*pipeline.Options)) *pipeline.Runner {
	t.Helper()
	opts := pipeline.Options{
		Config:  f.cfg,
		LockDir: filepath.Join(f.base, "locks"),
		Power:   power.Static(false),
		Clock:   clock.NewFake(fixedTime),
		IDs:     ids.NewSequence("id"),
		Version: "test",
	}
	if mutate != nil {
		mutate(&opts)
	}
	return pipeline.New(opts)
}

func readZipFile(t *testing.T, path, name string) string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()
		var sb strings.Builder
		buf := make([]byte, 4096)
		for {
			n, err := rc.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
		return sb.String()
	}
	t.Fatalf("%s not found in %s", name, path)
	return ""
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t)
	store, err := history.Open(filepath.Join(f.base, "history"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	out, err := f.runner(t, func(o *pipeline.Options) { o.History = store }).
		Run(context.Background(), f.root, pipeline.RunOptions{DryRun: true})
	require.NoError(t, err)

	require.NotNil(t, out.Plan)
	assert.True(t, out.Plan.DryRun)
	assert.Equal(t, "id-0001", out.Plan.RunID)
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		assert.True(t, r.Success)
	}

	// nothing moved
	for _, name := range []string{"a.txt", "b.txt"} {
		assert.FileExists(t, filepath.Join(f.root, name))
	}
	assert.NoDirExists(t, f.cfg.QuarantineDir)

	// bundle sealed and committed
	sum, err := bundle.HashFile(out.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, sum, out.BundleHash)
	require.NotNil(t, out.Anchor)
	assert.Equal(t, out.Plan.PlanHash, out.Anchor.PlanFingerprint)
	assert.Equal(t, out.Plan.PolicyHash, out.Anchor.PolicyFingerprint)

	// history has the run
	require.NotNil(t, out.Record)
	rec, err := store.Get("id-0001")
	require.NoError(t, err)
	assert.Equal(t, sum, rec.BundleSHA256)
	assert.True(t, rec.Complete)

	log := readZipFile(t, out.BundlePath, bundle.LogFile)
	assert.Contains(t, log, "[rename] "+filepath.Join(f.root, "a.txt")+" → OK")
	assert.Contains(t, log, "[dedupe] "+filepath.Join(f.root, "b.txt")+" → OK")
}

func TestRunRealRun(t *testing.T) {
	f := newFixture(t)

	out, err := f.runner(t, nil).Run(context.Background(), f.root, pipeline.RunOptions{})
	require.NoError(t, err)

	require.Len(t, out.Plan.Actions, 2)
	assert.Equal(t, types.ActionRename, out.Plan.Actions[0].Type)
	assert.Equal(t, types.ActionDedupe, out.Plan.Actions[1].Type)
	assert.Equal(t, 2, types.CountSucceeded(out.Results))

	assert.FileExists(t, filepath.Join(f.root, "2025-01-02_a.txt"))
	assert.FileExists(t, filepath.Join(f.cfg.QuarantineDir, "dupes", "b.txt"))
	assert.DirExists(t, f.cfg.StagingDir)

	m, err := bundle.ReadManifest(out.Bundle.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, m.FileTreeBefore)
	assert.Equal(t, []string{"2025-01-02_a.txt"}, m.FileTreeAfter)
	assert.Equal(t, "2/2 actions succeeded", m.Summary)
	assert.Equal(t, out.BundleHash, m.BundleSHA256)

	var packaged types.ProofManifest
	require.NoError(t, json.Unmarshal([]byte(readZipFile(t, out.BundlePath, bundle.ManifestFile)), &packaged))
	assert.Empty(t, packaged.BundleSHA256)
}

// cancelAfterFirst cancels the run as soon as the executor applies an action.
type cancelAfterFirst struct {
	cancel context.CancelFunc
}

func (c cancelAfterFirst) Debug(string, ...interface{}) {}
func (c cancelAfterFirst) Warn(string, ...interface{})  {}
func (c cancelAfterFirst) Error(string, ...interface{}) {}
func (c cancelAfterFirst) Info(msg string, _ ...interface{}) {
	if msg == "action applied" {
		c.cancel()
	}
}

var _ logging.Logger = cancelAfterFirst{}

func TestRunCancelledStillSeals(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := f.runner(t, func(o *pipeline.Options) { o.Logger = cancelAfterFirst{cancel: cancel} }).
		Run(ctx, f.root, pipeline.RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)

	require.Len(t, out.Results, 1)
	assert.FileExists(t, filepath.Join(f.root, "b.txt"))
	assert.Equal(t, "1/1 actions succeeded (partial run: 1 of 2 actions attempted)", out.Bundle.Manifest.Summary)
	assert.False(t, out.Bundle.Manifest.Complete)

	sum, err := bundle.HashFile(out.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, sum, out.BundleHash)
}

func TestRunSkipsOnBattery(t *testing.T) {
	f := newFixture(t)
	pol := policy.Default()
	pol.Rules.SkipOnBattery = true
	policyPath := filepath.Join(f.base, "policy.json")
	require.NoError(t, policy.Write(policyPath, pol))

	out, err := f.runner(t, func(o *pipeline.Options) {
		o.PolicyPath = policyPath
		o.Power = power.Static(true)
	}).Run(context.Background(), f.root, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, pipeline.SkipOnBattery, out.SkipReason)
	assert.Nil(t, out.Plan)
	assert.NoDirExists(t, f.cfg.ProofsDir)

	// on mains the same policy runs
	out, err = f.runner(t, func(o *pipeline.Options) { o.PolicyPath = policyPath }).
		Run(context.Background(), f.root, pipeline.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.False(t, out.Skipped)
}

func TestRunPlanningFailureProducesNoBundle(t *testing.T) {
	f := newFixture(t)
	file := filepath.Join(f.root, "a.txt")

	_, err := f.runner(t, nil).Run(context.Background(), file, pipeline.RunOptions{DryRun: true})
	require.Error(t, err)
	assert.NoDirExists(t, f.cfg.ProofsDir)
}

func TestPlanDoesNotSeal(t *testing.T) {
	f := newFixture(t)

	plan, err := f.runner(t, nil).Plan(context.Background(), f.root)
	require.NoError(t, err)
	assert.True(t, plan.DryRun)
	assert.Len(t, plan.Actions, 2)
	assert.NoDirExists(t, f.cfg.ProofsDir)
}

func TestRunLog(t *testing.T) {
	results := []types.ActionResult{
		{Type: types.ActionRename, SourcePath: "/r/a", Success: true},
		{Type: types.ActionUnzip, SourcePath: "/r/b.rar", Error: "unsupported archive type"},
	}
	assert.Equal(t,
		"INFO executor: msg=x\n[rename] /r/a → OK\n[unzip] /r/b.rar → FAIL: unsupported archive type",
		pipeline.RunLog("INFO executor: msg=x\n", results))
	assert.Equal(t, "", pipeline.RunLog("", nil))
}
