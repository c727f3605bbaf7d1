package bundle_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

var (
	startTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	endTime   = time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)
)

func testPlan() *types.ActionPlan {
	return &types.ActionPlan{
		RunID:         "test-run-001",
		Timestamp:     startTime,
		PolicyVersion: "1.0.0",
		PolicyHash:    "abc123",
		PlanHash:      "def456",
		RootPath:      "/test",
		DryRun:        false,
		FileCount:     2,
		Actions: []types.PlannedAction{
			{
				ID: "a1", Type: types.ActionRename,
				SourcePath: "/test/file.txt", TargetPath: "/test/2025-01-01_file.txt",
				Reason: "Rename with date prefix: 2025-01-01_file.txt",
				FileInfo: types.FileDescriptor{
					Path: "/test/file.txt", RelativePath: "file.txt", Size: 100,
					SHA256: "deadbeef", Category: types.CategoryDocument,
				},
			},
			{
				ID: "a2", Type: types.ActionQuarantine,
				SourcePath: "/test/x.pdf.exe", TargetPath: "/q/x.pdf.exe",
				Reason: "Double extension detected: x.pdf.exe",
			},
		},
	}
}

func testResults() []types.ActionResult {
	return []types.ActionResult{
		{
			ActionID: "a1", Type: types.ActionRename, Success: true,
			SourcePath: "/test/file.txt", TargetPath: "/test/2025-01-01_file.txt",
			Reason: "Rename with date prefix: 2025-01-01_file.txt",
		},
		{
			ActionID: "a2", Type: types.ActionQuarantine, Success: false,
			SourcePath: "/test/x.pdf.exe", TargetPath: "/q/x.pdf.exe",
			Reason: "Double extension detected: x.pdf.exe", Error: "permission denied",
		},
	}
}

func newBuilder() *bundle.Builder {
	return bundle.New(bundle.Options{Clock: clock.NewFake(endTime), Version: "1.2.3"})
}

func TestBuildManifest(t *testing.T) {
	t.Parallel()

	m := newBuilder().BuildManifest(testPlan(), testResults(), "/test", []string{"file.txt", "x.pdf.exe"}, []string{"2025-01-01_file.txt", "x.pdf.exe"})

	assert.Equal(t, "test-run-001", m.RunID)
	assert.Equal(t, startTime, m.StartTimestamp)
	assert.Equal(t, endTime, m.EndTimestamp)
	assert.Equal(t, "1.0.0", m.PolicyVersion)
	assert.Equal(t, "abc123", m.PolicyHash)
	assert.Equal(t, "def456", m.PlanHash)
	assert.Equal(t, "/test", m.RootPath)
	assert.Len(t, m.PlannedActions, 2)
	assert.Len(t, m.ExecutedActions, 2)
	assert.Equal(t, []string{"file.txt", "x.pdf.exe"}, m.FileTreeBefore)
	assert.Equal(t, runtime.GOOS+"-"+runtime.GOARCH, m.Environment.OS)
	assert.Equal(t, runtime.Version(), m.Environment.GoVersion)
	assert.Equal(t, "1.2.3", m.Environment.ToolVersions["deepclean"])
	assert.Empty(t, m.BundleSHA256)
	assert.True(t, m.Complete)
	assert.Equal(t, "1/2 actions succeeded", m.Summary)
}

func TestBuildManifestPartialRun(t *testing.T) {
	t.Parallel()

	m := newBuilder().BuildManifest(testPlan(), testResults()[:1], "/test", nil, nil)
	assert.False(t, m.Complete)
	assert.Equal(t, "1/1 actions succeeded (partial run: 1 of 2 actions attempted)", m.Summary)
	assert.NotNil(t, m.FileTreeBefore)
	assert.NotNil(t, m.FileTreeAfter)
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	out := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(data)
	}
	return out
}

func TestCreateTwoPhaseCommitment(t *testing.T) {
	t.Parallel()

	proofs := filepath.Join(t.TempDir(), "proofs")
	b := newBuilder()
	m := b.BuildManifest(testPlan(), testResults(), "/test", []string{"file.txt"}, []string{"2025-01-01_file.txt"})

	sealed, err := b.Create(context.Background(), m, proofs, "line one\nline two")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(proofs, "deepclean-proof-test-run-001.zip"), sealed.Path)
	assert.Equal(t, filepath.Join(proofs, "deepclean-proof-test-run-001-manifest.json"), sealed.ManifestPath)
	assert.Equal(t, filepath.Join(proofs, "deepclean-proof-test-run-001"), sealed.StagingDir)
	assert.Empty(t, m.BundleSHA256, "input manifest is not modified")

	// the hash is the digest of the archive bytes
	actual, err := bundle.HashFile(sealed.Path)
	require.NoError(t, err)
	assert.Equal(t, actual, sealed.SHA256)
	assert.Equal(t, actual, sealed.Manifest.BundleSHA256)

	// the packaged manifest still has an empty hash
	contents := readZip(t, sealed.Path)
	assert.ElementsMatch(t, []string{
		"actions.jsonl", "file-tree-after.txt", "file-tree-before.txt",
		"manifest.json", "output.log", "tree_diff.txt",
	}, keys(contents))

	var packaged types.ProofManifest
	require.NoError(t, json.Unmarshal([]byte(contents["manifest.json"]), &packaged))
	assert.Empty(t, packaged.BundleSHA256)
	assert.Equal(t, "test-run-001", packaged.RunID)

	assert.Equal(t, "line one\nline two", contents["output.log"])
	assert.Equal(t, "file.txt", contents["file-tree-before.txt"])
	assert.Equal(t,
		"[RENAME] /test/file.txt -> /test/2025-01-01_file.txt\n[QUARANTINE] /test/x.pdf.exe -> FAILED: permission denied",
		contents["tree_diff.txt"])

	lines := strings.Split(contents["actions.jsonl"], "\n")
	require.Len(t, lines, 2)
	var first types.ActionResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a1", first.ActionID)

	// staging and standalone manifests carry the final hash
	for _, path := range []string{sealed.ManifestPath, filepath.Join(sealed.StagingDir, "manifest.json")} {
		got, err := bundle.ReadManifest(path)
		require.NoError(t, err)
		assert.Equal(t, actual, got.BundleSHA256, path)
	}

	// patching the staging copy does not touch the archive
	after, err := bundle.HashFile(sealed.Path)
	require.NoError(t, err)
	assert.Equal(t, actual, after)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestCreateOmitsEmptyLog(t *testing.T) {
	t.Parallel()

	b := newBuilder()
	m := b.BuildManifest(testPlan(), testResults(), "/test", nil, nil)
	sealed, err := b.Create(context.Background(), m, t.TempDir(), "")
	require.NoError(t, err)

	_, ok := readZip(t, sealed.Path)["output.log"]
	assert.False(t, ok)
}

func TestCreateIsReproducible(t *testing.T) {
	t.Parallel()

	b := newBuilder()
	m := b.BuildManifest(testPlan(), testResults(), "/test", []string{"a"}, []string{"b"})

	first, err := b.Create(context.Background(), m, t.TempDir(), "log")
	require.NoError(t, err)
	second, err := b.Create(context.Background(), m, t.TempDir(), "log")
	require.NoError(t, err)

	assert.Equal(t, first.SHA256, second.SHA256)
}

func TestCreateFailsWhenProofsDirUnwritable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "proofs")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0o644))

	b := newBuilder()
	m := b.BuildManifest(testPlan(), testResults(), "/test", nil, nil)
	sealed, err := b.Create(context.Background(), m, blocker, "")
	require.Error(t, err)
	assert.Nil(t, sealed)
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	b := newBuilder()
	m := b.BuildManifest(testPlan(), testResults(), "/test", nil, nil)
	sealed, err := b.Create(context.Background(), m, t.TempDir(), "log")
	require.NoError(t, err)

	// a fresh copy of the archive verifies against the recorded hash
	data, err := os.ReadFile(sealed.Path)
	require.NoError(t, err)
	copyPath := filepath.Join(t.TempDir(), "downloaded.zip")
	require.NoError(t, os.WriteFile(copyPath, data, 0o644))

	v, err := bundle.Verify(copyPath, strings.ToUpper(sealed.SHA256))
	require.NoError(t, err)
	assert.True(t, v.Match)
	assert.Equal(t, "test-run-001", v.RunID)
	assert.Equal(t, "def456", v.PlanHash)

	// any modification breaks it
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(copyPath, data, 0o644))
	v, err = bundle.Verify(copyPath, sealed.SHA256)
	require.ErrorIs(t, err, bundle.ErrHashMismatch)
	assert.False(t, v.Match)
}

func TestListAndFind(t *testing.T) {
	t.Parallel()

	proofs := t.TempDir()
	fake := clock.NewFake(endTime)
	b := bundle.New(bundle.Options{Clock: fake})

	for _, id := range []string{"older", "newer"} {
		plan := testPlan()
		plan.RunID = id
		_, err := b.Create(context.Background(), b.BuildManifest(plan, testResults(), "/test", nil, nil), proofs, "")
		require.NoError(t, err)
		fake.Advance(time.Hour)
	}
	require.NoError(t, os.WriteFile(filepath.Join(proofs, "deepclean-proof-junk-manifest.json"), []byte("{"), 0o644))

	entries, err := bundle.List(proofs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].RunID)
	assert.Equal(t, "older", entries[1].RunID)
	assert.Equal(t, filepath.Join(proofs, "deepclean-proof-newer.zip"), entries[0].BundlePath)
	assert.Len(t, entries[0].BundleSHA256, 64)

	found, err := bundle.Find(proofs, "older")
	require.NoError(t, err)
	assert.Equal(t, entries[1].BundleSHA256, found.BundleSHA256)

	_, err = bundle.Find(proofs, "missing")
	require.ErrorIs(t, err, os.ErrNotExist)

	none, err := bundle.List(filepath.Join(proofs, "absent"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAnchorRequest(t *testing.T) {
	t.Parallel()

	b := newBuilder()
	sealed, err := b.Create(context.Background(), b.BuildManifest(testPlan(), testResults(), "/test", nil, nil), t.TempDir(), "")
	require.NoError(t, err)

	req := sealed.AnchorRequest()
	assert.Equal(t, sealed.Path, req.BundlePath)
	assert.Equal(t, sealed.SHA256, req.BundleHash)
	assert.Equal(t, "test-run-001", req.RunID)
	assert.Equal(t, "abc123", req.PolicyFingerprint)
	assert.Equal(t, "def456", req.PlanFingerprint)
	assert.Equal(t, "1/2 actions succeeded", req.Summary)

	path := filepath.Join(t.TempDir(), "anchor.json")
	require.NoError(t, bundle.WriteAnchorRequest(path, req))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded bundle.AnchorRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req, decoded)
}
