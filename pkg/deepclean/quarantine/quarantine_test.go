package quarantine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/executor"
	"github.com/jamesainslie/deepclean/pkg/deepclean/planner"
	"github.com/jamesainslie/deepclean/pkg/deepclean/quarantine"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "deep", "er", "dst.txt")
	write(t, src, "payload")

	require.NoError(t, quarantine.Move(src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMoveRefusesToClobber(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	write(t, src, "new")
	write(t, dst, "old")

	err := quarantine.Move(src, dst)
	require.ErrorIs(t, err, quarantine.ErrTargetExists)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	_, err = os.Stat(src)
	assert.NoError(t, err, "source must remain in place")
}

func TestMoveMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := quarantine.Move(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreListAndRestore(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	qdir := filepath.Join(base, "quarantine")
	root := filepath.Join(base, "root")

	write(t, filepath.Join(qdir, "mail", "invoice.pdf.exe"), "MZ")
	write(t, filepath.Join(qdir, "dupes", "b.txt"), "dup")

	store := quarantine.NewStore(qdir, nil)
	items, err := store.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "dupes/b.txt", items[0].RelPath)
	assert.True(t, items[0].Duplicate)
	assert.Equal(t, "b.txt", items[0].OriginalRelPath())
	assert.Equal(t, "mail/invoice.pdf.exe", items[1].RelPath)
	assert.False(t, items[1].Duplicate)
	assert.Equal(t, int64(2), items[1].Size)

	target, err := store.Restore("mail/invoice.pdf.exe", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "mail", "invoice.pdf.exe"), target)
	assert.FileExists(t, target)
	assert.NoDirExists(t, filepath.Join(qdir, "mail"), "empty quarantine dirs are pruned")
	assert.DirExists(t, qdir)

	target, err = store.Restore("dupes/b.txt", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b.txt"), target)
}

func TestStoreRestoreErrors(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	qdir := filepath.Join(base, "quarantine")
	root := filepath.Join(base, "root")
	write(t, filepath.Join(qdir, "a.txt"), "quarantined")
	write(t, filepath.Join(root, "a.txt"), "already here")

	store := quarantine.NewStore(qdir, nil)

	_, err := store.Restore("missing.txt", root)
	require.ErrorIs(t, err, quarantine.ErrNotFound)

	_, err = store.Restore("../escape.txt", root)
	require.Error(t, err)

	_, err = store.Restore("/etc/passwd", root)
	require.Error(t, err)

	_, err = store.Restore("a.txt", root)
	require.ErrorIs(t, err, quarantine.ErrTargetExists)
	assert.FileExists(t, filepath.Join(qdir, "a.txt"))
}

func TestStoreRestoreAll(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	qdir := filepath.Join(base, "quarantine")
	root := filepath.Join(base, "root")
	write(t, filepath.Join(qdir, "x", "one.txt"), "1")
	write(t, filepath.Join(qdir, "two.txt"), "2")
	write(t, filepath.Join(qdir, "three.txt"), "3")
	write(t, filepath.Join(root, "three.txt"), "occupied")

	restored, err := quarantine.NewStore(qdir, nil).RestoreAll(root)
	require.ErrorIs(t, err, quarantine.ErrTargetExists)
	require.Len(t, restored, 3)

	assert.FileExists(t, filepath.Join(root, "x", "one.txt"))
	assert.FileExists(t, filepath.Join(root, "two.txt"))
	assert.NotEmpty(t, restored[0].Error, "three.txt sorts first and fails")
}

func TestStoreListMissingDir(t *testing.T) {
	t.Parallel()

	items, err := quarantine.NewStore(filepath.Join(t.TempDir(), "none"), nil).List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAdmitRecordsOrigin(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	src := filepath.Join(base, "root", "dupes", "evil.pdf.exe")
	qdir := filepath.Join(base, "q")
	write(t, src, "MZ")

	origin := quarantine.Origin{RelPath: "dupes/evil.pdf.exe", Source: src}
	require.NoError(t, quarantine.Admit(src, filepath.Join(qdir, "dupes", "evil.pdf.exe"), origin))

	items, err := quarantine.NewStore(qdir, nil).List()
	require.NoError(t, err)
	require.Len(t, items, 1, "origin records are not listed")
	assert.False(t, items[0].Duplicate)
	assert.Equal(t, "dupes/evil.pdf.exe", items[0].OriginalRelPath())
}

func TestRestoreRootWithDupesDirectory(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	qdir := filepath.Join(base, "quarantine")
	write(t, filepath.Join(root, "a.txt"), "same")
	write(t, filepath.Join(root, "dupes", "evil.pdf.exe"), "MZ")
	write(t, filepath.Join(root, "z.txt"), "same")

	cfg := config.RunConfig{
		QuarantineDir:  qdir,
		StagingDir:     filepath.Join(base, "staging"),
		ProofsDir:      filepath.Join(base, "proofs"),
		AllowedActions: []types.ActionKind{types.ActionQuarantine, types.ActionDedupe},
	}
	plan, err := planner.New(planner.Options{}).Generate(context.Background(), root, cfg, "", false)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)

	results, err := executor.New(executor.Options{}).Execute(context.Background(), plan)
	require.NoError(t, err)
	for _, r := range results {
		require.True(t, r.Success, r.Error)
	}
	assert.FileExists(t, filepath.Join(qdir, "dupes", "evil.pdf.exe"))
	assert.FileExists(t, filepath.Join(qdir, "dupes", "z.txt"))

	store := quarantine.NewStore(qdir, nil)
	items, err := store.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "dupes/evil.pdf.exe", items[0].RelPath)
	assert.False(t, items[0].Duplicate)
	assert.Equal(t, "dupes/evil.pdf.exe", items[0].OriginalRelPath())
	assert.Equal(t, "dupes/z.txt", items[1].RelPath)
	assert.True(t, items[1].Duplicate)
	assert.Equal(t, "z.txt", items[1].OriginalRelPath())

	restored, err := store.RestoreAll(root)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, filepath.Join(root, "dupes", "evil.pdf.exe"), restored[0].Target)
	assert.Equal(t, filepath.Join(root, "z.txt"), restored[1].Target)
	assert.FileExists(t, filepath.Join(root, "dupes", "evil.pdf.exe"))
	assert.NoFileExists(t, filepath.Join(root, "evil.pdf.exe"))

	items, err = store.List()
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoDirExists(t, filepath.Join(qdir, "dupes"), "origin records are removed with their files")
}
