package history_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/clock"
	"github.com/jamesainslie/deepclean/pkg/deepclean/history"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, end time.Time) *history.Record {
	return &history.Record{
		RunID:        id,
		RootPath:     "/data",
		EndTimestamp: end,
		Summary:      "0/0 actions succeeded",
		BundleSHA256: "sha-" + id,
	}
}

func TestPutGet(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Put(record("run-1", base)))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "sha-run-1", got.BundleSHA256)
	assert.True(t, base.Equal(got.EndTimestamp))

	_, err = s.Get("missing")
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestRecentNewestFirst(t *testing.T) {
	s := openStore(t)

	for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		require.NoError(t, s.Put(record(fmt.Sprintf("run-%d", i), base.Add(offset))))
	}

	all, err := s.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-0", all[0].RunID)
	assert.Equal(t, "run-2", all[1].RunID)
	assert.Equal(t, "run-1", all[2].RunID)

	two, err := s.Recent(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestPutReplacesTimeIndex(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Put(record("run-1", base)))
	require.NoError(t, s.Put(record("run-1", base.Add(time.Hour))))

	all, err := s.Recent(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, base.Add(time.Hour).Equal(all[0].EndTimestamp))
}

func TestDeleteAndPrune(t *testing.T) {
	s := openStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(record(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	require.NoError(t, s.Delete("run-4"))
	require.NoError(t, s.Delete("run-4"))
	_, err := s.Get("run-4")
	require.ErrorIs(t, err, history.ErrNotFound)

	removed, err := s.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := s.Recent(0)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "run-3", left[0].RunID)
	assert.Equal(t, "run-2", left[1].RunID)
}

func TestReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()

	s, err := history.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(record("run-1", base)))
	schema, err := s.GetSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.Equal(t, history.CurrentSchemaVersion, schema.Version)
	require.NoError(t, s.Close())

	s, err = history.Open(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}

func TestNewRecordAndIntact(t *testing.T) {
	b := bundle.New(bundle.Options{Clock: clock.NewFake(base)})
	plan := &types.ActionPlan{
		RunID:      "run-abc",
		Timestamp:  base.Add(-time.Minute),
		PolicyHash: "policy",
		PlanHash:   "plan",
		RootPath:   "/data",
		DryRun:     true,
	}
	sealed, err := b.Create(context.Background(), b.BuildManifest(plan, nil, "/data", nil, nil), t.TempDir(), "")
	require.NoError(t, err)

	rec, err := history.NewRecord(sealed)
	require.NoError(t, err)
	assert.Equal(t, "run-abc", rec.RunID)
	assert.Equal(t, sealed.SHA256, rec.BundleSHA256)
	assert.Equal(t, "policy", rec.PolicyHash)
	assert.Equal(t, "plan", rec.PlanHash)
	assert.True(t, rec.DryRun)
	assert.True(t, rec.Complete)
	assert.Len(t, rec.BundleBLAKE3, 64)
	assert.NotEqual(t, rec.BundleSHA256, rec.BundleBLAKE3)

	ok, err := rec.Intact()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(sealed.Path, []byte("tampered"), 0o644))
	ok, err = rec.Intact()
	require.NoError(t, err)
	assert.False(t, ok)
}
