package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRootExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := lockRoot(dir, "/data")
	require.NoError(t, err)

	_, err = lockRoot(dir, "/data")
	require.ErrorIs(t, err, ErrRunInProgress)

	// other roots are independent
	other, err := lockRoot(dir, "/elsewhere")
	require.NoError(t, err)
	require.NoError(t, other.release())

	require.NoError(t, first.release())
	again, err := lockRoot(dir, "/data")
	require.NoError(t, err)
	require.NoError(t, again.release())
}

func TestLockPath(t *testing.T) {
	p := LockPath("/locks", "/data")
	assert.Equal(t, "/locks", filepath.Dir(p))
	assert.Len(t, filepath.Base(p), 16+len(".lock"))
	assert.NotEqual(t, p, LockPath("/locks", "/other"))
}
