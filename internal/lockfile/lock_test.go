//go:build unix

package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ExclusiveBlocksSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.lock")

	l1, err := Acquire(path)
	require.NoError(t, err)
	defer l1.Unlock()

	_, err = Acquire(path)
	assert.True(t, IsLocked(err))
}

func TestAcquire_ReleasedAfterUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.lock")

	l1, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l1.Unlock())

	l2, err := Acquire(path)
	require.NoError(t, err)
	defer l2.Unlock()
}
