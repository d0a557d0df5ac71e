package blockio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_EnsureCreatesTree(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	require.NoError(t, l.Ensure())

	for _, dir := range []string{l.SchemaDir(), l.SnapshotsDir(), l.SecretsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLayout_EnsureTable(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	require.NoError(t, l.EnsureTable("events"))

	for _, dir := range []string{l.TimelineDir("events"), l.BlocksDir("events"), l.IndexDir("events")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLayout_BlockPath_IsDeterministic(t *testing.T) {
	l := NewLayout("/data")
	id := BlockID([]byte("hello"))
	assert.Equal(t, l.BlockPath("events", "hot", id), l.BlockPath("events", "hot", id))
}
