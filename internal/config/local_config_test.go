package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLocalOverrides_MissingFileReturnsZeroValue(t *testing.T) {
	assert.Equal(t, LocalOverrides{}, ReadLocalOverrides(t.TempDir()))
}

func TestWriteThenReadLocalOverrides_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	want := LocalOverrides{SnapshotRetentionSeconds: 3600, DefaultStorageMode: "hybrid"}
	require.NoError(t, WriteLocalOverrides(dir, want))
	assert.Equal(t, want, ReadLocalOverrides(dir))
}
