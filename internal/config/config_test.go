package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewLoader_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	l, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().HotTierMaxAge, l.Current().HotTierMaxAge)
}

func TestNewLoader_ReadsOverrides(t *testing.T) {
	path := writeConfigFile(t, "hot_tier_max_age_seconds: 120\nmax_blocks_per_compaction: 8\n")
	l, err := NewLoader(path)
	require.NoError(t, err)

	cfg := l.Current()
	assert.Equal(t, 120*time.Second, cfg.HotTierMaxAge)
	assert.Equal(t, 8, cfg.MaxBlocksPerCompaction)
	// Unset keys still fall back to defaults.
	assert.Equal(t, Defaults().ResultCacheMaxEntries, cfg.ResultCacheMaxEntries)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfigFile(t, "max_blocks_per_compaction: 8\n")
	l, err := NewLoader(path)
	require.NoError(t, err)

	changed := make(chan Config, 1)
	l.OnChange(func(c Config) { changed <- c })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("max_blocks_per_compaction: 16\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 16, cfg.MaxBlocksPerCompaction)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
