package hybrid

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTierHints_MissingFileReturnsBaseUnmodified(t *testing.T) {
	cfg, err := LoadTierHints(filepath.Join(t.TempDir(), "absent.toml"), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadTierHints_OverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tier_hints.toml")
	require.NoError(t, os.WriteFile(path, []byte("hot_tier_max_age_seconds = 60\n"), 0o644))

	cfg, err := LoadTierHints(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.HotTierMaxAge)
	assert.Equal(t, DefaultConfig().WarmTierMaxAge, cfg.WarmTierMaxAge)
	assert.Equal(t, DefaultConfig().MinCompactionSize, cfg.MinCompactionSize)
}
