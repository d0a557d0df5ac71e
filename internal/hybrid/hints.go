package hybrid

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TierHints is the TOML-encoded subset of Config an operator can override
// per table, independent of the engine-wide defaults. Fields are pointers
// so an absent key in the file leaves the corresponding Config field at
// its default rather than zeroing it out.
type TierHints struct {
	HotTierMaxAgeSeconds   *int64 `toml:"hot_tier_max_age_seconds"`
	WarmTierMaxAgeSeconds  *int64 `toml:"warm_tier_max_age_seconds"`
	MinCompactionSize      *int   `toml:"min_compaction_size"`
	MaxBlocksPerCompaction *int   `toml:"max_blocks_per_compaction"`
}

// LoadTierHints reads path (if it exists) and applies any fields it sets
// on top of base, returning the merged Config. A missing file is not an
// error: it just means the table uses base unmodified.
func LoadTierHints(path string, base Config) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}

	var hints TierHints
	if _, err := toml.DecodeFile(path, &hints); err != nil {
		return Config{}, fmt.Errorf("hybrid: decode tier hints %s: %w", path, err)
	}

	cfg := base
	if hints.HotTierMaxAgeSeconds != nil {
		cfg.HotTierMaxAge = secondsToDuration(*hints.HotTierMaxAgeSeconds)
	}
	if hints.WarmTierMaxAgeSeconds != nil {
		cfg.WarmTierMaxAge = secondsToDuration(*hints.WarmTierMaxAgeSeconds)
	}
	if hints.MinCompactionSize != nil {
		cfg.MinCompactionSize = *hints.MinCompactionSize
	}
	if hints.MaxBlocksPerCompaction != nil {
		cfg.MaxBlocksPerCompaction = *hints.MaxBlocksPerCompaction
	}
	return cfg, nil
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
