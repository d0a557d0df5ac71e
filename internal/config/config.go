// Package config loads and hot-reloads the engine's configuration file
// (spec.md §6): tiering thresholds, compaction limits, and result
// cache bounds. It reads YAML directly with viper, bypassing a
// database-backed config store entirely -- every setting here governs
// startup/runtime tuning, not per-row data, so there is nothing to
// bypass to.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every engine-wide tuning knob spec.md §6 names.
type Config struct {
	HotTierMaxAge          time.Duration
	WarmTierMaxAge         time.Duration
	MinCompactionSizeBytes int64
	MaxBlocksPerCompaction int
	ResultCacheMaxEntries  int
	ResultCacheMaxAge      time.Duration
	SnapshotRetention      time.Duration
}

// Defaults mirror internal/hybrid.DefaultConfig's thresholds, so a
// missing config.yaml still produces a usable engine.
func Defaults() Config {
	return Config{
		HotTierMaxAge:          time.Hour,
		WarmTierMaxAge:         24 * time.Hour,
		MinCompactionSizeBytes: 4 * 1024 * 1024,
		MaxBlocksPerCompaction: 32,
		ResultCacheMaxEntries:  10_000,
		ResultCacheMaxAge:      10 * time.Minute,
		SnapshotRetention:      30 * 24 * time.Hour,
	}
}

// Loader reads config.yaml with viper and optionally watches it for
// changes, invoking registered callbacks with the freshly reloaded
// Config. jit_call_threshold, a key from the source system's JIT
// compiler, is deliberately not read here: this engine has no JIT.
type Loader struct {
	v  *viper.Viper
	mu sync.RWMutex

	current   Config
	listeners []func(Config)
}

// NewLoader creates a Loader reading path (a YAML file) directly,
// seeded with Defaults for any key the file omits.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	setViperDefaults(v, Defaults())

	l := &Loader{v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func setViperDefaults(v *viper.Viper, d Config) {
	v.SetDefault("hot_tier_max_age_seconds", int(d.HotTierMaxAge.Seconds()))
	v.SetDefault("warm_tier_max_age_seconds", int(d.WarmTierMaxAge.Seconds()))
	v.SetDefault("min_compaction_size_bytes", d.MinCompactionSizeBytes)
	v.SetDefault("max_blocks_per_compaction", d.MaxBlocksPerCompaction)
	v.SetDefault("result_cache_max_entries", d.ResultCacheMaxEntries)
	v.SetDefault("result_cache_max_age_seconds", int(d.ResultCacheMaxAge.Seconds()))
	v.SetDefault("snapshot_retention_seconds", int(d.SnapshotRetention.Seconds()))
}

// reload re-reads the config file into l.current. If the file does not
// exist, viper's defaults alone populate the result -- a missing
// config.yaml is not an error.
func (l *Loader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("config: read %s: %w", l.v.ConfigFileUsed(), err)
		}
	}

	cfg := Config{
		HotTierMaxAge:          time.Duration(l.v.GetInt64("hot_tier_max_age_seconds")) * time.Second,
		WarmTierMaxAge:         time.Duration(l.v.GetInt64("warm_tier_max_age_seconds")) * time.Second,
		MinCompactionSizeBytes: l.v.GetInt64("min_compaction_size_bytes"),
		MaxBlocksPerCompaction: l.v.GetInt("max_blocks_per_compaction"),
		ResultCacheMaxEntries:  l.v.GetInt("result_cache_max_entries"),
		ResultCacheMaxAge:      time.Duration(l.v.GetInt64("result_cache_max_age_seconds")) * time.Second,
		SnapshotRetention:      time.Duration(l.v.GetInt64("snapshot_retention_seconds")) * time.Second,
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to be invoked with the new Config every time
// Watch detects a change.
func (l *Loader) OnChange(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Watch starts an fsnotify watch on the config file in the background
// and returns a stop function. Each write triggers a debounced reload
// so rapid successive writes (editors that write in multiple syscalls)
// collapse into one reload.
func (l *Loader) Watch() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	path := l.v.ConfigFileUsed()
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		const debounceDelay = 200 * time.Millisecond
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, l.reloadAndNotify)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func (l *Loader) reloadAndNotify() {
	if err := l.reload(); err != nil {
		return
	}
	l.mu.RLock()
	cfg := l.current
	listeners := append([]func(Config){}, l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
