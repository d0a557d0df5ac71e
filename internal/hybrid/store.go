package hybrid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/corelake/lakehouse/internal/blockio"
	"github.com/corelake/lakehouse/internal/telemetry"
)

var blockWriteCounter metric.Int64Counter

func init() {
	var err error
	blockWriteCounter, err = telemetry.Meter.Int64Counter("hybrid.blocks_written",
		metric.WithDescription("number of data blocks landed by Store.Write, by tier"))
	if err != nil {
		panic(err)
	}
}

// Config bounds a table's tiering and compaction behavior. Field names
// mirror the engine-wide configuration keys in spec.md §6 so a loader
// can populate one Config per table directly from the config file.
type Config struct {
	HotTierMaxAge        time.Duration
	WarmTierMaxAge       time.Duration
	MinCompactionSize    int // in rows, a stand-in for the on-disk "min_compaction_size_bytes" threshold
	MaxBlocksPerCompaction int
	CompactionInterval   time.Duration
	HotTierSizeThreshold int // rows
	WarmTierSizeThreshold int // rows
	WorkloadWindow       time.Duration
}

// DefaultConfig returns conservative tiering thresholds suitable for
// tests and small tables.
func DefaultConfig() Config {
	return Config{
		HotTierMaxAge:          time.Hour,
		WarmTierMaxAge:         24 * time.Hour,
		MinCompactionSize:      4,
		MaxBlocksPerCompaction: 32,
		CompactionInterval:     10 * time.Minute,
		HotTierSizeThreshold:   10_000,
		WarmTierSizeThreshold:  100_000,
		WorkloadWindow:         5 * time.Minute,
	}
}

type tierState struct {
	mu     sync.RWMutex
	blocks []*DataBlock
}

func (t *tierState) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.blocks {
		n += b.Size()
	}
	return n
}

// Store is the hybrid tiered block store for a single table.
type Store struct {
	table    string
	cfg      Config
	tiers    [3]*tierState // indexed by Tier
	analyzer *WorkloadAnalyzer

	mu             sync.Mutex // serializes compaction, block-id allocation, and the layout pointer
	lastCompaction time.Time
	nextBlockID    int
	layout         *blockio.Layout // nil until EnableDiskBacking/LoadBlocks; blocks stay in-memory-only otherwise
}

// NewStore creates an empty hybrid store for table, with tiering
// thresholds from cfg.
func NewStore(table string, cfg Config) *Store {
	return &Store{
		table: table,
		cfg:   cfg,
		tiers: [3]*tierState{
			TierHot:  {},
			TierWarm: {},
			TierCold: {},
		},
		analyzer: NewWorkloadAnalyzer(cfg.WorkloadWindow),
	}
}

func (s *Store) tier(t Tier) *tierState { return s.tiers[t] }

// Write stages a batch of rows, choosing CoW or MoR per spec.md §4.3's
// write-path decision, and lands the resulting block in the chosen
// tier. It records the batch as a write in the workload analyzer.
func (s *Store) Write(ctx context.Context, rows []Row, now time.Time) (Tier, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "hybrid.Store.Write")
	defer span.End()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("hybrid: write batch for table %s is empty", s.table)
	}

	ratio := s.analyzer.ReadRatio(now)
	_, tier := DecideWritePath(len(rows), ratio)

	block := &DataBlock{
		ID:        s.allocBlockID(),
		Tier:      tier,
		CreatedAt: now,
		Rows:      append([]Row(nil), rows...),
	}

	ts := s.tier(tier)
	ts.mu.Lock()
	ts.blocks = append(ts.blocks, block)
	ts.mu.Unlock()

	if err := s.persistBlock(block); err != nil {
		return tier, err
	}

	s.analyzer.RecordWrite(now)
	blockWriteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier.String())))
	return tier, nil
}

func (s *Store) allocBlockID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBlockID++
	return fmt.Sprintf("%s-%08d", s.table, s.nextBlockID)
}

// Scan performs the unified read path: walk HOT, then WARM, then COLD,
// resolving a key present in more than one tier in favor of the version
// with the highest commit timestamp. Tombstoned rows are omitted from
// the result. It records one read in the workload analyzer.
func (s *Store) Scan(ctx context.Context, now time.Time) ([]Row, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	latest := make(map[string]Row)
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		ts := s.tier(tier)
		ts.mu.RLock()
		for _, b := range ts.blocks {
			for _, r := range b.Rows {
				cur, ok := latest[r.Key]
				if !ok || r.CommitTS.After(cur.CommitTS) {
					latest[r.Key] = r
				}
			}
		}
		ts.mu.RUnlock()
	}

	out := make([]Row, 0, len(latest))
	for _, r := range latest {
		if r.Tombstone {
			continue
		}
		out = append(out, r)
	}
	s.analyzer.RecordRead(now)
	return out, nil
}

// ScanKeys performs the same tier-ordered, highest-commit-wins dedup as
// Scan, but restricted to the given primary keys: the narrowed read
// path an index_scan plan uses once the index has resolved a predicate
// to a key set, instead of walking every block in every tier.
func (s *Store) ScanKeys(ctx context.Context, now time.Time, keys []string) ([]Row, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(keys) == 0 {
		return nil, nil
	}

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	latest := make(map[string]Row, len(keys))
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		ts := s.tier(tier)
		ts.mu.RLock()
		for _, b := range ts.blocks {
			for _, r := range b.Rows {
				if !want[r.Key] {
					continue
				}
				cur, ok := latest[r.Key]
				if !ok || r.CommitTS.After(cur.CommitTS) {
					latest[r.Key] = r
				}
			}
		}
		ts.mu.RUnlock()
	}

	out := make([]Row, 0, len(latest))
	for _, r := range latest {
		if r.Tombstone {
			continue
		}
		out = append(out, r)
	}
	s.analyzer.RecordRead(now)
	return out, nil
}

// BlockCount returns the number of in-memory blocks across all tiers. The
// facade uses this to decide whether a scan is worth parallelizing and,
// if so, how wide (spec.md §4.4's parallel_scan(n)).
func (s *Store) BlockCount() int {
	n := 0
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		ts := s.tier(tier)
		ts.mu.RLock()
		n += len(ts.blocks)
		ts.mu.RUnlock()
	}
	return n
}

// ScanParallel behaves like Scan but fans the per-block merge out across
// up to degree goroutines, bounded by a semaphore and joined with
// errgroup; cancelling ctx stops further blocks from being scheduled.
// The per-block workers themselves never fail. Below a degree of 2 it
// just calls Scan, since spawning goroutines for one block wastes more
// than it saves.
func (s *Store) ScanParallel(ctx context.Context, now time.Time, degree int) ([]Row, error) {
	if degree < 2 {
		return s.Scan(ctx, now)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var mu sync.Mutex
	latest := make(map[string]Row)

	sem := semaphore.NewWeighted(int64(degree))
	g, gctx := errgroup.WithContext(ctx)

	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		ts := s.tier(tier)
		ts.mu.RLock()
		blocks := append([]*DataBlock(nil), ts.blocks...)
		ts.mu.RUnlock()

		for _, b := range blocks {
			b := b
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil, fmt.Errorf("hybrid: scan %s: %w", s.table, err)
			}
			g.Go(func() error {
				defer sem.Release(1)
				rows := append([]Row(nil), b.Rows...)

				mu.Lock()
				defer mu.Unlock()
				for _, r := range rows {
					cur, ok := latest[r.Key]
					if !ok || r.CommitTS.After(cur.CommitTS) {
						latest[r.Key] = r
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(latest))
	for _, r := range latest {
		if r.Tombstone {
			continue
		}
		out = append(out, r)
	}
	s.analyzer.RecordRead(now)
	return out, nil
}

// ShouldCompact reports whether any of spec.md §4.3's three compaction
// triggers currently hold, and which: time since last compaction
// exceeds the interval, HOT size exceeds threshold, or WARM size
// exceeds threshold.
func (s *Store) ShouldCompact(now time.Time) (bool, string) {
	s.mu.Lock()
	last := s.lastCompaction
	s.mu.Unlock()

	if last.IsZero() || now.Sub(last) > s.cfg.CompactionInterval {
		return true, "compaction interval elapsed"
	}
	if n := s.tier(TierHot).size(); n > s.cfg.HotTierSizeThreshold {
		return true, fmt.Sprintf("hot tier size %d exceeds threshold", n)
	}
	if n := s.tier(TierWarm).size(); n > s.cfg.WarmTierSizeThreshold {
		return true, fmt.Sprintf("warm tier size %d exceeds threshold", n)
	}
	return false, ""
}
