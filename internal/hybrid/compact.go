package hybrid

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/corelake/lakehouse/internal/telemetry"
)

// CompactionResult summarizes one compaction pass, for logging and
// tests.
type CompactionResult struct {
	Promoted      int // blocks moved between tiers
	Merged        int // blocks combined by intra-tier merge
	RemainingHot  int
	RemainingWarm int
	RemainingCold int
}

// Compact runs one compaction pass: tier promotion first, then
// intra-tier merge, acquiring tier locks in the fixed HOT → WARM → COLD
// order to match the rest of the store and avoid deadlock against
// concurrent writers. A failed pass leaves the store unchanged, since
// every mutation only swaps a tier's block slice after its replacement
// is fully built.
func (s *Store) Compact(ctx context.Context, now time.Time) (CompactionResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "hybrid.Store.Compact")
	defer span.End()

	var result CompactionResult

	select {
	case <-ctx.Done():
		return result, ctx.Err()
	default:
	}

	promotedHotToWarm := s.promote(TierHot, TierWarm, s.cfg.HotTierMaxAge, now)
	promotedWarmToCold := s.promote(TierWarm, TierCold, s.cfg.WarmTierMaxAge, now)
	result.Promoted = promotedHotToWarm + promotedWarmToCold

	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		result.Merged += s.mergeSmallBlocks(tier, now)
	}

	s.mu.Lock()
	s.lastCompaction = now
	s.mu.Unlock()

	result.RemainingHot = len(s.tier(TierHot).blocks)
	result.RemainingWarm = len(s.tier(TierWarm).blocks)
	result.RemainingCold = len(s.tier(TierCold).blocks)
	span.SetAttributes(
		attribute.Int("hybrid.promoted", result.Promoted),
		attribute.Int("hybrid.merged", result.Merged),
	)
	return result, nil
}

// promote moves blocks older than maxAge from src to dst, locking src
// then dst (consistent with the fixed HOT → WARM → COLD acquisition
// order since promote is only ever called HOT→WARM or WARM→COLD).
func (s *Store) promote(src, dst Tier, maxAge time.Duration, now time.Time) int {
	srcState, dstState := s.tier(src), s.tier(dst)

	srcState.mu.Lock()
	defer srcState.mu.Unlock()

	var kept, moving []*DataBlock
	for _, b := range srcState.blocks {
		if now.Sub(b.CreatedAt) > maxAge {
			moving = append(moving, b)
		} else {
			kept = append(kept, b)
		}
	}
	if len(moving) == 0 {
		return 0
	}

	for _, b := range moving {
		b.Tier = dst
	}

	dstState.mu.Lock()
	dstState.blocks = append(dstState.blocks, moving...)
	dstState.mu.Unlock()

	srcState.blocks = kept
	return len(moving)
}

// mergeSmallBlocks runs only when a tier holds more than
// cfg.MaxBlocksPerCompaction blocks. It then merges the tier's leading
// blocks, in order, until they reach cfg.MinCompactionSize rows or
// cfg.MaxBlocksPerCompaction blocks have been taken, whichever comes
// first; fewer than two such blocks means no merge.
func (s *Store) mergeSmallBlocks(tier Tier, now time.Time) int {
	ts := s.tier(tier)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if len(ts.blocks) <= s.cfg.MaxBlocksPerCompaction {
		return 0
	}

	var toMerge []*DataBlock
	var rest []*DataBlock
	size := 0
	for _, b := range ts.blocks {
		if size < s.cfg.MinCompactionSize && len(toMerge) < s.cfg.MaxBlocksPerCompaction {
			toMerge = append(toMerge, b)
			size += b.Size()
		} else {
			rest = append(rest, b)
		}
	}
	if len(toMerge) < 2 {
		return 0
	}

	s.mu.Lock()
	s.nextBlockID++
	id := fmt.Sprintf("%s-merged-%s-%08d", s.table, tier.String(), s.nextBlockID)
	s.mu.Unlock()

	merged := mergeBlocks(id, tier, now, toMerge)
	ts.blocks = append([]*DataBlock{merged}, rest...)
	return len(toMerge)
}
