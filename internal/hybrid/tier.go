// Package hybrid implements the Hybrid Table Storage engine (spec.md
// §4.3): adaptive write-path selection across a HOT (copy-on-write) /
// WARM (balanced) / COLD (merge-on-read) tier hierarchy, unified scan
// with tier-ordered dedup, and background compaction with tier
// promotion and intra-tier merge.
package hybrid

import "fmt"

// Tier identifies one of the three storage tiers a table's data blocks
// can live in.
type Tier int

const (
	TierHot Tier = iota
	TierWarm
	TierCold
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// WritePath is the outcome of the adaptive write-path decision: whether
// a batch is staged copy-on-write or merge-on-read, and which tier it
// initially lands in.
type WritePath int

const (
	PathCoW WritePath = iota
	PathMoR
)

func (p WritePath) String() string {
	if p == PathCoW {
		return "copy-on-write"
	}
	return "merge-on-read"
}

// DecideWritePath implements spec.md §4.3's write-path decision table.
// batchSize is the number of rows in the incoming batch; readRatio is
// the table's current read/(read+write) ratio from the workload
// analyzer.
func DecideWritePath(batchSize int, readRatio float64) (WritePath, Tier) {
	switch {
	case batchSize < 100:
		return PathCoW, TierHot
	case batchSize > 1000:
		if readRatio > 0.7 {
			return PathCoW, TierHot
		}
		return PathMoR, TierWarm
	default:
		if readRatio > 0.5 {
			return PathCoW, TierHot
		}
		return PathMoR, TierWarm
	}
}
