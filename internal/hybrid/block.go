package hybrid

import (
	"sort"
	"time"

	"github.com/corelake/lakehouse/internal/value"
)

// Row is one persisted row: its primary key, the commit timestamp that
// produced this version, its column values, and whether it represents
// a deletion.
type Row struct {
	Key       string
	CommitTS  time.Time
	Values    value.Record
	Tombstone bool
}

// DataBlock is an immutable, timestamp-ordered run of rows within a
// tier. Blocks are merged and promoted whole; rows inside a block are
// never mutated in place.
type DataBlock struct {
	ID        string
	Tier      Tier
	CreatedAt time.Time
	Rows      []Row
}

// Size approximates the block's on-disk footprint, used by compaction's
// size thresholds. It counts rows rather than bytes, which is sufficient
// for threshold comparisons without requiring a live encoder.
func (b *DataBlock) Size() int { return len(b.Rows) }

// mergeBlocks concatenates blocks' rows into one new block, sorted by
// key then commit timestamp, used by both compaction's intra-tier merge
// and tier promotion.
func mergeBlocks(id string, tier Tier, at time.Time, blocks []*DataBlock) *DataBlock {
	var rows []Row
	for _, b := range blocks {
		rows = append(rows, b.Rows...)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].CommitTS.Before(rows[j].CommitTS)
	})
	return &DataBlock{ID: id, Tier: tier, CreatedAt: at, Rows: rows}
}
