package hybrid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelake/lakehouse/internal/value"
)

func rowsFor(n int, ts time.Time) []Row {
	out := make([]Row, n)
	for i := 0; i < n; i++ {
		out[i] = Row{
			Key:      fmt.Sprintf("k%d", i),
			CommitTS: ts,
			Values:   value.Record{Values: map[string]value.Value{"id": value.Int(int64(i))}},
		}
	}
	return out
}

func TestDecideWritePath_MatchesThresholdTable(t *testing.T) {
	path, tier := DecideWritePath(50, 0.1)
	assert.Equal(t, PathCoW, path)
	assert.Equal(t, TierHot, tier)

	path, tier = DecideWritePath(5000, 0.9)
	assert.Equal(t, PathCoW, path)
	assert.Equal(t, TierHot, tier)

	path, tier = DecideWritePath(5000, 0.2)
	assert.Equal(t, PathMoR, path)
	assert.Equal(t, TierWarm, tier)

	path, tier = DecideWritePath(500, 0.6)
	assert.Equal(t, PathCoW, path)
	assert.Equal(t, TierHot, tier)

	path, tier = DecideWritePath(500, 0.2)
	assert.Equal(t, PathMoR, path)
	assert.Equal(t, TierWarm, tier)
}

func TestStore_WriteAndScan_DedupesAcrossTiers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore("events", DefaultConfig())

	_, err := s.Write(ctx, rowsFor(3, now), now)
	require.NoError(t, err)

	// A later write for the same key should win the scan.
	later := now.Add(time.Minute)
	_, err = s.Write(ctx, []Row{{Key: "k1", CommitTS: later, Values: value.Record{
		Values: map[string]value.Value{"id": value.Int(99)},
	}}}, later)
	require.NoError(t, err)

	rows, err := s.Scan(ctx, later.Add(time.Second))
	require.NoError(t, err)

	var k1 Row
	for _, r := range rows {
		if r.Key == "k1" {
			k1 = r
		}
	}
	assert.True(t, value.Equal(value.Int(99), k1.Values.Get("id")))
}

func TestStore_Scan_OmitsTombstones(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore("events", DefaultConfig())

	_, err := s.Write(ctx, []Row{{Key: "k1", CommitTS: now, Values: value.Record{}}}, now)
	require.NoError(t, err)

	deletedAt := now.Add(time.Second)
	_, err = s.Write(ctx, []Row{{Key: "k1", CommitTS: deletedAt, Tombstone: true}}, deletedAt)
	require.NoError(t, err)

	rows, err := s.Scan(ctx, deletedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestStore_Compact_PromotesOldHotBlocksToWarm(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.HotTierMaxAge = time.Minute
	s := NewStore("events", cfg)

	_, err := s.Write(ctx, rowsFor(1, base), base)
	require.NoError(t, err)

	later := base.Add(2 * time.Minute)
	result, err := s.Compact(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 0, result.RemainingHot)
	assert.Equal(t, 1, result.RemainingWarm)
}

func TestStore_ShouldCompact_TriggersOnIntervalElapsed(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.CompactionInterval = time.Minute
	s := NewStore("events", cfg)

	ok, reason := s.ShouldCompact(base)
	assert.True(t, ok)
	assert.NotEmpty(t, reason)
}

func TestIndex_UpdateAndLookup(t *testing.T) {
	ix := NewIndex("status", IndexHash)
	ix.Update("k1", value.String("open"))
	ix.Update("k2", value.String("open"))
	ix.Update("k3", value.String("closed"))

	assert.ElementsMatch(t, []string{"k1", "k2"}, ix.Lookup(value.String("open")))
	assert.ElementsMatch(t, []string{"k3"}, ix.Lookup(value.String("closed")))
}

func TestIndex_Range_OrderedKind(t *testing.T) {
	ix := NewIndex("score", IndexOrdered)
	ix.Update("a", value.Int(10))
	ix.Update("b", value.Int(20))
	ix.Update("c", value.Int(30))

	got := ix.Range(value.Int(15), value.Int(30))
	assert.ElementsMatch(t, []string{"b", "c"}, got)
}
