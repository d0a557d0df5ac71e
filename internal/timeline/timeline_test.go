package timeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelake/lakehouse/internal/value"
)

func recordValue(id int64) value.Value {
	return value.Struct(map[string]value.Value{"id": value.Int(id)})
}

// rowPayload matches write.go's on-the-wire commit payload shape: a
// single-row value.Array of {"key", "values"} structs.
func rowPayload(key string, id int64) value.Value {
	return value.Array([]value.Value{
		value.Struct(map[string]value.Value{
			"key":    value.String(key),
			"values": recordValue(id),
		}),
	})
}

func TestAppend_ChainsMerkleRoots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e1, err := tl.Append(ctx, recordValue(1), 1, base)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, e1.ParentRoot)

	e2, err := tl.Append(ctx, recordValue(2), 1, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, e1.MerkleRoot, e2.ParentRoot)
	assert.NotEqual(t, e1.MerkleRoot, e2.MerkleRoot)

	require.NoError(t, tl.Verify())
}

func TestAsOf_ReturnsMostRecentAtOrBeforeTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = tl.Append(ctx, recordValue(1), 1, base)
	require.NoError(t, err)
	e2, err := tl.Append(ctx, recordValue(2), 1, base.Add(time.Hour))
	require.NoError(t, err)

	got, err := tl.AsOf(base.Add(90 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, e2.CommitID, got.CommitID)

	_, err = tl.AsOf(base.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_ReplaysExistingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tl1, err := Open(path)
	require.NoError(t, err)
	_, err = tl1.Append(ctx, recordValue(1), 1, base)
	require.NoError(t, err)
	_, err = tl1.Append(ctx, recordValue(2), 1, base.Add(time.Second))
	require.NoError(t, err)

	tl2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tl2.Len())
	require.NoError(t, tl2.Verify())
}

func TestDiff_ReturnsEntriesBetweenCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e1, err := tl.Append(ctx, recordValue(1), 1, base)
	require.NoError(t, err)
	e2, err := tl.Append(ctx, recordValue(2), 1, base.Add(time.Second))
	require.NoError(t, err)
	e3, err := tl.Append(ctx, recordValue(3), 1, base.Add(2*time.Second))
	require.NoError(t, err)

	diff, err := tl.Diff(e1.CommitID, e3.CommitID)
	require.NoError(t, err)
	require.Len(t, diff, 2)
	assert.Equal(t, e2.CommitID, diff[0].CommitID)
	assert.Equal(t, e3.CommitID, diff[1].CommitID)
}

func TestCompact_FoldsOldCommitsPastThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = tl.Append(ctx, rowPayload("a", 1), 1, base)
	require.NoError(t, err)
	_, err = tl.Append(ctx, rowPayload("a", 2), 1, base.Add(time.Minute))
	require.NoError(t, err)
	e3, err := tl.Append(ctx, rowPayload("b", 3), 1, base.Add(2*time.Minute))
	require.NoError(t, err)

	now := base.Add(32 * time.Minute)
	seg, err := tl.Compact(RetentionPolicy{Now: now, Threshold: 30 * time.Minute})
	require.NoError(t, err)
	require.NotNil(t, seg)

	// Both commits to key "a" fold to its last value; the run stops
	// before e3 because e3 sits exactly at now minus the threshold and is
	// not strictly older than it.
	require.Len(t, seg.Entries, 2)
	assert.Equal(t, base.Add(time.Minute), seg.Summary.EndTimestamp)
	assert.Equal(t, e3.ParentRoot, seg.Summary.EndRoot)

	require.Len(t, tl.Segments(), 1)
	assert.Equal(t, seg.Summary.EndTimestamp, tl.CompactedThrough())

	// Time-travel into the compacted range still works off the raw log.
	got, err := tl.AsOf(base.Add(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Payload.Array[0].Struct["values"].Struct["id"].Int)

	require.NoError(t, tl.Verify())
}

func TestCompact_SkipsRunsReferencedByLiveWatermark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = tl.Append(ctx, rowPayload("a", 1), 1, base)
	require.NoError(t, err)
	watermark := base.Add(time.Minute)
	_, err = tl.Append(ctx, rowPayload("a", 2), 1, watermark)
	require.NoError(t, err)
	_, err = tl.Append(ctx, rowPayload("a", 3), 1, base.Add(2*time.Minute))
	require.NoError(t, err)

	now := base.Add(time.Hour)
	seg, err := tl.Compact(RetentionPolicy{
		Now:            now,
		Threshold:      30 * time.Minute,
		LiveWatermarks: []time.Time{watermark},
	})
	require.NoError(t, err)
	assert.Nil(t, seg)
	assert.Empty(t, tl.Segments())
}

func TestCompact_ReturnsNilWhenNothingEligible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = tl.Append(ctx, rowPayload("a", 1), 1, base)
	require.NoError(t, err)

	seg, err := tl.Compact(RetentionPolicy{Now: base.Add(time.Hour), Threshold: 30 * time.Minute})
	require.NoError(t, err)
	assert.Nil(t, seg)
}

func TestCompact_ResumesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.log")
	tl1, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = tl1.Append(ctx, rowPayload("a", 1), 1, base)
	require.NoError(t, err)
	_, err = tl1.Append(ctx, rowPayload("a", 2), 1, base.Add(time.Minute))
	require.NoError(t, err)
	_, err = tl1.Append(ctx, rowPayload("a", 3), 1, base.Add(2*time.Minute))
	require.NoError(t, err)

	now := base.Add(time.Hour)
	seg1, err := tl1.Compact(RetentionPolicy{Now: now, Threshold: 30 * time.Minute})
	require.NoError(t, err)
	require.NotNil(t, seg1)

	tl2, err := Open(path)
	require.NoError(t, err)
	require.Len(t, tl2.Segments(), 1)
	assert.Equal(t, seg1.Summary.EndRoot, tl2.Segments()[0].EndRoot)
	assert.Equal(t, tl1.CompactedThrough(), tl2.CompactedThrough())
	require.NoError(t, tl2.Verify())

	// Compact again picks up where the last segment left off instead of
	// refolding already-covered commits.
	seg2, err := tl2.Compact(RetentionPolicy{Now: now, Threshold: 30 * time.Minute})
	require.NoError(t, err)
	assert.Nil(t, seg2)
}
