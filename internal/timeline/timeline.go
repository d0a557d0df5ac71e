// Package timeline implements the Merkle Timeline (spec.md §4.2): an
// append-only, hash-chained commit log per table giving every table a
// verifiable history and point-in-time ("as of") reads. Each commit's
// root hashes the previous root together with its own canonicalized
// payload, so tampering with or reordering history changes every root
// after the tamper point.
package timeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/corelake/lakehouse/internal/blockio"
	"github.com/corelake/lakehouse/internal/idgen"
	"github.com/corelake/lakehouse/internal/telemetry"
	"github.com/corelake/lakehouse/internal/value"
)

// ErrNotFound is returned when no commit exists at or before a requested
// point in time.
var ErrNotFound = errors.New("timeline: no commit found")

// Entry is one commit in a table's timeline: the decoded, verified form
// of a blockio.CommitRecord.
type Entry struct {
	CommitID      string
	Timestamp     time.Time
	MerkleRoot    [32]byte
	ParentRoot    [32]byte
	SchemaVersion uint32
	Payload       value.Value
}

// Timeline is the hash-chained commit log for a single table. It is safe
// for concurrent use: appends are serialized by mu, and readers take a
// consistent snapshot of the in-memory index under RLock.
type Timeline struct {
	mu            sync.RWMutex
	path          string
	compactedDir  string
	entries       []Entry
	headRoot      [32]byte
	hasEntries    bool
	segments      []blockio.SegmentSummary
	compactedThru time.Time // EndTimestamp of the newest verified segment; zero if none
}

// Open loads (or creates) the timeline log at path, replaying any
// existing commit records to rebuild the in-memory index. Replay stops
// at the first truncated tail frame, per blockio's crash-recovery
// contract. It also reloads any segment summaries a prior Compact call
// left in path's sibling "compacted" directory, verifying the chain of
// root hashes they form; a broken or partial chain is trimmed back to
// its last good link rather than rejected outright (§4.2's compaction
// resumability).
func Open(path string) (*Timeline, error) {
	compactedDir := filepath.Join(filepath.Dir(path), "compacted")
	t := &Timeline{path: path, compactedDir: compactedDir}
	var loadErr error
	err := blockio.IterateCommitRecords(path, func(rec blockio.CommitRecord) error {
		v, err := value.Decode(rec.Payload)
		if err != nil {
			loadErr = fmt.Errorf("timeline: decode payload at %s: %w", path, err)
			return loadErr
		}
		t.entries = append(t.entries, Entry{
			CommitID:      idgen.CommitID(rec.MerkleRoot),
			Timestamp:     rec.Timestamp,
			MerkleRoot:    rec.MerkleRoot,
			ParentRoot:    rec.ParentRoot,
			SchemaVersion: rec.SchemaVersion,
			Payload:       v,
		})
		t.headRoot = rec.MerkleRoot
		t.hasEntries = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if loadErr != nil {
		return nil, loadErr
	}

	summaries, err := blockio.ListSegmentSummaries(compactedDir)
	if err != nil {
		return nil, fmt.Errorf("timeline: load segment summaries for %s: %w", path, err)
	}
	t.segments = verifySegmentChain(summaries)
	if len(t.segments) > 0 {
		t.compactedThru = t.segments[len(t.segments)-1].EndTimestamp
	}
	return t, nil
}

// verifySegmentChain keeps the longest verifiable prefix of summaries:
// each one's StartRoot must equal the zero root (the first segment) or
// the prior summary's EndRoot, and its span must not run backwards. The
// first summary that breaks the chain, and everything found after it,
// is dropped -- a partial or corrupted compaction is rolled back
// simply by never being trusted, matching spec §4.2's "a partial
// compaction either completes on restart or is rolled back."
func verifySegmentChain(summaries []blockio.SegmentSummary) []blockio.SegmentSummary {
	var parent [32]byte
	out := make([]blockio.SegmentSummary, 0, len(summaries))
	for _, s := range summaries {
		if s.StartRoot != parent || s.EndTimestamp.Before(s.StartTimestamp) {
			break
		}
		out = append(out, s)
		parent = s.EndRoot
	}
	return out
}

// Append adds a new commit carrying payload, computed against the
// current head. It returns the new Entry once it is durably persisted.
//
// The Merkle rule (spec.md §4.2):
//
//	root_i = H(root_{i-1} || canonical_serialize(payload_i) || schema_version_i)
func (t *Timeline) Append(ctx context.Context, payload value.Value, schemaVersion uint32, now time.Time) (Entry, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "timeline.Append")
	defer span.End()

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.headRoot
	root := computeRoot(parent, payload, schemaVersion)

	encoded, err := value.Encode(payload)
	if err != nil {
		span.RecordError(err)
		return Entry{}, fmt.Errorf("timeline: encode payload: %w", err)
	}

	rec := blockio.CommitRecord{
		Payload:       encoded,
		Timestamp:     now,
		MerkleRoot:    root,
		ParentRoot:    parent,
		SchemaVersion: schemaVersion,
	}
	if err := blockio.AppendCommitRecord(t.path, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append commit record failed")
		return Entry{}, err
	}
	span.SetAttributes(attribute.Int("timeline.schema_version", int(schemaVersion)))

	entry := Entry{
		CommitID:      idgen.CommitID(root),
		Timestamp:     now,
		MerkleRoot:    root,
		ParentRoot:    parent,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}
	t.entries = append(t.entries, entry)
	t.headRoot = root
	t.hasEntries = true
	return entry, nil
}

// computeRoot implements the Merkle chaining rule over a canonical
// payload encoding.
func computeRoot(parent [32]byte, payload value.Value, schemaVersion uint32) [32]byte {
	h := sha256.New()
	h.Write(parent[:])
	h.Write(value.Canonical(payload))
	var vbuf [4]byte
	vbuf[0] = byte(schemaVersion)
	vbuf[1] = byte(schemaVersion >> 8)
	vbuf[2] = byte(schemaVersion >> 16)
	vbuf[3] = byte(schemaVersion >> 24)
	h.Write(vbuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Head returns the most recent entry, or ErrNotFound if the timeline is
// empty.
func (t *Timeline) Head() (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasEntries {
		return Entry{}, ErrNotFound
	}
	return t.entries[len(t.entries)-1], nil
}

// AsOf returns the most recent entry with Timestamp <= at.
func (t *Timeline) AsOf(at time.Time) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp.After(at)
	})
	if idx == 0 {
		return Entry{}, ErrNotFound
	}
	return t.entries[idx-1], nil
}

// Range returns every entry with from <= Timestamp <= to, in commit
// order.
func (t *Timeline) Range(from, to time.Time) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := sort.Search(len(t.entries), func(i int) bool {
		return !t.entries[i].Timestamp.Before(from)
	})
	var out []Entry
	for i := start; i < len(t.entries); i++ {
		if t.entries[i].Timestamp.After(to) {
			break
		}
		out = append(out, t.entries[i])
	}
	return out
}

// Diff returns the entries committed strictly after fromCommit's
// timestamp up to and including toCommit, in commit order. It is a
// convenience built on Range, letting callers express "what changed
// between these two points" without re-deriving the bounds themselves.
func (t *Timeline) Diff(fromCommit, toCommit string) ([]Entry, error) {
	t.mu.RLock()
	from, fromOK := t.findByCommitID(fromCommit)
	to, toOK := t.findByCommitID(toCommit)
	t.mu.RUnlock()
	if !fromOK {
		return nil, fmt.Errorf("timeline: %w: from commit %s", ErrNotFound, fromCommit)
	}
	if !toOK {
		return nil, fmt.Errorf("timeline: %w: to commit %s", ErrNotFound, toCommit)
	}

	all := t.Range(from.Timestamp, to.Timestamp)
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if e.Timestamp.After(from.Timestamp) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *Timeline) findByCommitID(id string) (Entry, bool) {
	for _, e := range t.entries {
		if e.CommitID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Verify walks the chain and confirms every root matches the Merkle
// rule applied to its parent, payload, and schema version. It exists
// for integrity checks (after recovery, or before a snapshot is
// trusted); it is not on the hot path. If compaction has produced
// verified segments, Verify starts from the newest segment's EndRoot
// instead of genesis -- the segment chain already proves everything
// before it, so there is no need to replay from the start every time.
func (t *Timeline) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var parent [32]byte
	start := 0
	if len(t.segments) > 0 {
		last := t.segments[len(t.segments)-1]
		parent = last.EndRoot
		start = sort.Search(len(t.entries), func(i int) bool {
			return t.entries[i].Timestamp.After(last.EndTimestamp)
		})
	}
	for i := start; i < len(t.entries); i++ {
		e := t.entries[i]
		if e.ParentRoot != parent {
			return fmt.Errorf("timeline: entry %d parent root mismatch", i)
		}
		want := computeRoot(parent, e.Payload, e.SchemaVersion)
		if want != e.MerkleRoot {
			return fmt.Errorf("timeline: entry %d merkle root mismatch", i)
		}
		parent = e.MerkleRoot
	}
	return nil
}

// Len reports the number of entries currently in the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Segments returns every verified segment summary compaction has
// produced so far, oldest first.
func (t *Timeline) Segments() []blockio.SegmentSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]blockio.SegmentSummary(nil), t.segments...)
}

// CompactedThrough reports the EndTimestamp of the newest segment, or
// the zero time if nothing has been compacted yet.
func (t *Timeline) CompactedThrough() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.compactedThru
}

// RetentionPolicy configures one Compact call's eligibility window
// (spec.md §4.2's "compaction policy"): commits strictly older than
// Now minus Threshold are coalescible, except any commit whose
// timestamp exactly matches an entry in LiveWatermarks -- a live
// snapshot still addresses that exact point in time, and compaction
// must not fold it away.
type RetentionPolicy struct {
	Now            time.Time
	Threshold      time.Duration
	LiveWatermarks []time.Time
}

// Segment is the in-memory result of one Compact call: the durable
// summary plus the original entries it covers. Compact does not delete
// those entries -- AsOf and Range keep reading the full chain, so
// time-travel at any τ inside the coalesced range stays correct without
// needing to reapply a logical diff against the summary's folded
// state; the summary exists for crash-safe bookkeeping and for
// Verify's checkpoint, not as a replacement for the chain (I1).
type Segment struct {
	Summary blockio.SegmentSummary
	Entries []Entry
}

// Compact coalesces the oldest contiguous, not-yet-compacted run of
// commits that are both older than policy's retention threshold and
// unreferenced by any live snapshot watermark into one durable
// Segment. It returns (nil, nil) if fewer than two such commits are
// eligible, since folding a single commit saves nothing.
//
// The segment summary is written via blockio.WriteSegmentSummary's
// temp-then-rename sequence before any in-memory bookkeeping changes,
// so a crash mid-compaction leaves no partial segment visible: the
// next Open sees either the segment set from before this call or the
// one from after it, never something in between (§4.2: "compaction is
// resumable: a partial compaction either completes on restart or is
// rolled back").
func (t *Timeline) Compact(policy RetentionPolicy) (*Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := policy.Now.Add(-policy.Threshold)
	startIdx := t.compactedEntryCountLocked()

	endIdx := startIdx
	for endIdx < len(t.entries) {
		e := t.entries[endIdx]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		if referencedByWatermark(e.Timestamp, policy.LiveWatermarks) {
			break
		}
		endIdx++
	}
	if endIdx-startIdx < 2 {
		return nil, nil
	}

	run := t.entries[startIdx:endIdx]
	encoded, err := value.Encode(foldRows(run))
	if err != nil {
		return nil, fmt.Errorf("timeline: encode folded segment state: %w", err)
	}

	summary := blockio.SegmentSummary{
		StartTimestamp: run[0].Timestamp,
		EndTimestamp:   run[len(run)-1].Timestamp,
		StartRoot:      run[0].ParentRoot,
		EndRoot:        run[len(run)-1].MerkleRoot,
		SchemaVersion:  run[len(run)-1].SchemaVersion,
		Payload:        encoded,
	}

	path := filepath.Join(t.compactedDir, fmt.Sprintf("segment-%08d.summary", len(t.segments)))
	if err := blockio.WriteSegmentSummary(path, summary); err != nil {
		return nil, fmt.Errorf("timeline: write segment summary: %w", err)
	}

	t.segments = append(t.segments, summary)
	t.compactedThru = summary.EndTimestamp
	return &Segment{Summary: summary, Entries: append([]Entry(nil), run...)}, nil
}

// compactedEntryCountLocked returns the index of the first entry not
// yet covered by a prior segment. Callers must hold t.mu.
func (t *Timeline) compactedEntryCountLocked() int {
	if t.compactedThru.IsZero() {
		return 0
	}
	return sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp.After(t.compactedThru)
	})
}

func referencedByWatermark(ts time.Time, watermarks []time.Time) bool {
	for _, w := range watermarks {
		if ts.Equal(w) {
			return true
		}
	}
	return false
}

// foldRows collapses a contiguous run of commits into the final
// per-key row state as of the run's last commit (spec.md §4.2: "the
// coalesced segment stores the final state... so that time-travel at
// any τ inside the segment falls back to the segment's start state and
// then reapplies the segment's logical diff"). Each commit's payload is
// the value.Array of {"key", "values"} structs the facade writes
// (write.go); later commits in the run naturally overwrite earlier
// ones for the same key since they're folded in chronological order.
func foldRows(run []Entry) value.Value {
	latest := make(map[string]value.Value, len(run))
	order := make([]string, 0, len(run))
	for _, e := range run {
		if e.Payload.Kind != value.KindArray {
			continue
		}
		for _, rv := range e.Payload.Array {
			if rv.Kind != value.KindStruct {
				continue
			}
			key := rv.Struct["key"]
			if key.Kind != value.KindString {
				continue
			}
			if _, seen := latest[key.Str]; !seen {
				order = append(order, key.Str)
			}
			latest[key.Str] = rv
		}
	}
	rows := make([]value.Value, 0, len(order))
	for _, k := range order {
		rows = append(rows, latest[k])
	}
	return value.Array(rows)
}
