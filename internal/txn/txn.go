// Package txn implements the Transaction & Concurrency Core (spec.md
// §4.1): snapshot-isolated, first-writer-wins MVCC transactions over a
// per-key version store. A transaction reads against a fixed snapshot
// timestamp taken at begin() and stages its writes privately; commit()
// publishes them atomically under a new timestamp, or fails with a
// conflict if a concurrent transaction committed a write to the same
// key after this transaction's snapshot was taken.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/corelake/lakehouse/internal/telemetry"
	"github.com/corelake/lakehouse/internal/value"
)

var (
	commitCounter   metric.Int64Counter
	conflictCounter metric.Int64Counter
)

func init() {
	var err error
	commitCounter, err = telemetry.Meter.Int64Counter("txn.commits",
		metric.WithDescription("number of transactions committed"))
	if err != nil {
		panic(err)
	}
	conflictCounter, err = telemetry.Meter.Int64Counter("txn.conflicts",
		metric.WithDescription("number of transactions aborted on write-write conflict"))
	if err != nil {
		panic(err)
	}
}

// ErrConflict is returned by Commit when a concurrent transaction
// already committed a write to a key this transaction also wrote,
// after this transaction's snapshot timestamp (first-writer-wins).
var ErrConflict = errors.New("txn: write conflict")

// ErrAborted is returned by any operation against a transaction that
// has already committed or aborted.
var ErrAborted = errors.New("txn: transaction is no longer active")

// State is a transaction's position in its lifecycle.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// version is one committed value of a key, tagged with the commit
// timestamp that produced it.
type version struct {
	commitTS  uint64
	value     value.Value
	tombstone bool
}

// keyHistory is the version chain for one key, newest first.
type keyHistory struct {
	versions []version
}

func (h *keyHistory) latestAsOf(ts uint64) (version, bool) {
	for _, v := range h.versions {
		if v.commitTS <= ts {
			return v, true
		}
	}
	return version{}, false
}

func (h *keyHistory) latestCommitTS() uint64 {
	if len(h.versions) == 0 {
		return 0
	}
	return h.versions[0].commitTS
}

// Manager owns the monotonic timestamp counter and the per-key version
// store for one table. Transactions are created through Manager.Begin.
type Manager struct {
	mu       sync.Mutex
	clock    uint64
	keys     map[string]*keyHistory
	oldestLive uint64 // lowest snapshot timestamp among active transactions, for GC
}

// NewManager returns an empty Manager with its timestamp counter at 0.
func NewManager() *Manager {
	return &Manager{keys: make(map[string]*keyHistory)}
}

// nextTimestamp advances and returns the monotonic logical clock. It is
// the single suspension point callers may block on while a commit is
// in flight (spec.md §5).
func (m *Manager) nextTimestamp() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock++
	return m.clock
}

// Txn is one in-flight (or completed) transaction: a fixed read
// snapshot plus a private write buffer that becomes visible to others
// only on a successful Commit.
type Txn struct {
	mgr        *Manager
	snapshotTS uint64
	mu         sync.Mutex
	state      State
	reads      map[string]uint64 // key -> commit_ts observed at read time
	writes     map[string]stagedWrite
	writeOrder []string
}

type stagedWrite struct {
	value     value.Value
	tombstone bool
}

// Begin starts a new transaction whose reads observe every commit with
// commit_ts <= the snapshot taken now (spec.md's snapshot isolation,
// property P1).
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	snap := m.clock
	m.mu.Unlock()
	return &Txn{
		mgr:        m,
		snapshotTS: snap,
		state:      StateActive,
		reads:      make(map[string]uint64),
		writes:     make(map[string]stagedWrite),
	}
}

// Read returns the value visible to this transaction's snapshot for
// key: its own uncommitted write if one is staged, else the newest
// committed version with commit_ts <= the snapshot. Reads are recorded
// in the transaction's read set; Commit's conflict check looks only at
// the write set.
func (t *Txn) Read(ctx context.Context, key string) (value.Value, error) {
	select {
	case <-ctx.Done():
		return value.Value{}, ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return value.Value{}, ErrAborted
	}

	if w, ok := t.writes[key]; ok {
		if w.tombstone {
			return value.Null(), nil
		}
		return w.value, nil
	}

	t.mgr.mu.Lock()
	h, ok := t.mgr.keys[key]
	t.mgr.mu.Unlock()
	if !ok {
		t.reads[key] = 0
		return value.Null(), nil
	}

	v, found := h.latestAsOf(t.snapshotTS)
	if !found {
		t.reads[key] = 0
		return value.Null(), nil
	}
	t.reads[key] = v.commitTS
	if v.tombstone {
		return value.Null(), nil
	}
	return v.value, nil
}

// Write stages a value for key in this transaction's private buffer. It
// is not visible to any other transaction, nor durable, until Commit
// succeeds.
func (t *Txn) Write(ctx context.Context, key string, v value.Value) error {
	return t.stage(ctx, key, stagedWrite{value: v})
}

// Delete stages a tombstone for key.
func (t *Txn) Delete(ctx context.Context, key string) error {
	return t.stage(ctx, key, stagedWrite{tombstone: true})
}

func (t *Txn) stage(ctx context.Context, key string, w stagedWrite) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrAborted
	}
	if _, exists := t.writes[key]; !exists {
		t.writeOrder = append(t.writeOrder, key)
	}
	t.writes[key] = w
	return nil
}

// Commit validates every key this transaction wrote against the
// manager's current state and, if no such key was committed by another
// transaction after this transaction's snapshot, publishes all staged
// writes atomically under one new commit timestamp. On conflict, it
// aborts the transaction and returns ErrConflict: the caller must
// retry with a fresh Begin.
//
// Commit is the one operation spec.md §5 marks non-cancelable once it
// has begun persisting; ctx is only checked before that point.
func (t *Txn) Commit(ctx context.Context) (uint64, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "txn.Commit")
	defer span.End()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return 0, ErrAborted
	}

	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()

	for key := range t.writes {
		if h, ok := t.mgr.keys[key]; ok {
			if h.latestCommitTS() > t.snapshotTS {
				t.state = StateAborted
				conflictCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
				return 0, fmt.Errorf("%w: key %q committed after snapshot", ErrConflict, key)
			}
		}
	}

	t.mgr.clock++
	commitTS := t.mgr.clock

	for _, key := range t.writeOrder {
		w := t.writes[key]
		h, ok := t.mgr.keys[key]
		if !ok {
			h = &keyHistory{}
			t.mgr.keys[key] = h
		}
		h.versions = append([]version{{commitTS: commitTS, value: w.value, tombstone: w.tombstone}}, h.versions...)
	}

	t.state = StateCommitted
	commitCounter.Add(ctx, 1)
	return commitTS, nil
}

// Abort discards this transaction's staged writes without publishing
// them.
func (t *Txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateActive {
		t.state = StateAborted
	}
}

// State reports the transaction's current lifecycle state.
func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// GC drops versions of every key that are dominated by the oldest live
// snapshot: a version is safe to drop once a strictly newer version
// exists with commit_ts <= oldestLiveSnapshot, since no active or
// future transaction can observe it.
func (m *Manager) GC(oldestLiveSnapshot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.keys {
		keep := make([]version, 0, len(h.versions))
		keptNewerThanHorizon := false
		for _, v := range h.versions {
			if v.commitTS > oldestLiveSnapshot {
				keep = append(keep, v)
				continue
			}
			if !keptNewerThanHorizon {
				keep = append(keep, v)
				keptNewerThanHorizon = true
			}
		}
		h.versions = keep
	}
}
