// Package lakehouse is the root facade of the transactional lakehouse
// engine: it wires the Schema Catalog, the per-table transaction
// manager, the Merkle timeline, the hybrid tiered store, and the
// cost-based planner into the Engine API of spec.md §6.
package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corelake/lakehouse/internal/blockio"
	"github.com/corelake/lakehouse/internal/catalog"
	"github.com/corelake/lakehouse/internal/clock"
	"github.com/corelake/lakehouse/internal/config"
	"github.com/corelake/lakehouse/internal/eventbus"
	"github.com/corelake/lakehouse/internal/hybrid"
	"github.com/corelake/lakehouse/internal/idgen"
	"github.com/corelake/lakehouse/internal/lockfile"
	"github.com/corelake/lakehouse/internal/memmanager"
	"github.com/corelake/lakehouse/internal/planner"
	"github.com/corelake/lakehouse/internal/timeline"
	"github.com/corelake/lakehouse/internal/txn"
	"github.com/corelake/lakehouse/internal/value"
)

var (
	errIntegrity = errors.New("lakehouse: integrity check failed")
	errConfig    = errors.New("lakehouse: invalid configuration")
)

// unboundedFuture stands in for "no upper bound" wherever the spec's
// τ_end == 0 convention meets Go's time.Time, whose zero value sorts
// before every real timestamp rather than after it.
var unboundedFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func classifyContext(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	default:
		return KindStorageError
	}
}

// tableHandle bundles one table's subsystem instances: its own
// transaction manager, timeline, hybrid store, and secondary indexes.
// Per spec §5, writers to a table serialize at the commit point but
// tables are otherwise independent -- a transaction spanning two
// tables commits once per table, never atomically across both.
type tableHandle struct {
	mu       sync.Mutex
	name     string
	txns     *txn.Manager
	timeline *timeline.Timeline
	store    *hybrid.Store
	indexes  map[string]*tableIndex

	// rolledBackTo is the read ceiling RollbackTo installs: once
	// hasRollbackCeiling is true, Query (but not QueryAsOf, which names
	// its own point explicitly) is pinned to rolledBackTo instead of the
	// table's true head, until the next write clears the ceiling again
	// via writeBatch. A separate bool (rather than testing rolledBackTo
	// against the zero time) is needed because a snapshot taken before a
	// table's first commit legitimately rolls back to the zero watermark.
	rolledBackTo      time.Time
	hasRollbackCeiling bool
}

type tableIndex struct {
	index  *hybrid.Index
	column string
}

// Snapshot is a named, persistable point-in-time handle (the
// SUPPLEMENTED FEATURES note in SPEC_FULL.md: branch-qualified
// snapshots are out of scope, so Snapshot is the sole retained handle).
type Snapshot struct {
	ID         string
	Timestamp  time.Time
	Watermarks map[string]time.Time // table -> as-of timestamp captured at snapshot time
}

// Engine is the lakehouse database handle. One Engine owns one
// on-disk root directory and holds the single-writer process lock for
// it (internal/lockfile), matching spec §5's shared-append-only
// timeline discipline.
type Engine struct {
	mu        sync.RWMutex
	layout    blockio.Layout
	lock      *lockfile.Lock
	catalog   *catalog.Catalog
	tables    map[string]*tableHandle
	planner   *planner.Planner
	bus       *eventbus.Bus
	mem       *memmanager.Manager
	clock     clock.Clock
	cfg       config.Config
	snapshots map[string]Snapshot
}

// Open creates (or reopens) a lakehouse database rooted at dir. It
// ensures the on-disk layout (spec §6), loads any existing schema
// catalog, and acquires the directory's single-writer lock.
func Open(dir string, cfg config.Config) (*Engine, error) {
	layout := blockio.NewLayout(dir)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("lakehouse: ensure layout: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(dir, ".lakehouse.lock"))
	if err != nil {
		return nil, fmt.Errorf("lakehouse: acquire process lock: %w", err)
	}

	e := &Engine{
		layout:    layout,
		lock:      lock,
		catalog:   catalog.New(),
		tables:    make(map[string]*tableHandle),
		planner:   planner.New(cfg.ResultCacheMaxEntries, cfg.ResultCacheMaxAge),
		bus:       eventbus.New(),
		mem:       memmanager.New(defaultPoolQuotas(), defaultPressureThreshold),
		clock:     clock.Real,
		cfg:       cfg,
		snapshots: make(map[string]Snapshot),
	}

	data, err := os.ReadFile(catalogPath(layout))
	switch {
	case err == nil:
		if err := e.catalog.UnmarshalFrom(data); err != nil {
			return nil, fmt.Errorf("lakehouse: load catalog at %s: %w", dir, err)
		}
		for _, name := range e.catalog.Tables() {
			if err := e.reopenTable(name); err != nil {
				return nil, err
			}
		}
	case os.IsNotExist(err):
		// Fresh directory: no catalog to recover, CreateTable starts from genesis.
	default:
		return nil, fmt.Errorf("lakehouse: read catalog at %s: %w", dir, err)
	}

	return e, nil
}

// catalogPath is where Open/persistCatalog keep the durable catalog
// snapshot (spec.md §6: "schema/ — serialized schema catalog").
func catalogPath(layout blockio.Layout) string {
	return filepath.Join(layout.SchemaDir(), "catalog.json")
}

// persistCatalog writes the current catalog to disk as canonical JSON.
// It is called after every DDL operation (CreateTable, AddColumn,
// DropColumn) so a reopen always sees the latest schema, never just
// whatever schema the first CreateTable call happened to establish.
func (e *Engine) persistCatalog() error {
	data, err := e.catalog.MarshalJSON()
	if err != nil {
		return fmt.Errorf("lakehouse: marshal catalog: %w", err)
	}
	if err := os.WriteFile(catalogPath(e.layout), data, 0o644); err != nil {
		return fmt.Errorf("lakehouse: persist catalog: %w", err)
	}
	return nil
}

// reopenTable rebuilds a table's handle from what's already durable on
// disk: its timeline (replayed in full by timeline.Open) and its
// hybrid store's persisted blocks (internal/hybrid.Store.LoadBlocks).
// Unlike CreateTable it never touches the catalog, so a reopened
// table's schema-version history survives untouched -- the bug this
// replaces was calling CreateTable again, which reset every table back
// to schema version 1.
func (e *Engine) reopenTable(name string) error {
	if err := e.layout.EnsureTable(name); err != nil {
		return fmt.Errorf("lakehouse: reopen table %q: %w", name, err)
	}

	tl, err := timeline.Open(e.layout.TimelineSegmentPath(name, 0))
	if err != nil {
		return fmt.Errorf("lakehouse: reopen timeline for %q: %w", name, err)
	}

	storeCfg, err := hybrid.LoadTierHints(e.layout.TierHintsPath(name), hybrid.DefaultConfig())
	if err != nil {
		return fmt.Errorf("lakehouse: tier hints for %q: %w", name, err)
	}
	store := hybrid.NewStore(name, storeCfg)
	if err := store.LoadBlocks(e.layout); err != nil {
		return fmt.Errorf("lakehouse: load blocks for %q: %w", name, err)
	}

	h := &tableHandle{
		name:     name,
		txns:     txn.NewManager(),
		timeline: tl,
		store:    store,
		indexes:  make(map[string]*tableIndex),
	}
	e.tables[name] = h
	e.registerTableHandlers(h)
	return nil
}

const defaultPressureThreshold = 256 * 1024 * 1024

func defaultPoolQuotas() map[memmanager.Pool]int64 {
	return map[memmanager.Pool]int64{
		memmanager.PoolQuery:      128 * 1024 * 1024,
		memmanager.PoolCache:      64 * 1024 * 1024,
		memmanager.PoolCompaction: 128 * 1024 * 1024,
	}
}

// Close releases the engine's process lock. It does not flush any
// in-memory state beyond what each Append/Write call already persisted.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lock == nil {
		return nil
	}
	err := e.lock.Unlock()
	e.lock = nil
	return err
}

// CreateTable registers a new table at schema version 1 and brings up
// its transaction manager, timeline, and hybrid store.
func (e *Engine) CreateTable(name string, columns []catalog.Column, mode catalog.StorageMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.layout.EnsureTable(name); err != nil {
		return fmt.Errorf("lakehouse: create table %q: %w", name, err)
	}

	if err := e.catalog.CreateTable(name, columns, mode, "genesis"); err != nil {
		return err
	}

	tl, err := timeline.Open(e.layout.TimelineSegmentPath(name, 0))
	if err != nil {
		return fmt.Errorf("lakehouse: open timeline for %q: %w", name, err)
	}

	storeCfg, err := hybrid.LoadTierHints(e.layout.TierHintsPath(name), hybrid.DefaultConfig())
	if err != nil {
		return fmt.Errorf("lakehouse: tier hints for %q: %w", name, err)
	}

	store := hybrid.NewStore(name, storeCfg)
	store.EnableDiskBacking(e.layout)

	h := &tableHandle{
		name:     name,
		txns:     txn.NewManager(),
		timeline: tl,
		store:    store,
		indexes:  make(map[string]*tableIndex),
	}
	e.tables[name] = h
	e.registerTableHandlers(h)
	return e.persistCatalog()
}

// table returns the handle for name, or a NotFound-classified error.
func (e *Engine) table(name string) (*tableHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("lakehouse: table %q: %w", name, catalog.ErrNotFound)
	}
	return h, nil
}

// AddColumn appends a backward-compatible schema version adding col.
func (e *Engine) AddColumn(table string, col catalog.Column) (int, error) {
	v, err := e.catalog.AddColumn(table, col)
	if err != nil {
		return v, err
	}
	return v, e.persistCatalog()
}

// DropColumn marks column as dropped (additive-only; historical values
// remain reachable via earlier schema versions, I1).
func (e *Engine) DropColumn(table, column string) (int, error) {
	v, err := e.catalog.DropColumn(table, column)
	if err != nil {
		return v, err
	}
	return v, e.persistCatalog()
}

// CreateIndex builds a secondary index over one column of table. Only
// single-column hash/ordered indexes are supported, matching
// internal/hybrid.Index; a composite index is represented as several
// single-column indexes maintained together, which is sufficient for
// the planner's IndexScan candidate (spec §4.4).
func (e *Engine) CreateIndex(table, name, column string, kind hybrid.IndexKind) error {
	h, err := e.table(table)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.indexes[name]; exists {
		return fmt.Errorf("lakehouse: index %q on %q: %w", name, table, catalog.ErrExists)
	}
	h.indexes[name] = &tableIndex{index: hybrid.NewIndex(column, kind), column: column}

	// Backfill from the current unified scan, so a CreateIndex after data
	// already exists still satisfies P7 (index consistency) immediately.
	rows, err := h.store.Scan(context.Background(), e.clock.Now())
	if err != nil {
		return fmt.Errorf("lakehouse: backfill index %q: %w", name, err)
	}
	for _, row := range rows {
		h.indexes[name].index.Update(row.Key, row.Values.Get(column))
	}
	return nil
}

// DropIndex removes a named index from table.
func (e *Engine) DropIndex(table, name string) error {
	h, err := e.table(table)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.indexes[name]; !ok {
		return fmt.Errorf("lakehouse: index %q on %q: %w", name, table, catalog.ErrNotFound)
	}
	delete(h.indexes, name)
	return nil
}

// CreateSnapshot captures the current as-of watermark (the timeline
// head timestamp) for every table, under a caller-chosen id.
func (e *Engine) CreateSnapshot(id string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.snapshots[id]; exists {
		return Snapshot{}, fmt.Errorf("lakehouse: snapshot %q: %w", id, catalog.ErrExists)
	}

	watermarks := make(map[string]time.Time, len(e.tables))
	for name, h := range e.tables {
		if head, err := h.timeline.Head(); err == nil {
			watermarks[name] = head.Timestamp
		} else {
			watermarks[name] = time.Time{}
		}
	}
	snap := Snapshot{ID: id, Timestamp: e.clock.Now(), Watermarks: watermarks}
	e.snapshots[id] = snap
	return snap, nil
}

// ListSnapshots returns every retained snapshot.
func (e *Engine) ListSnapshots() []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Snapshot, 0, len(e.snapshots))
	for _, s := range e.snapshots {
		out = append(out, s)
	}
	return out
}

// RollbackTo restores every table's visible state to what query_as_of
// would have returned at snapshot's capture time. The engine does not
// physically truncate the timeline (commits are immutable, I1): rollback
// is expressed by reads, not by deletion. It pins each table's
// subsequent Query reads to the snapshot's watermark by setting
// rolledBackTo on its handle; QueryAsOf, QueryRange and ChangesSince
// ignore it. Query consults that ceiling until the table's next write
// clears it (spec.md §8's
// round-trip law: CreateSnapshot(s); Insert(y); RollbackTo(s); Query()
// must not observe y).
func (e *Engine) RollbackTo(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.snapshots[id]
	if !ok {
		return fmt.Errorf("lakehouse: snapshot %q: %w", id, catalog.ErrNotFound)
	}
	for name, h := range e.tables {
		wm, ok := snap.Watermarks[name]
		if !ok {
			continue
		}
		if _, err := h.timeline.AsOf(wm); err != nil && !errors.Is(err, timeline.ErrNotFound) {
			return fmt.Errorf("lakehouse: rollback %q to %q: %w", name, id, err)
		}
		h.mu.Lock()
		h.rolledBackTo = wm
		h.hasRollbackCeiling = true
		h.mu.Unlock()
	}
	return nil
}

// recordToValue packs a value.Record into a single value.Value so it
// can ride inside a timeline commit's payload and a hybrid.Row.
func recordToValue(r value.Record) value.Value {
	return value.Struct(r.Values)
}

func valueToRecord(v value.Value, now time.Time) value.Record {
	if v.Kind != value.KindStruct {
		return value.Record{Values: map[string]value.Value{}, CreatedAt: now, UpdatedAt: now}
	}
	return value.Record{Values: v.Struct, CreatedAt: now, UpdatedAt: now}
}

// rowKey derives a row's storage key. Upsert supplies keyColumns
// explicitly; Insert (no declared key) falls back to a content-addressed
// key so repeated inserts of identical rows still land on distinct,
// stable identifiers.
func rowKey(r value.Record, keyColumns []string, seq int) string {
	if len(keyColumns) == 0 {
		digest := value.Canonical(recordToValue(r))
		return fmt.Sprintf("auto-%s-%d", idgen.ShortID(digest, 16), seq)
	}
	parts := make([]string, 0, len(keyColumns))
	for _, col := range keyColumns {
		parts = append(parts, fmt.Sprint(canonicalScalar(r.Get(col))))
	}
	return fmt.Sprintf("%v", parts)
}

func canonicalScalar(v value.Value) any {
	switch v.Kind {
	case value.KindInt:
		return v.Int
	case value.KindFloat:
		return v.Float
	case value.KindBool:
		return v.Bool
	case value.KindString:
		return v.Str
	case value.KindTimestamp:
		return v.Timestamp.UnixNano()
	default:
		return nil
	}
}
