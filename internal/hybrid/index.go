package hybrid

import (
	"sort"
	"sync"

	"github.com/corelake/lakehouse/internal/value"
)

// IndexKind distinguishes point-lookup hash indexes from range-capable
// ordered indexes.
type IndexKind int

const (
	IndexHash IndexKind = iota
	IndexOrdered
)

// Index maps a column's values to the primary keys of rows carrying
// them. It uses a reader-writer lock, writer-preferred, matching
// spec.md §5's shared-resource policy: Go's sync.RWMutex already
// favors waiting writers once one is blocked, so no extra bookkeeping
// is needed here.
type Index struct {
	mu      sync.RWMutex
	Column  string
	Kind    IndexKind
	entries map[string][]string // canonical value -> primary keys
	order   []string            // canonical value keys, kept sorted for IndexOrdered
}

// NewIndex creates an empty index over column.
func NewIndex(column string, kind IndexKind) *Index {
	return &Index{Column: column, Kind: kind, entries: make(map[string][]string)}
}

// Update records that row key now carries val for this index's column.
// The engine calls it from its commit-event handler, which runs while
// the writing batch still holds the table's lock, after the rows are in
// the store and the timeline.
func (ix *Index) Update(key string, val value.Value) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ck := string(value.Canonical(val))
	if _, exists := ix.entries[ck]; !exists && ix.Kind == IndexOrdered {
		ix.insertOrderedLocked(ck)
	}
	keys := ix.entries[ck]
	for _, k := range keys {
		if k == key {
			return
		}
	}
	ix.entries[ck] = append(keys, key)
}

func (ix *Index) insertOrderedLocked(ck string) {
	i := sort.SearchStrings(ix.order, ck)
	ix.order = append(ix.order, "")
	copy(ix.order[i+1:], ix.order[i:])
	ix.order[i] = ck
}

// Lookup returns the primary keys carrying exactly val.
func (ix *Index) Lookup(val value.Value) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.entries[string(value.Canonical(val))]...)
}

// Range returns the primary keys whose canonical value falls within
// [from, to], in index order. It only makes sense for IndexOrdered;
// callers choose the index kind when they know their access pattern.
func (ix *Index) Range(from, to value.Value) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	lo := string(value.Canonical(from))
	hi := string(value.Canonical(to))
	var out []string
	for _, ck := range ix.order {
		if ck < lo {
			continue
		}
		if ck > hi {
			break
		}
		out = append(out, ix.entries[ck]...)
	}
	return out
}
