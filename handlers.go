package lakehouse

import (
	"context"

	"github.com/corelake/lakehouse/internal/eventbus"
)

// tableIndexHandler maintains table's secondary indexes off the event
// bus instead of inline in writeBatch, so index maintenance is a
// subscriber like any other (see the internal/eventbus package doc).
type tableIndexHandler struct {
	table  string
	handle *tableHandle
}

func (h *tableIndexHandler) ID() string                { return "index:" + h.table }
func (h *tableIndexHandler) Handles() []eventbus.EventType { return []eventbus.EventType{eventbus.EventCommit} }
func (h *tableIndexHandler) Priority() int             { return 10 }

func (h *tableIndexHandler) Handle(_ context.Context, event *eventbus.Event, _ *eventbus.Result) error {
	if event.Table != h.table {
		return nil
	}
	// writeBatch dispatches the commit event while it still holds
	// h.handle.mu, so the index map is already guarded here.
	for _, ti := range h.handle.indexes {
		for _, rc := range event.Rows {
			ti.index.Update(rc.Key, rc.Values.Get(ti.column))
		}
	}
	return nil
}

// cacheInvalidationHandler drops a table's cached plan results whenever
// a commit changes what "latest" means for it, so a stale ResultSet
// never outlives the write that invalidated it.
type cacheInvalidationHandler struct {
	table string
	cache interface{ InvalidateTable(string) }
}

func (h *cacheInvalidationHandler) ID() string { return "cache-invalidate:" + h.table }
func (h *cacheInvalidationHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventCommit, eventbus.EventCompaction}
}
func (h *cacheInvalidationHandler) Priority() int { return 20 }

func (h *cacheInvalidationHandler) Handle(_ context.Context, event *eventbus.Event, _ *eventbus.Result) error {
	if event.Table != h.table {
		return nil
	}
	h.cache.InvalidateTable(h.table)
	return nil
}

// registerTableHandlers wires a newly opened table's bus subscribers:
// index maintenance and result-cache invalidation. Both dispatch off
// the same commit event writeBatch already publishes, rather than each
// subsystem re-deriving "did this table just change" on its own.
func (e *Engine) registerTableHandlers(h *tableHandle) {
	e.bus.Register(&tableIndexHandler{table: h.name, handle: h})
	e.bus.Register(&cacheInvalidationHandler{table: h.name, cache: e.planner.Cache})
}
