// Package memmanager is the central memory manager spec.md §5
// describes: query, cache, and compaction pools with quotas, leak
// detection on every allocation, and pressure reporting so consumers
// can yield and retry instead of letting the process grow unbounded.
package memmanager

import (
	"fmt"
	"sync"
)

// Pool names the three consumers spec.md §5 names explicitly.
type Pool int

const (
	PoolQuery Pool = iota
	PoolCache
	PoolCompaction
)

func (p Pool) String() string {
	switch p {
	case PoolQuery:
		return "query"
	case PoolCache:
		return "cache"
	case PoolCompaction:
		return "compaction"
	default:
		return "unknown"
	}
}

// Ticket represents one outstanding allocation. Callers must call
// Release exactly once, on every exit path, or the manager's leak
// detector will report it as leaked.
type Ticket struct {
	pool  Pool
	bytes int64
	id    uint64
}

// Manager tracks occupancy per pool against a quota and reports
// pressure when aggregate occupancy crosses a threshold.
type Manager struct {
	mu               sync.Mutex
	quotas           map[Pool]int64
	occupied         map[Pool]int64
	outstanding      map[uint64]Ticket
	nextID           uint64
	pressureThreshold int64
	onPressure       []func()
}

// New returns a Manager with the given per-pool quotas (bytes) and an
// aggregate pressure threshold (bytes) above which OnPressure
// callbacks fire.
func New(quotas map[Pool]int64, pressureThreshold int64) *Manager {
	return &Manager{
		quotas:            quotas,
		occupied:          make(map[Pool]int64),
		outstanding:       make(map[uint64]Ticket),
		pressureThreshold: pressureThreshold,
	}
}

// ErrQuotaExceeded is returned by Allocate when a pool's quota would be
// exceeded.
type ErrQuotaExceeded struct {
	Pool  Pool
	Bytes int64
	Quota int64
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("memmanager: pool %s would exceed quota (%d + requested > %d)", e.Pool, e.Bytes, e.Quota)
}

// Allocate declares an allocation of bytes against pool, returning a
// Ticket the caller must Release. It fails if the pool's quota would
// be exceeded.
func (m *Manager) Allocate(pool Pool, bytes int64) (Ticket, error) {
	m.mu.Lock()
	quota, hasQuota := m.quotas[pool]
	current := m.occupied[pool]
	if hasQuota && current+bytes > quota {
		m.mu.Unlock()
		return Ticket{}, &ErrQuotaExceeded{Pool: pool, Bytes: current, Quota: quota}
	}

	m.nextID++
	t := Ticket{pool: pool, bytes: bytes, id: m.nextID}
	m.occupied[pool] = current + bytes
	m.outstanding[t.id] = t
	m.mu.Unlock()

	m.notifyIfPressured()
	return t, nil
}

// Release returns a ticket's bytes to its pool. Releasing an unknown
// (already-released) ticket is a no-op, so defer-based cleanup on
// every exit path is always safe to call twice.
func (m *Manager) Release(t Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outstanding[t.id]; !ok {
		return
	}
	delete(m.outstanding, t.id)
	m.occupied[t.pool] -= t.bytes
	if m.occupied[t.pool] < 0 {
		m.occupied[t.pool] = 0
	}
}

// Occupied reports a pool's current occupancy in bytes.
func (m *Manager) Occupied(pool Pool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.occupied[pool]
}

// Leaked returns the tickets currently outstanding, for diagnostics.
// A non-empty result after a clean shutdown indicates a missing
// Release on some exit path.
func (m *Manager) Leaked() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Ticket, 0, len(m.outstanding))
	for _, t := range m.outstanding {
		out = append(out, t)
	}
	return out
}

// UnderPressure reports whether aggregate occupancy across all pools
// exceeds the configured pressure threshold.
func (m *Manager) UnderPressure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregateLocked() > m.pressureThreshold
}

func (m *Manager) aggregateLocked() int64 {
	var total int64
	for _, v := range m.occupied {
		total += v
	}
	return total
}

// OnPressure registers fn to be invoked after every successful Allocate
// call that leaves aggregate occupancy above the pressure threshold. This is
// the supplemented callback hook: consumers that want to proactively
// shed load (e.g. the result cache evicting early) register here
// instead of polling UnderPressure.
func (m *Manager) OnPressure(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPressure = append(m.onPressure, fn)
}

// notifyIfPressured fires registered callbacks outside the lock to
// avoid reentrancy deadlocks if a callback calls back into the
// manager.
func (m *Manager) notifyIfPressured() {
	m.mu.Lock()
	over := m.aggregateLocked() > m.pressureThreshold
	callbacks := append([]func(){}, m.onPressure...)
	m.mu.Unlock()

	if !over {
		return
	}
	for _, fn := range callbacks {
		fn()
	}
}
