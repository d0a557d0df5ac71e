// Package eventbus dispatches commit and compaction notifications to
// in-process subscribers: the engine's index maintenance and result-cache
// invalidation register as handlers rather than polling the timeline.
// The changes_since change feed reads the timeline directly.
package eventbus

import (
	"time"

	"github.com/corelake/lakehouse/internal/value"
)

// EventType distinguishes the kinds of notification the bus carries.
type EventType string

const (
	// EventCommit fires once a transaction's writes are durably
	// published to a table's timeline.
	EventCommit EventType = "commit"
	// EventCompaction fires after a compaction pass changes a table's
	// tier layout.
	EventCompaction EventType = "compaction"
)

// RowChange is one row's post-commit state, carried on an Event so
// handlers that need the values (index maintenance, MV refresh) don't
// have to re-read the timeline or hybrid store themselves.
type RowChange struct {
	Key    string
	Values value.Record
}

// Event is one notification flowing through the bus.
type Event struct {
	Type     EventType
	Table    string
	CommitID string
	CommitTS time.Time
	Keys     []string    // primary keys touched by this commit, for index handlers
	Rows     []RowChange // row values touched by this commit
}

// Result aggregates handler responses for an event: warnings accumulate
// across every handler that ran, and Failed records which handler IDs
// errored without stopping the remaining chain.
type Result struct {
	Warnings []string
	Failed   []string
}
