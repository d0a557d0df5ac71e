// Package planner implements the Cost-Based Query Planner (spec.md
// §4.4): it enumerates the plan space for a query shape, scores each
// candidate with a weighted cost model, chooses a join algorithm for
// multi-table queries, rewrites to a materialized view when one is
// fresh and equivalent, and caches results by fingerprint.
package planner

import "time"

// PlanKind enumerates the access paths and join strategies the planner
// can choose between.
type PlanKind int

const (
	TableScan PlanKind = iota
	IndexScan
	ParallelScan
	TimelineScan
	IncrementalScan
	NestedLoopJoin
	HashJoin
	MergeJoin
	MaterializedViewRewrite
)

func (k PlanKind) String() string {
	switch k {
	case TableScan:
		return "table_scan"
	case IndexScan:
		return "index_scan"
	case ParallelScan:
		return "parallel_scan"
	case TimelineScan:
		return "timeline_scan"
	case IncrementalScan:
		return "incremental_scan"
	case NestedLoopJoin:
		return "nested_loop_join"
	case HashJoin:
		return "hash_join"
	case MergeJoin:
		return "merge_join"
	case MaterializedViewRewrite:
		return "materialized_view_rewrite"
	default:
		return "unknown"
	}
}

// PredicateKind classifies a WHERE predicate for selectivity estimation.
type PredicateKind int

const (
	PredicateEquality PredicateKind = iota
	PredicateRange
	PredicateLike
	PredicateIn
	PredicateUnknown
)

// Predicate is one WHERE clause conjunct over a column.
type Predicate struct {
	Column string
	Kind   PredicateKind
}

// QueryShape describes the query the planner is choosing a plan for:
// enough structure to cost candidate plans without a real parser,
// which spec.md's non-goals keep out of this engine's core.
type QueryShape struct {
	Table                string
	Text                 string // normalized query text, used for cache keys and MV matching
	Predicates           []Predicate
	IndexedColumns       map[string]bool
	EstimatedRowCount    float64 // size_factor input
	ParallelDegree       int     // 0 if the query doesn't request parallelism
	AsOf                 *time.Time
	IncrementalWatermark *time.Time
}

// Plan is one scored candidate.
type Plan struct {
	Kind PlanKind
	Cost float64
}
