package planner

import (
	"time"
)

// Planner chooses the cheapest plan for a single-table query shape,
// falling back to a safe table_scan if plan enumeration fails for any
// reason (spec.md §4.4's failure semantics).
type Planner struct {
	Views *ViewRegistry
	Cache *ResultCache
}

// New returns a Planner with a fresh view registry and result cache.
func New(cacheMaxEntries int, cacheMaxAge time.Duration) *Planner {
	return &Planner{
		Views: NewViewRegistry(),
		Cache: NewResultCache(cacheMaxEntries, cacheMaxAge),
	}
}

// candidateKinds are the single-table access paths Plan considers. Plan
// skips IndexScan when no predicate is on an indexed column,
// IncrementalScan when the shape has no watermark, and ParallelScan
// when the shape's parallel degree is 0.
var candidateKinds = []PlanKind{TableScan, IndexScan, ParallelScan, TimelineScan, IncrementalScan}

// Plan chooses the cheapest single-table plan for shape as of now.
// latestCommits gives each source table's latest commit timestamp, used
// to judge materialized-view freshness; a rewrite is preferred over
// every base-table plan whenever one applies, since scanning a
// precomputed view is assumed cheaper. On any internal inconsistency
// Plan falls back to a plain table_scan rather than propagate an error.
func (p *Planner) Plan(shape QueryShape, latestCommits map[string]time.Time, now time.Time) Plan {
	if p.Views != nil {
		if _, ok := p.Views.TryRewrite(shape.Text, latestCommits); ok {
			return Plan{Kind: MaterializedViewRewrite, Cost: 0}
		}
	}

	best := Plan{Kind: TableScan, Cost: Cost(TableScan, shape, now)}
	for _, kind := range candidateKinds {
		if kind == IndexScan && !hasIndexedPredicate(shape) {
			continue
		}
		if kind == IncrementalScan && shape.IncrementalWatermark == nil {
			continue
		}
		if kind == ParallelScan && shape.ParallelDegree == 0 {
			continue
		}
		c := Cost(kind, shape, now)
		if c < best.Cost {
			best = Plan{Kind: kind, Cost: c}
		}
	}
	return best
}

func hasIndexedPredicate(shape QueryShape) bool {
	if len(shape.IndexedColumns) == 0 {
		return false
	}
	for _, p := range shape.Predicates {
		if shape.IndexedColumns[p.Column] {
			return true
		}
	}
	return false
}
