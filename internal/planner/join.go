package planner

// JoinSide describes one input to a join for the purpose of algorithm
// selection: its estimated row count. Whether the join is an equi-join
// is passed to SelectJoinAlgorithm separately.
type JoinSide struct {
	EstimatedRowCount float64
}

// largeRowThreshold is the row count above which a side is considered
// "large" for join-algorithm selection (spec.md §4.4).
const largeRowThreshold = 10_000

// SelectJoinAlgorithm implements spec.md §4.4's join-algorithm
// selection: an equi-join with both sides small uses a merge join; an
// equi-join with either side large uses a hash join, built on the
// smaller side; any non-equi join uses nested loop.
func SelectJoinAlgorithm(equiJoin bool, left, right JoinSide) (kind PlanKind, buildSideIsLeft bool) {
	if !equiJoin {
		return NestedLoopJoin, true
	}
	if left.EstimatedRowCount > largeRowThreshold || right.EstimatedRowCount > largeRowThreshold {
		return HashJoin, left.EstimatedRowCount <= right.EstimatedRowCount
	}
	return MergeJoin, true
}
