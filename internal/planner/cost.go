package planner

import "time"

// Cost model weights from spec.md §4.4:
// cost = 0.60*IO + 0.20*CPU + 0.15*TIMELINE + 0.05*NETWORK
const (
	weightIO       = 0.60
	weightCPU      = 0.20
	weightTimeline = 0.15
	weightNetwork  = 0.05
)

var ioBase = map[PlanKind]float64{
	IndexScan:       0.3,
	TableScan:       1.0,
	TimelineScan:    1.5,
	IncrementalScan: 0.2,
	ParallelScan:    0.8,
}

// selectivity estimates the fraction of rows a predicate set passes,
// per spec.md §4.4: equality 0.01, range 0.10, LIKE 0.50, IN 0.05,
// unknown 0.30; multiplicative across conjuncts; floor at 0.001.
func selectivity(predicates []Predicate) float64 {
	if len(predicates) == 0 {
		return 1.0
	}
	s := 1.0
	for _, p := range predicates {
		s *= predicateSelectivity(p.Kind)
	}
	if s < 0.001 {
		return 0.001
	}
	return s
}

func predicateSelectivity(k PredicateKind) float64 {
	switch k {
	case PredicateEquality:
		return 0.01
	case PredicateRange:
		return 0.10
	case PredicateLike:
		return 0.50
	case PredicateIn:
		return 0.05
	default:
		return 0.30
	}
}

// sizeFactor scales IO cost with the estimated row count: a simple
// logarithmic dampening so plans over very large tables aren't
// penalized linearly relative to a selective predicate's savings.
func sizeFactor(estimatedRows float64) float64 {
	if estimatedRows <= 1 {
		return 1.0
	}
	factor := 1.0
	rows := estimatedRows
	for rows > 10 {
		factor += 0.5
		rows /= 10
	}
	return factor
}

func ioCost(kind PlanKind, shape QueryShape) float64 {
	base, ok := ioBase[kind]
	if !ok {
		base = ioBase[TableScan]
	}
	return base * sizeFactor(shape.EstimatedRowCount) * selectivity(shape.Predicates)
}

// cpuCost applies a base cost per operation plus 10% per WHERE
// predicate and 5% per degree of requested parallelism.
func cpuCost(shape QueryShape) float64 {
	base := 1.0
	base *= 1.0 + 0.10*float64(len(shape.Predicates))
	base *= 1.0 + 0.05*float64(shape.ParallelDegree)
	return base
}

// timelineCost scores how far back in history a time-travel read asks
// for, per spec.md §4.4's four age bands.
func timelineCost(asOf *time.Time, now time.Time) float64 {
	if asOf == nil {
		return 1.0
	}
	age := now.Sub(*asOf)
	switch {
	case age <= time.Hour:
		return 1.0
	case age <= 24*time.Hour:
		return 1.3
	case age <= 7*24*time.Hour:
		return 1.6
	default:
		return 2.0
	}
}

// networkCost models coordination overhead for parallel plans.
func networkCost(parallelDegree int) float64 {
	cost := 1.0 + 0.1*float64(parallelDegree)
	if parallelDegree > 0 {
		cost *= 1.1
	}
	return cost
}

// Cost scores kind against shape as of now, combining the four
// weighted components into spec.md §4.4's single cost value.
func Cost(kind PlanKind, shape QueryShape, now time.Time) float64 {
	io := ioCost(kind, shape)
	cpu := cpuCost(shape)
	tl := timelineCost(shape.AsOf, now)
	net := networkCost(shape.ParallelDegree)
	return weightIO*io + weightCPU*cpu + weightTimeline*tl + weightNetwork*net
}
