package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectivity_MultiplicativeWithFloor(t *testing.T) {
	s := selectivity([]Predicate{{Kind: PredicateEquality}, {Kind: PredicateEquality}, {Kind: PredicateEquality}})
	assert.InDelta(t, 0.01*0.01*0.01, s, 1e-9)

	s = selectivity([]Predicate{{Kind: PredicateEquality}, {Kind: PredicateEquality}, {Kind: PredicateEquality}, {Kind: PredicateEquality}, {Kind: PredicateEquality}, {Kind: PredicateEquality}})
	assert.Equal(t, 0.001, s)
}

func TestCost_IndexCheaperThanTableScanUnderSelectivePredicate(t *testing.T) {
	now := time.Now()
	shape := QueryShape{
		EstimatedRowCount: 100_000,
		Predicates:        []Predicate{{Column: "id", Kind: PredicateEquality}},
	}
	indexCost := Cost(IndexScan, shape, now)
	tableCost := Cost(TableScan, shape, now)
	assert.Less(t, indexCost, tableCost)
}

func TestTimelineCost_Bands(t *testing.T) {
	now := time.Now()
	tenMinAgo := now.Add(-10 * time.Minute)
	twoDaysAgo := now.Add(-48 * time.Hour)

	recent := Cost(TimelineScan, QueryShape{AsOf: &tenMinAgo}, now)
	old := Cost(TimelineScan, QueryShape{AsOf: &twoDaysAgo}, now)
	assert.Less(t, recent, old)
}

func TestSelectJoinAlgorithm(t *testing.T) {
	kind, _ := SelectJoinAlgorithm(true, JoinSide{100}, JoinSide{100})
	assert.Equal(t, MergeJoin, kind)

	kind, buildLeft := SelectJoinAlgorithm(true, JoinSide{100}, JoinSide{50_000})
	assert.Equal(t, HashJoin, kind)
	assert.True(t, buildLeft)

	kind, _ = SelectJoinAlgorithm(false, JoinSide{5}, JoinSide{5})
	assert.Equal(t, NestedLoopJoin, kind)
}

func TestViewRegistry_RewriteRequiresFreshness(t *testing.T) {
	reg := NewViewRegistry()
	now := time.Now()
	reg.Register(&MaterializedView{
		Name:          "mv1",
		DefiningQuery: "SELECT * FROM events",
		SourceTables:  []string{"events"},
		Watermark:     now,
	})

	mv, ok := reg.TryRewrite("select   *  from   EVENTS", map[string]time.Time{"events": now.Add(-time.Minute)})
	require.True(t, ok)
	assert.Equal(t, "mv1", mv.Name)

	_, ok = reg.TryRewrite("select * from events", map[string]time.Time{"events": now.Add(time.Minute)})
	assert.False(t, ok, "view watermark behind the source's latest commit must not be used")
}

func TestResultCache_ExpiresByAge(t *testing.T) {
	c := NewResultCache(10, time.Minute)
	now := time.Now()
	c.Put("k1", "v1", now)

	v, ok := c.Get("k1", now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = c.Get("k1", now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestResultCache_EvictsOldestInsertionOnOverflow(t *testing.T) {
	c := NewResultCache(2, time.Hour)
	now := time.Now()
	c.Put("k1", "v1", now)
	c.Put("k2", "v2", now.Add(time.Second))

	// Reading k1 must not protect it from eviction: the cache evicts by
	// insertion order, not recency of access.
	_, _ = c.Get("k1", now.Add(2*time.Second))

	c.Put("k3", "v3", now.Add(3*time.Second))

	_, ok := c.Get("k1", now.Add(4*time.Second))
	assert.False(t, ok, "oldest-inserted entry should have been evicted")
	_, ok = c.Get("k2", now.Add(4*time.Second))
	assert.True(t, ok)
	_, ok = c.Get("k3", now.Add(4*time.Second))
	assert.True(t, ok)
}

func TestPlanner_Plan_PrefersMaterializedView(t *testing.T) {
	p := New(16, time.Hour)
	now := time.Now()
	p.Views.Register(&MaterializedView{
		Name:          "mv1",
		DefiningQuery: "select * from events",
		SourceTables:  []string{"events"},
		Watermark:     now,
	})

	plan := p.Plan(QueryShape{Table: "events", Text: "select * from events"},
		map[string]time.Time{"events": now.Add(-time.Second)}, now)
	assert.Equal(t, MaterializedViewRewrite, plan.Kind)
}

func TestPlanner_Plan_FallsBackToTableScanWithoutIndex(t *testing.T) {
	p := New(16, time.Hour)
	now := time.Now()
	plan := p.Plan(QueryShape{Table: "events", Text: "select * from events where status = 'open'",
		Predicates: []Predicate{{Column: "status", Kind: PredicateEquality}}}, nil, now)
	assert.Equal(t, TableScan, plan.Kind)
}

func TestPlanner_Plan_ChoosesIndexScanWhenIndexed(t *testing.T) {
	p := New(16, time.Hour)
	now := time.Now()
	plan := p.Plan(QueryShape{
		Table:             "events",
		Text:              "select * from events where status = 'open'",
		EstimatedRowCount: 1_000_000,
		Predicates:        []Predicate{{Column: "status", Kind: PredicateEquality}},
		IndexedColumns:    map[string]bool{"status": true},
	}, nil, now)
	assert.Equal(t, IndexScan, plan.Kind)
}

func TestCacheKey_StableForEquivalentQueryText(t *testing.T) {
	k1 := CacheKey("events", nil, "SELECT * FROM events")
	k2 := CacheKey("events", nil, "select   *  from events")
	assert.Equal(t, k1, k2)
}
