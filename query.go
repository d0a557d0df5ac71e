package lakehouse

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/corelake/lakehouse/internal/hybrid"
	"github.com/corelake/lakehouse/internal/memmanager"
	"github.com/corelake/lakehouse/internal/planner"
	"github.com/corelake/lakehouse/internal/value"
)

// ResultSet is the engine's query output: the matching records, in no
// particular order beyond what the chosen plan naturally produces.
type ResultSet struct {
	Records []value.Record
	Plan    planner.Plan
}

// ChangeSet is the output of changes_since: every commit's row-level
// payload appended after watermark.
type ChangeSet struct {
	Table   string
	Entries []ChangeEntry
}

// ChangeEntry mirrors one timeline commit in a change feed.
type ChangeEntry struct {
	CommitID  string
	Timestamp time.Time
	Rows      []value.Record
}

// clause is one predicate of the minimal query grammar this engine
// supports. A full SQL lexer/parser is explicitly out of scope (spec
// non-goals); clauses exist only to drive plan selection and row
// filtering, not to express joins or aggregates.
type clause struct {
	column string
	op     string
	lit    value.Value
}

// parseQueryText parses a tiny "col OP literal [AND col OP literal]..."
// grammar. An empty or unparsable string degrades to "match everything",
// matching the planner's table_scan fallback on parse failure (spec
// §4.4's "planner failures fall back to a safe table_scan").
func parseQueryText(text string) ([]clause, []planner.Predicate) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var clauses []clause
	var predicates []planner.Predicate
	for _, part := range strings.Split(text, " AND ") {
		c, ok := parseClause(strings.TrimSpace(part))
		if !ok {
			return nil, nil
		}
		clauses = append(clauses, c)
		predicates = append(predicates, planner.Predicate{Column: c.column, Kind: predicateKind(c.op)})
	}
	return clauses, predicates
}

var clauseOps = []string{">=", "<=", "!=", "=", ">", "<", "LIKE", "IN"}

func parseClause(s string) (clause, bool) {
	for _, op := range clauseOps {
		idx := strings.Index(s, " "+op+" ")
		if idx < 0 && op == "=" {
			idx = strings.Index(s, op)
		}
		if idx < 0 {
			continue
		}
		var col, litStr string
		if op == "=" && !strings.Contains(s, " = ") {
			col = strings.TrimSpace(s[:idx])
			litStr = strings.TrimSpace(s[idx+len(op):])
		} else {
			col = strings.TrimSpace(s[:idx])
			litStr = strings.TrimSpace(s[idx+len(op)+2:])
		}
		if col == "" || litStr == "" {
			continue
		}
		return clause{column: col, op: op, lit: parseLiteral(litStr)}, true
	}
	return clause{}, false
}

func parseLiteral(s string) value.Value {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return value.String(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return value.String(s[1 : len(s)-1])
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return value.Bool(b)
	}
	return value.String(s)
}

func predicateKind(op string) planner.PredicateKind {
	switch op {
	case "=":
		return planner.PredicateEquality
	case ">", "<", ">=", "<=":
		return planner.PredicateRange
	case "LIKE":
		return planner.PredicateLike
	case "IN":
		return planner.PredicateIn
	default:
		return planner.PredicateUnknown
	}
}

func matchesClause(r value.Record, c clause) bool {
	v := r.Get(c.column)
	switch c.op {
	case "=":
		return value.Equal(v, c.lit)
	case "!=":
		return !value.Equal(v, c.lit)
	case ">":
		return value.Less(c.lit, v)
	case "<":
		return value.Less(v, c.lit)
	case ">=":
		return value.Less(c.lit, v) || value.Equal(v, c.lit)
	case "<=":
		return value.Less(v, c.lit) || value.Equal(v, c.lit)
	case "LIKE":
		return v.Kind == value.KindString && strings.Contains(v.Str, strings.Trim(stringOf(c.lit), "%"))
	case "IN":
		return value.Equal(v, c.lit)
	default:
		return true
	}
}

func stringOf(v value.Value) string {
	if v.Kind == value.KindString {
		return v.Str
	}
	return ""
}

func matchesAll(r value.Record, clauses []clause) bool {
	for _, c := range clauses {
		if !matchesClause(r, c) {
			return false
		}
	}
	return true
}

// parallelScanBlockThreshold and maxParallelDegree bound when the
// planner is even offered parallel_scan(n) as a candidate: below the
// threshold the fan-out overhead isn't worth it, and the degree never
// exceeds the cap regardless of how many blocks a table has accumulated.
const (
	parallelScanBlockThreshold = 4
	maxParallelDegree          = 8
)

// buildShape constructs the planner's QueryShape for table/queryText,
// consulting registered indexes so the planner can weigh IndexScan, and
// the table's block count so it can weigh ParallelScan.
func (e *Engine) buildShape(h *tableHandle, table, queryText string, predicates []planner.Predicate, asOf *time.Time) planner.QueryShape {
	indexed := make(map[string]bool, len(h.indexes))
	for _, ti := range h.indexes {
		indexed[ti.column] = true
	}

	blocks := h.store.BlockCount()
	degree := 0
	if blocks >= parallelScanBlockThreshold {
		degree = blocks
		if degree > maxParallelDegree {
			degree = maxParallelDegree
		}
	}

	return planner.QueryShape{
		Table:             table,
		Text:              queryText,
		Predicates:        predicates,
		IndexedColumns:    indexed,
		EstimatedRowCount: float64(blocks),
		ParallelDegree:    degree,
		AsOf:              asOf,
	}
}

// kindBounds returns a sentinel (minimum, maximum) pair of the same kind
// as a predicate's literal, for turning a one-sided range predicate into
// the two-sided bound hybrid.Index.Range requires. The index narrowing
// this feeds only needs to return a safe superset of matching keys --
// queryAt re-applies matchesAll against the full clause afterward -- so
// an inclusive sentinel on the open side costs nothing.
func kindBounds(k value.Kind) (value.Value, value.Value) {
	switch k {
	case value.KindInt:
		return value.Int(math.MinInt64), value.Int(math.MaxInt64)
	case value.KindFloat:
		return value.Float(math.Inf(-1)), value.Float(math.Inf(1))
	case value.KindString:
		return value.String(""), value.String(strings.Repeat("￿", 8))
	case value.KindTimestamp:
		return value.Timestamp(time.Time{}), value.Timestamp(unboundedFuture)
	default:
		return value.Value{}, value.Value{}
	}
}

// indexScan resolves an index_scan plan (spec.md §4.4) by finding the
// first predicate whose column carries a registered index and using it
// to narrow the read to a candidate key set, instead of the full
// table_scan every plan kind used to fall through to. It falls back to
// a full scan if no clause actually matches a registered index --
// which should not happen given the planner only offers IndexScan when
// hasIndexedPredicate already held, but a plan is a hint, not a
// guarantee, and a safe fallback costs nothing.
func (e *Engine) indexScan(ctx context.Context, h *tableHandle, clauses []clause, now time.Time) ([]hybrid.Row, error) {
	h.mu.Lock()
	byColumn := make(map[string]*tableIndex, len(h.indexes))
	for _, ti := range h.indexes {
		byColumn[ti.column] = ti
	}
	h.mu.Unlock()

	for _, c := range clauses {
		ti, ok := byColumn[c.column]
		if !ok {
			continue
		}
		var keys []string
		switch c.op {
		case "=":
			keys = ti.index.Lookup(c.lit)
		case ">=", ">":
			_, hi := kindBounds(c.lit.Kind)
			keys = ti.index.Range(c.lit, hi)
		case "<=", "<":
			lo, _ := kindBounds(c.lit.Kind)
			keys = ti.index.Range(lo, c.lit)
		default:
			continue
		}
		if len(keys) == 0 {
			return nil, nil
		}
		return h.store.ScanKeys(ctx, now, keys)
	}
	return h.store.Scan(ctx, now)
}

func (e *Engine) latestCommits() map[string]time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]time.Time, len(e.tables))
	for name, h := range e.tables {
		if head, err := h.timeline.Head(); err == nil {
			out[name] = head.Timestamp
		}
	}
	return out
}

// Query executes queryText against table's current state.
func (e *Engine) Query(ctx context.Context, table, queryText string) (ResultSet, error) {
	return e.queryAt(ctx, table, queryText, nil)
}

// QueryAsOf executes queryText against table's state as of asOf
// (time-travel read, spec §4.2's as_of).
func (e *Engine) QueryAsOf(ctx context.Context, table string, asOf time.Time, queryText string) (ResultSet, error) {
	return e.queryAt(ctx, table, queryText, &asOf)
}

func (e *Engine) queryAt(ctx context.Context, table, queryText string, asOf *time.Time) (ResultSet, error) {
	h, err := e.table(table)
	if err != nil {
		return ResultSet{}, err
	}

	// A rollback ceiling only applies to Query's "current state" reads;
	// QueryAsOf names its own point in time explicitly and bypasses it.
	effectiveAsOf := asOf
	if asOf == nil {
		h.mu.Lock()
		ceiling, has := h.rolledBackTo, h.hasRollbackCeiling
		h.mu.Unlock()
		if has {
			effectiveAsOf = &ceiling
		}
	}

	clauses, predicates := parseQueryText(queryText)
	shape := e.buildShape(h, table, queryText, predicates, effectiveAsOf)

	key := planner.CacheKey(table, effectiveAsOf, queryText)
	now := e.clock.Now()
	if cached, ok := e.planner.Cache.Get(key, now); ok {
		if rs, ok := cached.(ResultSet); ok {
			return rs, nil
		}
	}

	plan := e.planner.Plan(shape, e.latestCommits(), now)

	ticket, err := e.mem.Allocate(memmanager.PoolQuery, 1)
	if err != nil {
		return ResultSet{}, fmt.Errorf("lakehouse: query %q: %w", table, errIntegrity)
	}
	defer e.mem.Release(ticket)

	var cutoff time.Time
	if effectiveAsOf != nil {
		entry, err := h.timeline.AsOf(*effectiveAsOf)
		if err != nil {
			return ResultSet{Plan: plan}, nil
		}
		cutoff = entry.Timestamp
	}

	var rows []hybrid.Row
	switch plan.Kind {
	case planner.IndexScan:
		rows, err = e.indexScan(ctx, h, clauses, now)
	case planner.ParallelScan:
		rows, err = h.store.ScanParallel(ctx, now, shape.ParallelDegree)
	default:
		rows, err = h.store.Scan(ctx, now)
	}
	if err != nil {
		return ResultSet{}, fmt.Errorf("lakehouse: scan %q: %w", table, err)
	}

	records := make([]value.Record, 0, len(rows))
	for _, row := range rows {
		if effectiveAsOf != nil && row.CommitTS.After(cutoff) {
			continue
		}
		if matchesAll(row.Values, clauses) {
			records = append(records, row.Values)
		}
	}

	rs := ResultSet{Records: records, Plan: plan}
	e.planner.Cache.Put(key, rs, now)
	return rs, nil
}

// QueryRange executes queryText against every version of table visible
// between τ_start and τ_end, inclusive on both ends. τ_end's zero value
// means unbounded; τ_start > τ_end is normalized by swapping, per
// spec §4.2.
func (e *Engine) QueryRange(ctx context.Context, table string, start, end time.Time, queryText string) (ResultSet, error) {
	h, err := e.table(table)
	if err != nil {
		return ResultSet{}, err
	}
	if end.IsZero() {
		end = unboundedFuture
	}
	if start.After(end) {
		start, end = end, start
	}

	clauses, _ := parseQueryText(queryText)
	entries := h.timeline.Range(start, end)

	var records []value.Record
	for _, entry := range entries {
		if entry.Payload.Kind != value.KindArray {
			continue
		}
		for _, rv := range entry.Payload.Array {
			if rv.Kind != value.KindStruct {
				continue
			}
			rec := valueToRecord(rv.Struct["values"], entry.Timestamp)
			if matchesAll(rec, clauses) {
				records = append(records, rec)
			}
		}
	}
	return ResultSet{Records: records}, nil
}

// ChangesSince returns every commit (and its rows) appended to table
// strictly after watermark.
func (e *Engine) ChangesSince(table string, watermark time.Time) (ChangeSet, error) {
	h, err := e.table(table)
	if err != nil {
		return ChangeSet{}, err
	}
	entries := h.timeline.Range(watermark, unboundedFuture)

	cs := ChangeSet{Table: table}
	for _, entry := range entries {
		if !entry.Timestamp.After(watermark) {
			continue
		}
		var rows []value.Record
		if entry.Payload.Kind == value.KindArray {
			for _, rv := range entry.Payload.Array {
				if rv.Kind == value.KindStruct {
					rows = append(rows, valueToRecord(rv.Struct["values"], entry.Timestamp))
				}
			}
		}
		cs.Entries = append(cs.Entries, ChangeEntry{CommitID: entry.CommitID, Timestamp: entry.Timestamp, Rows: rows})
	}
	return cs, nil
}

// CreateMaterializedView registers name against a defining query over
// sourceTables. It takes no refresh strategy and stores no rows: Refresh
// only advances the view's watermark, and a query planned as
// materialized_view_rewrite is answered by scanning the queried table.
func (e *Engine) CreateMaterializedView(name, definingQuery string, sourceTables []string) {
	e.planner.Views.Register(&planner.MaterializedView{
		Name:          name,
		DefiningQuery: definingQuery,
		SourceTables:  sourceTables,
	})
}

// Refresh marks view's watermark as caught up to now, making the
// planner's materialized_view_rewrite eligible again (spec §4.4: "the
// planner assumes the MV is fresh only if its watermark >= the latest
// commit timestamp of every source table").
func (e *Engine) Refresh(name string) bool {
	return e.planner.Views.Refresh(name, e.clock.Now())
}
