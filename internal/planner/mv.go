package planner

import (
	"strings"
	"sync"
	"time"
)

// MaterializedView is a registered view: its defining query (matched
// after whitespace- and case-folding) and a watermark recording how
// fresh its contents are.
type MaterializedView struct {
	Name          string
	DefiningQuery string
	SourceTables  []string
	Watermark     time.Time
}

// normalize folds whitespace and case so two queries differing only in
// formatting still match, per spec.md §4.4.
func normalize(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	return strings.Join(fields, " ")
}

// ViewRegistry holds the materialized views available for rewrite.
type ViewRegistry struct {
	mu    sync.RWMutex
	byKey map[string]*MaterializedView
}

// NewViewRegistry returns an empty registry.
func NewViewRegistry() *ViewRegistry {
	return &ViewRegistry{byKey: make(map[string]*MaterializedView)}
}

// Register adds or replaces a materialized view definition.
func (r *ViewRegistry) Register(mv *MaterializedView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[normalize(mv.DefiningQuery)] = mv
}

// Refresh advances a view's watermark to reflect a new commit.
func (r *ViewRegistry) Refresh(name string, watermark time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mv := range r.byKey {
		if mv.Name == name {
			mv.Watermark = watermark
			return true
		}
	}
	return false
}

// TryRewrite looks for a materialized view whose defining query matches
// query (after normalization) and is fresh enough: its watermark must
// be at or after the latest commit timestamp of every table it sources
// from. latestCommits maps table name to that table's latest commit
// timestamp; a source table missing from it does not block the rewrite.
// It returns the matching view and true only when the
// rewrite is safe to apply.
func (r *ViewRegistry) TryRewrite(query string, latestCommits map[string]time.Time) (*MaterializedView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mv, ok := r.byKey[normalize(query)]
	if !ok {
		return nil, false
	}
	for _, table := range mv.SourceTables {
		latest, known := latestCommits[table]
		if !known {
			continue
		}
		if mv.Watermark.Before(latest) {
			return nil, false
		}
	}
	return mv, true
}
