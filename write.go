package lakehouse

import (
	"context"
	"fmt"

	"github.com/corelake/lakehouse/internal/catalog"
	"github.com/corelake/lakehouse/internal/eventbus"
	"github.com/corelake/lakehouse/internal/hybrid"
	"github.com/corelake/lakehouse/internal/value"
)

// validateRecord checks r against schema's active columns: every
// non-nullable column must be present and of a compatible type.
func validateRecord(schema catalog.Schema, r value.Record) error {
	for _, col := range schema.ActiveColumns() {
		v, present := r.Values[col.Name]
		if !present || v.IsNull() {
			if !col.Nullable {
				return fmt.Errorf("lakehouse: column %q: %w", col.Name, ErrSchemaMismatch)
			}
			continue
		}
		if !typeMatches(col.Type, v.Kind) {
			return fmt.Errorf("lakehouse: column %q: %w", col.Name, ErrSchemaMismatch)
		}
	}
	return nil
}

func typeMatches(ct catalog.ColumnType, k value.Kind) bool {
	switch ct {
	case catalog.TypeInt:
		return k == value.KindInt
	case catalog.TypeFloat:
		return k == value.KindFloat || k == value.KindInt
	case catalog.TypeString:
		return k == value.KindString
	case catalog.TypeBool:
		return k == value.KindBool
	case catalog.TypeTimestamp:
		return k == value.KindTimestamp
	case catalog.TypeArray:
		return k == value.KindArray
	case catalog.TypeStruct:
		return k == value.KindStruct
	default:
		return false
	}
}

// writeBatch is the shared path for Insert and Upsert: validate, stage
// and commit one txn per row, write the resulting rows into the hybrid
// store, maintain indexes, and append one timeline commit covering the
// whole batch.
func (e *Engine) writeBatch(ctx context.Context, table string, records []value.Record, keyColumns []string) (string, error) {
	h, err := e.table(table)
	if err != nil {
		return "", err
	}
	meta, err := e.catalog.Table(table)
	if err != nil {
		return "", err
	}
	schema := meta.CurrentSchema()

	for _, r := range records {
		if err := validateRecord(schema, r); err != nil {
			return "", err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := e.clock.Now()
	rows := make([]hybrid.Row, 0, len(records))
	payloadRows := make([]value.Value, 0, len(records))

	for i, r := range records {
		key := rowKey(r, keyColumns, i)
		rec := r.Clone()
		rec.UpdatedAt = now
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}

		txnHandle := h.txns.Begin()
		if err := txnHandle.Write(ctx, key, recordToValue(rec)); err != nil {
			txnHandle.Abort()
			return "", fmt.Errorf("lakehouse: stage write %q: %w", key, err)
		}
		if _, err := txnHandle.Commit(ctx); err != nil {
			return "", fmt.Errorf("lakehouse: commit %q: %w", key, err)
		}

		rows = append(rows, hybrid.Row{Key: key, CommitTS: now, Values: rec})
		payloadRows = append(payloadRows, value.Struct(map[string]value.Value{
			"key":    value.String(key),
			"values": recordToValue(rec),
		}))
	}

	if _, err := h.store.Write(ctx, rows, now); err != nil {
		return "", fmt.Errorf("lakehouse: write rows to %q: %w", table, err)
	}

	entry, err := h.timeline.Append(ctx, value.Array(payloadRows), uint32(schema.Version), now)
	if err != nil {
		return "", fmt.Errorf("lakehouse: append commit for %q: %w", table, err)
	}

	// A fresh commit supersedes any prior rollback: from here on Query
	// should see the table's true head again, not the stale ceiling.
	h.hasRollbackCeiling = false

	keys := make([]string, len(rows))
	rowChanges := make([]eventbus.RowChange, len(rows))
	for i, row := range rows {
		keys[i] = row.Key
		rowChanges[i] = eventbus.RowChange{Key: row.Key, Values: row.Values}
	}
	if _, err := e.bus.Dispatch(ctx, &eventbus.Event{
		Type:     eventbus.EventCommit,
		Table:    table,
		CommitID: entry.CommitID,
		CommitTS: now,
		Keys:     keys,
		Rows:     rowChanges,
	}); err != nil {
		return "", fmt.Errorf("lakehouse: dispatch commit event: %w", err)
	}

	return entry.CommitID, nil
}

// Insert appends records to table, synthesizing a content-addressed key
// for each row (spec §6: insert(table, records[]) -> Ok(commit_id) | Conflict).
func (e *Engine) Insert(ctx context.Context, table string, records []value.Record) (string, error) {
	return e.writeBatch(ctx, table, records, nil)
}

// Upsert writes records to table keyed by keyColumns: a record whose key
// matches an existing row supersedes it (I3: the lower commit_ts loses
// the race on a shared key, never both).
func (e *Engine) Upsert(ctx context.Context, table string, records []value.Record, keyColumns []string) (string, error) {
	if len(keyColumns) == 0 {
		return "", fmt.Errorf("lakehouse: upsert on %q: %w", table, ErrSchemaMismatch)
	}
	return e.writeBatch(ctx, table, records, keyColumns)
}
