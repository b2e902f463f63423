// Package engine implements the persistence core: the generic repository,
// the relationship graph resolver, and the cascading persistence engine.
package engine

import (
	"context"
	"errors"
	"fmt"

	"relstore/internal/schema"
	"relstore/internal/store"
)

// Repository provides typed single-table operations for one entity type,
// plus the cascading graph operations in cascade.go. A repository assumes
// externally-synchronized access: concurrent cascades over overlapping
// graphs must be serialized by the caller.
type Repository[T schema.Record] struct {
	store *store.Store
	reg   *schema.Registry
	table *schema.Table

	// lastStatus is best-effort diagnostics for UI callers, updated on
	// every operation. It is not a substitute for the error return.
	lastStatus string
}

// NewRepository looks up the descriptor for entity and ensures its table
// exists, along with every table reachable through declared relations —
// cascading saves touch related and junction tables, so the whole closure
// has to be migrated up front.
func NewRepository[T schema.Record](ctx context.Context, s *store.Store, reg *schema.Registry, entity string) (*Repository[T], error) {
	t := reg.GetTable(entity)
	if t == nil {
		return nil, &schema.SchemaError{Entity: entity, Detail: "entity not registered"}
	}

	m := store.NewMigrator(s)
	if err := m.MigrateClosure(ctx, reg, t); err != nil {
		return nil, fmt.Errorf("ensure tables for %s: %w", t.Name, err)
	}

	return &Repository[T]{store: s, reg: reg, table: t}, nil
}

// SaveItem inserts item when its identity is unassigned, updates it
// otherwise. The assigned identity is written back onto item. Returns the
// number of affected rows (0 when an update matched nothing). Never cascades.
func (r *Repository[T]) SaveItem(ctx context.Context, item T) (int64, error) {
	if item.RecordID() == 0 {
		if err := insertRecord(ctx, r.store.DB, r.store.Dialect, r.table, item, nil); err != nil {
			r.setStatus("save %s failed: %v", r.table.Name, err)
			return 0, err
		}
		r.setStatus("inserted %s id=%d", r.table.Name, item.RecordID())
		return 1, nil
	}

	affected, err := updateRecord(ctx, r.store.DB, r.store.Dialect, r.table, item, nil)
	if err != nil {
		r.setStatus("save %s failed: %v", r.table.Name, err)
		return 0, err
	}
	r.setStatus("updated %s id=%d (%d rows)", r.table.Name, item.RecordID(), affected)
	return affected, nil
}

// GetItem looks up one record by identity. Absence is signaled with
// store.ErrNotFound and a zero value; callers that treat absence as valid
// should check with errors.Is.
func (r *Repository[T]) GetItem(ctx context.Context, id int64) (T, error) {
	var zero T
	row, err := fetchRowByID(ctx, r.store.DB, r.store.Dialect, r.table, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.setStatus("%s id=%d not found", r.table.Name, id)
			return zero, store.ErrNotFound
		}
		r.setStatus("get %s failed: %v", r.table.Name, err)
		return zero, err
	}
	rec, err := materialize(r.table, row)
	if err != nil {
		return zero, err
	}
	r.setStatus("loaded %s id=%d", r.table.Name, id)
	return rec.(T), nil
}

// GetItemBy returns the first record satisfying pred, in store order.
func (r *Repository[T]) GetItemBy(ctx context.Context, pred func(T) bool) (T, error) {
	var zero T
	items, err := r.GetItems(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if pred(item) {
			return item, nil
		}
	}
	r.setStatus("no %s matched predicate", r.table.Name)
	return zero, store.ErrNotFound
}

// GetItems returns every record of the table in store order.
func (r *Repository[T]) GetItems(ctx context.Context) ([]T, error) {
	return r.GetItemsWhere(ctx)
}

// GetItemsBy returns all records satisfying pred.
func (r *Repository[T]) GetItemsBy(ctx context.Context, pred func(T) bool) ([]T, error) {
	items, err := r.GetItems(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]T, 0, len(items))
	for _, item := range items {
		if pred(item) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// GetItemsWhere returns records matching all filters, pushed down as SQL.
func (r *Repository[T]) GetItemsWhere(ctx context.Context, filters ...Filter) ([]T, error) {
	rows, err := selectRows(ctx, r.store.DB, r.store.Dialect, r.table, filters, nil)
	if err != nil {
		r.setStatus("list %s failed: %v", r.table.Name, err)
		return nil, err
	}
	items, err := r.materializeAll(rows)
	if err != nil {
		return nil, err
	}
	r.setStatus("listed %d %s", len(items), r.table.Name)
	return items, nil
}

// GetItemsExpr returns records matching a boolean filter expression over the
// row's columns, e.g. `age >= 18 && city == "Berlin"`.
func (r *Repository[T]) GetItemsExpr(ctx context.Context, expression string) ([]T, error) {
	prog, err := CompileRowFilter(expression)
	if err != nil {
		return nil, err
	}

	rows, err := selectRows(ctx, r.store.DB, r.store.Dialect, r.table, nil, nil)
	if err != nil {
		r.setStatus("list %s failed: %v", r.table.Name, err)
		return nil, err
	}

	var items []T
	for _, row := range rows {
		ok, err := EvalRowFilter(prog, row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, err := materialize(r.table, row)
		if err != nil {
			return nil, err
		}
		items = append(items, rec.(T))
	}
	r.setStatus("listed %d %s", len(items), r.table.Name)
	return items, nil
}

// DeleteItem deletes the row matching item's identity. Deleting an absent
// row is a no-op, not an error.
func (r *Repository[T]) DeleteItem(ctx context.Context, item T) error {
	if item.RecordID() == 0 {
		r.setStatus("delete %s skipped: unsaved record", r.table.Name)
		return nil
	}
	affected, err := deleteRecord(ctx, r.store.DB, r.store.Dialect, r.table, item.RecordID())
	if err != nil {
		r.setStatus("delete %s failed: %v", r.table.Name, err)
		return err
	}
	r.setStatus("deleted %s id=%d (%d rows)", r.table.Name, item.RecordID(), affected)
	return nil
}

// LastStatus returns the human-readable outcome of the most recent operation.
func (r *Repository[T]) LastStatus() string { return r.lastStatus }

func (r *Repository[T]) setStatus(format string, args ...any) {
	r.lastStatus = fmt.Sprintf(format, args...)
}

func (r *Repository[T]) materializeAll(rows []map[string]any) ([]T, error) {
	items := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := materialize(r.table, row)
		if err != nil {
			return nil, err
		}
		items = append(items, rec.(T))
	}
	return items, nil
}

// --- type-erased record operations, shared with the cascade engine ---

// mergeFields combines a record's own column values with engine-assigned
// foreign key overrides. Overrides win.
func mergeFields(rec schema.Record, overrides map[string]any) map[string]any {
	fields := rec.Values()
	if fields == nil {
		fields = make(map[string]any, len(overrides))
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return fields
}

func insertRecord(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, rec schema.Record, overrides map[string]any) error {
	sqlStr, params := BuildInsertSQL(t, mergeFields(rec, overrides), d)
	row, err := store.QueryRow(ctx, q, sqlStr, params...)
	if err != nil {
		return storageErr("insert", t.Name, store.MapError(d, err))
	}
	rec.SetRecordID(schema.Int64(row[t.PrimaryKey()]))
	return nil
}

func updateRecord(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, rec schema.Record, overrides map[string]any) (int64, error) {
	sqlStr, params := BuildUpdateSQL(t, rec.RecordID(), mergeFields(rec, overrides), d)
	if sqlStr == "" {
		return 0, nil
	}
	affected, err := store.Exec(ctx, q, sqlStr, params...)
	if err != nil {
		return 0, storageErr("update", t.Name, store.MapError(d, err))
	}
	return affected, nil
}

// saveRecord dispatches on identity: unassigned records are inserted,
// identified ones updated.
func saveRecord(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, rec schema.Record, overrides map[string]any) error {
	if rec.RecordID() == 0 {
		return insertRecord(ctx, q, d, t, rec, overrides)
	}
	_, err := updateRecord(ctx, q, d, t, rec, overrides)
	return err
}

func deleteRecord(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, id int64) (int64, error) {
	sqlStr, params := BuildDeleteSQL(t, id, d)
	affected, err := store.Exec(ctx, q, sqlStr, params...)
	if err != nil {
		return 0, storageErr("delete", t.Name, store.MapError(d, err))
	}
	return affected, nil
}

func fetchRowByID(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, id int64) (map[string]any, error) {
	rows, err := selectRows(ctx, q, d, t, []Filter{{Field: t.PrimaryKey(), Value: id}}, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func selectRows(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, filters []Filter, sorts []Order) ([]map[string]any, error) {
	sqlStr, params, err := BuildSelectSQL(t, filters, sorts, d)
	if err != nil {
		return nil, err
	}
	rows, err := store.QueryRows(ctx, q, sqlStr, params...)
	if err != nil {
		return nil, storageErr("select", t.Name, store.MapError(d, err))
	}
	return rows, nil
}

// materialize builds a record from a row: factory, identity, then Scan.
func materialize(t *schema.Table, row map[string]any) (schema.Record, error) {
	rec := t.New()
	rec.SetRecordID(schema.Int64(row[t.PrimaryKey()]))
	if err := rec.Scan(row); err != nil {
		return nil, fmt.Errorf("scan %s row: %w", t.Name, err)
	}
	return rec, nil
}
