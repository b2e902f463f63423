package engine

import (
	"context"
	"errors"
	"fmt"

	"relstore/internal/schema"
	"relstore/internal/store"
)

// Cascading persistence. A whole cascade runs inside a single transaction
// and rolls back on the first error, so a mid-cascade failure never leaves
// a child row without its parent.

// SaveItemWithChildren saves item and its populated related records.
// Children whose row carries the foreign key are saved after item with the
// key backfilled; one-to-one children referenced by a key on item are saved
// first. Many-to-many peers are inserted when unidentified and linked with
// one junction row per pair; re-saving the same pair never duplicates it.
//
// When recursive is false only direct children are persisted, without
// descending into their own declared relationships.
func (r *Repository[T]) SaveItemWithChildren(ctx context.Context, item T, recursive bool) error {
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := newResolver(r.reg)
	if err := saveGraph(ctx, tx, r.store.Dialect, r.reg, res, item, nil, recursive); err != nil {
		r.setStatus("save %s graph failed: %v", r.table.Name, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		r.setStatus("save %s graph failed: %v", r.table.Name, err)
		return fmt.Errorf("commit: %w", err)
	}
	r.setStatus("saved %s id=%d with children", r.table.Name, item.RecordID())
	return nil
}

// GetItemWithChildren looks up one record by identity and reconstructs the
// relationship fields whose declarations enable CascadeRead. Relations with
// CascadeRead disabled stay unpopulated.
func (r *Repository[T]) GetItemWithChildren(ctx context.Context, id int64) (T, error) {
	var zero T
	item, err := r.GetItem(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := loadRelated(ctx, r.store.DB, r.store.Dialect, r.reg, r.table, []schema.Record{item}); err != nil {
		r.setStatus("load %s children failed: %v", r.table.Name, err)
		return zero, err
	}
	return item, nil
}

// GetItemsWithChildren returns every record with its CascadeRead relations
// populated.
func (r *Repository[T]) GetItemsWithChildren(ctx context.Context) ([]T, error) {
	items, err := r.GetItems(ctx)
	if err != nil {
		return nil, err
	}
	recs := make([]schema.Record, len(items))
	for i, item := range items {
		recs[i] = item
	}
	if err := loadRelated(ctx, r.store.DB, r.store.Dialect, r.reg, r.table, recs); err != nil {
		r.setStatus("load %s children failed: %v", r.table.Name, err)
		return nil, err
	}
	return items, nil
}

// DeleteItemWithChildren deletes item's related rows for relations with
// CascadeDelete enabled, children first, then item itself. Many-to-many
// junction rows are removed but peer rows are left untouched. Related rows
// are discovered from the store, not from item's in-memory fields, so a
// bare record with just an identity deletes its full persisted graph.
func (r *Repository[T]) DeleteItemWithChildren(ctx context.Context, item T, recursive bool) error {
	if item.RecordID() == 0 {
		r.setStatus("delete %s graph skipped: unsaved record", r.table.Name)
		return nil
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := newResolver(r.reg)
	if err := deleteGraph(ctx, tx, r.store.Dialect, r.reg, res, item, recursive); err != nil {
		r.setStatus("delete %s graph failed: %v", r.table.Name, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		r.setStatus("delete %s graph failed: %v", r.table.Name, err)
		return fmt.Errorf("commit: %w", err)
	}
	r.setStatus("deleted %s id=%d with children", r.table.Name, item.RecordID())
	return nil
}

// saveGraph persists one record and, per cascade policy, its related
// records. overrides carry engine-assigned foreign keys into the record's
// row. A record visited earlier in the pass is not persisted again; pending
// foreign key assignments for it are written directly.
func saveGraph(ctx context.Context, q store.Querier, d store.Dialect, reg *schema.Registry, res *resolver, rec schema.Record, overrides map[string]any, recursive bool) error {
	if !res.mark(rec) {
		if len(overrides) > 0 && rec.RecordID() != 0 {
			t := reg.GetTable(rec.EntityName())
			return updateColumns(ctx, q, d, t, rec.RecordID(), overrides)
		}
		return nil
	}

	plan, err := res.resolve(rec)
	if err != nil {
		return err
	}

	// Children the parent's own row will reference come first.
	for _, ref := range plan.ownerKeyed {
		if !ref.rel.Cascade.Has(schema.CascadeInsert) {
			continue
		}
		if err := saveChild(ctx, q, d, reg, res, ref, nil, recursive); err != nil {
			return err
		}
	}

	fields := make(map[string]any, len(overrides)+len(plan.ownerKeyed))
	for k, v := range overrides {
		fields[k] = v
	}
	for _, ref := range plan.ownerKeyed {
		if id := ref.child.RecordID(); id != 0 {
			fields[ref.rel.SourceKey] = id
		}
	}

	if err := saveRecord(ctx, q, d, plan.table, rec, fields); err != nil {
		return err
	}

	// Backfill: children carrying the foreign key get the parent's
	// now-assigned identity.
	for _, ref := range plan.childKeyed {
		if !ref.rel.Cascade.Has(schema.CascadeInsert) {
			continue
		}
		fk := map[string]any{ref.rel.TargetKey: rec.RecordID()}
		if err := saveChild(ctx, q, d, reg, res, ref, fk, recursive); err != nil {
			return err
		}
	}

	// Peers: insert-if-absent, then one junction row per pair.
	for _, ref := range plan.peers {
		if !ref.rel.Cascade.Has(schema.CascadeInsert) {
			continue
		}
		if ref.child.RecordID() == 0 {
			if err := saveChild(ctx, q, d, reg, res, ref, nil, recursive); err != nil {
				return err
			}
		}
		if err := ensureJunction(ctx, q, d, ref.rel, rec.RecordID(), ref.child.RecordID()); err != nil {
			return err
		}
	}

	return nil
}

func saveChild(ctx context.Context, q store.Querier, d store.Dialect, reg *schema.Registry, res *resolver, ref childRef, fk map[string]any, recursive bool) error {
	if recursive {
		return saveGraph(ctx, q, d, reg, res, ref.child, fk, true)
	}
	if !res.mark(ref.child) {
		if len(fk) > 0 && ref.child.RecordID() != 0 {
			return updateColumns(ctx, q, d, ref.table, ref.child.RecordID(), fk)
		}
		return nil
	}
	return saveRecord(ctx, q, d, ref.table, ref.child, fk)
}

// ensureJunction inserts the (owner, peer) junction row unless it already
// exists, keeping re-saves idempotent.
func ensureJunction(ctx context.Context, q store.Querier, d store.Dialect, rel *schema.Relation, ownerID, peerID int64) error {
	pb := d.NewParamBuilder()
	checkSQL := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s AND %s = %s",
		rel.JoinTable, rel.SourceJoinKey, pb.Add(ownerID), rel.TargetJoinKey, pb.Add(peerID))
	rows, err := store.QueryRows(ctx, q, checkSQL, pb.Params()...)
	if err != nil {
		return storageErr("check junction", rel.JoinTable, store.MapError(d, err))
	}
	if len(rows) > 0 {
		return nil
	}

	pb = d.NewParamBuilder()
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		rel.JoinTable, rel.SourceJoinKey, rel.TargetJoinKey, pb.Add(ownerID), pb.Add(peerID))
	if _, err := store.Exec(ctx, q, insertSQL, pb.Params()...); err != nil {
		return storageErr("insert junction", rel.JoinTable, store.MapError(d, err))
	}
	return nil
}

// deleteGraph removes a record's cascading relations children-first, then
// the record's own row. Related rows are looked up from the store by
// foreign key.
func deleteGraph(ctx context.Context, q store.Querier, d store.Dialect, reg *schema.Registry, res *resolver, rec schema.Record, recursive bool) error {
	if !res.mark(rec) {
		return nil
	}
	id := rec.RecordID()
	if id == 0 {
		return nil
	}

	t := reg.GetTable(rec.EntityName())
	if t == nil {
		return fmt.Errorf("delete: entity %q not registered", rec.EntityName())
	}

	// The owner's row is needed for owner-keyed foreign key values.
	var ownRow map[string]any
	for _, rel := range t.OrderedRelations() {
		if rel.IsOneToOne() && rel.OwnerHoldsKey && rel.Cascade.Has(schema.CascadeDelete) {
			row, err := fetchRowByID(ctx, q, d, t, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					break
				}
				return err
			}
			ownRow = row
			break
		}
	}

	for _, rel := range t.OrderedRelations() {
		if !rel.Cascade.Has(schema.CascadeDelete) {
			continue
		}
		target := reg.GetTable(rel.Target)
		if target == nil {
			return fmt.Errorf("delete %s.%s: target %q not registered", t.Name, rel.Name, rel.Target)
		}

		switch {
		case rel.IsManyToMany():
			// Tear down the associations only; peers are not ours to delete.
			pb := d.NewParamBuilder()
			delSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
				rel.JoinTable, rel.SourceJoinKey, pb.Add(id))
			if _, err := store.Exec(ctx, q, delSQL, pb.Params()...); err != nil {
				return storageErr("delete junctions", rel.JoinTable, store.MapError(d, err))
			}

		case rel.IsOneToOne() && rel.OwnerHoldsKey:
			if ownRow == nil {
				continue
			}
			fk := schema.Int64(ownRow[rel.SourceKey])
			if fk == 0 {
				continue
			}
			if err := deleteChildRows(ctx, q, d, reg, res, target, []Filter{{Field: target.PrimaryKey(), Value: fk}}, recursive); err != nil {
				return err
			}

		default:
			if err := deleteChildRows(ctx, q, d, reg, res, target, []Filter{{Field: rel.TargetKey, Value: id}}, recursive); err != nil {
				return err
			}
		}
	}

	if _, err := deleteRecord(ctx, q, d, t, id); err != nil {
		return err
	}
	return nil
}

func deleteChildRows(ctx context.Context, q store.Querier, d store.Dialect, reg *schema.Registry, res *resolver, target *schema.Table, filters []Filter, recursive bool) error {
	rows, err := selectRows(ctx, q, d, target, filters, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		child, err := materialize(target, row)
		if err != nil {
			return err
		}
		if recursive {
			if err := deleteGraph(ctx, q, d, reg, res, child, true); err != nil {
				return err
			}
			continue
		}
		if !res.mark(child) {
			continue
		}
		if _, err := deleteRecord(ctx, q, d, target, child.RecordID()); err != nil {
			return err
		}
	}
	return nil
}

// updateColumns writes specific column values onto an existing row, used
// for foreign key backfill of records persisted earlier in the same pass.
func updateColumns(ctx context.Context, q store.Querier, d store.Dialect, t *schema.Table, id int64, cols map[string]any) error {
	sqlStr, params := BuildUpdateSQL(t, id, cols, d)
	if sqlStr == "" {
		return nil
	}
	if _, err := store.Exec(ctx, q, sqlStr, params...); err != nil {
		return storageErr("backfill", t.Name, store.MapError(d, err))
	}
	return nil
}
