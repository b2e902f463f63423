package engine

import (
	"context"
	"fmt"
	"strings"

	"relstore/internal/schema"
	"relstore/internal/store"
)

// Relation loading for reads. Each relation with CascadeRead enabled is
// populated with one batched query per relation (two for many-to-many),
// never one query per record.

func loadRelated(ctx context.Context, q store.Querier, d store.Dialect, reg *schema.Registry, t *schema.Table, recs []schema.Record) error {
	if len(recs) == 0 {
		return nil
	}

	ids := make([]any, 0, len(recs))
	byID := make(map[int64]schema.Record, len(recs))
	for _, rec := range recs {
		id := rec.RecordID()
		if id == 0 {
			continue
		}
		ids = append(ids, id)
		byID[id] = rec
	}
	if len(ids) == 0 {
		return nil
	}

	for _, rel := range t.OrderedRelations() {
		if !rel.Cascade.Has(schema.CascadeRead) {
			continue
		}
		target := reg.GetTable(rel.Target)
		if target == nil {
			return fmt.Errorf("load %s.%s: target %q not registered", t.Name, rel.Name, rel.Target)
		}

		var err error
		switch {
		case rel.IsManyToMany():
			err = loadPeers(ctx, q, d, rel, target, ids, byID)
		case rel.IsOneToOne() && rel.OwnerHoldsKey:
			err = loadOwnerKeyed(ctx, q, d, rel, target, recs)
		default:
			err = loadChildKeyed(ctx, q, d, rel, target, ids, byID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// loadChildKeyed populates relations whose target rows carry the foreign
// key: one query over the key, grouped back onto the owners.
func loadChildKeyed(ctx context.Context, q store.Querier, d store.Dialect, rel *schema.Relation, target *schema.Table, ownerIDs []any, owners map[int64]schema.Record) error {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(target.ColumnNames(), ", "), target.TableName,
		d.InExpr(rel.TargetKey, pb, ownerIDs))
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return storageErr("load "+rel.Name, target.Name, store.MapError(d, err))
	}

	grouped := make(map[int64][]schema.Record)
	for _, row := range rows {
		child, err := materialize(target, row)
		if err != nil {
			return err
		}
		ownerID := schema.Int64(row[rel.TargetKey])
		grouped[ownerID] = append(grouped[ownerID], child)
	}
	for id, owner := range owners {
		rel.Set(owner, grouped[id])
	}
	return nil
}

// loadOwnerKeyed populates one-to-one relations whose key lives on the
// owner's own row. The key values come from the owners' column maps.
func loadOwnerKeyed(ctx context.Context, q store.Querier, d store.Dialect, rel *schema.Relation, target *schema.Table, owners []schema.Record) error {
	wanted := make(map[int64][]schema.Record)
	fks := make([]any, 0, len(owners))
	for _, owner := range owners {
		fk := schema.Int64(owner.Values()[rel.SourceKey])
		if fk == 0 {
			rel.Set(owner, nil)
			continue
		}
		if _, seen := wanted[fk]; !seen {
			fks = append(fks, fk)
		}
		wanted[fk] = append(wanted[fk], owner)
	}
	if len(fks) == 0 {
		return nil
	}

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(target.ColumnNames(), ", "), target.TableName,
		d.InExpr(target.PrimaryKey(), pb, fks))
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return storageErr("load "+rel.Name, target.Name, store.MapError(d, err))
	}

	for _, row := range rows {
		child, err := materialize(target, row)
		if err != nil {
			return err
		}
		for _, owner := range wanted[child.RecordID()] {
			rel.Set(owner, []schema.Record{child})
		}
	}
	return nil
}

// loadPeers populates many-to-many relations: one query over the junction
// table, one over the peer table, joined in memory.
func loadPeers(ctx context.Context, q store.Querier, d store.Dialect, rel *schema.Relation, target *schema.Table, ownerIDs []any, owners map[int64]schema.Record) error {
	pb := d.NewParamBuilder()
	linkSQL := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s",
		rel.SourceJoinKey, rel.TargetJoinKey, rel.JoinTable,
		d.InExpr(rel.SourceJoinKey, pb, ownerIDs))
	links, err := store.QueryRows(ctx, q, linkSQL, pb.Params()...)
	if err != nil {
		return storageErr("load "+rel.Name, rel.JoinTable, store.MapError(d, err))
	}

	peerIDs := make([]any, 0, len(links))
	seen := make(map[int64]bool, len(links))
	pairs := make(map[int64][]int64)
	for _, link := range links {
		ownerID := schema.Int64(link[rel.SourceJoinKey])
		peerID := schema.Int64(link[rel.TargetJoinKey])
		pairs[ownerID] = append(pairs[ownerID], peerID)
		if !seen[peerID] {
			seen[peerID] = true
			peerIDs = append(peerIDs, peerID)
		}
	}

	peers := make(map[int64]schema.Record, len(peerIDs))
	if len(peerIDs) > 0 {
		pb = d.NewParamBuilder()
		peerSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			strings.Join(target.ColumnNames(), ", "), target.TableName,
			d.InExpr(target.PrimaryKey(), pb, peerIDs))
		rows, err := store.QueryRows(ctx, q, peerSQL, pb.Params()...)
		if err != nil {
			return storageErr("load "+rel.Name, target.Name, store.MapError(d, err))
		}
		for _, row := range rows {
			peer, err := materialize(target, row)
			if err != nil {
				return err
			}
			peers[peer.RecordID()] = peer
		}
	}

	for id, owner := range owners {
		var related []schema.Record
		for _, peerID := range pairs[id] {
			if peer, ok := peers[peerID]; ok {
				related = append(related, peer)
			}
		}
		rel.Set(owner, related)
	}
	return nil
}
