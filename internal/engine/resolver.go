package engine

import (
	"fmt"

	"relstore/internal/schema"
)

// The relationship graph resolver discovers the connected set of records
// reachable from a root through declared relationships. Visitation is
// tracked per resolution pass keyed by (entity, identity); records without
// an identity yet are tracked by a stable arena index assigned at first
// sight, so a record reachable through two relationship paths is resolved
// exactly once and bidirectional back-references cannot recurse forever.

type visitKey struct {
	entity string
	id     int64
}

type resolver struct {
	reg       *schema.Registry
	visited   map[visitKey]struct{}
	anon      map[schema.Record]int
	nextIndex int
}

func newResolver(reg *schema.Registry) *resolver {
	return &resolver{
		reg:     reg,
		visited: make(map[visitKey]struct{}),
		anon:    make(map[schema.Record]int),
	}
}

// mark records a visit and reports whether this is the first one.
func (r *resolver) mark(rec schema.Record) bool {
	if id := rec.RecordID(); id != 0 {
		key := visitKey{entity: rec.EntityName(), id: id}
		if _, seen := r.visited[key]; seen {
			return false
		}
		r.visited[key] = struct{}{}
		return true
	}

	if _, seen := r.anon[rec]; seen {
		return false
	}
	r.anon[rec] = r.nextIndex
	r.nextIndex++
	return true
}

// seen reports whether rec was already visited, without marking it.
func (r *resolver) seen(rec schema.Record) bool {
	if id := rec.RecordID(); id != 0 {
		_, ok := r.visited[visitKey{entity: rec.EntityName(), id: id}]
		return ok
	}
	_, ok := r.anon[rec]
	return ok
}

// childRef is one discovered related record with the relation it was
// reached through.
type childRef struct {
	rel   *schema.Relation
	table *schema.Table
	child schema.Record
}

// relationPlan classifies a record's populated relations by dependency
// direction: ownerKeyed children must be persisted before the owner (the
// owner row carries the foreign key), childKeyed children after it (the
// child row carries it), and peers are linked through junction rows only.
type relationPlan struct {
	table      *schema.Table
	ownerKeyed []childRef
	childKeyed []childRef
	peers      []childRef
}

// resolve inspects the populated relationship fields of rec and builds its
// relation plan. Direct (one-to-one) relations come before collections,
// declaration order otherwise.
func (r *resolver) resolve(rec schema.Record) (*relationPlan, error) {
	t := r.reg.GetTable(rec.EntityName())
	if t == nil {
		return nil, fmt.Errorf("resolve: entity %q not registered", rec.EntityName())
	}

	plan := &relationPlan{table: t}
	for _, rel := range t.OrderedRelations() {
		target := r.reg.GetTable(rel.Target)
		if target == nil {
			return nil, fmt.Errorf("resolve %s.%s: target %q not registered", t.Name, rel.Name, rel.Target)
		}

		for _, child := range rel.Get(rec) {
			if child == nil {
				continue
			}
			ref := childRef{rel: rel, table: target, child: child}
			switch {
			case rel.IsManyToMany():
				plan.peers = append(plan.peers, ref)
			case rel.IsOneToOne() && rel.OwnerHoldsKey:
				plan.ownerKeyed = append(plan.ownerKeyed, ref)
			default:
				plan.childKeyed = append(plan.childKeyed, ref)
			}
		}
	}
	return plan, nil
}
