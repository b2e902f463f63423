package engine

import (
	"testing"

	"relstore/internal/schema"
)

func TestResolverMark_IdentifiedRecordsVisitOnce(t *testing.T) {
	res := newResolver(schema.NewRegistry())

	a := &fixtureRecord{id: 1}
	if !res.mark(a) {
		t.Fatal("first visit must report true")
	}
	// A different instance with the same identity is the same logical record.
	if res.mark(&fixtureRecord{id: 1}) {
		t.Error("same (entity, id) must not be visited twice")
	}
	if res.mark(&fixtureRecord{id: 2}) != true {
		t.Error("a different identity is a fresh visit")
	}
}

func TestResolverMark_UnidentifiedRecordsTrackedByInstance(t *testing.T) {
	res := newResolver(schema.NewRegistry())

	a := &fixtureRecord{}
	b := &fixtureRecord{}
	if !res.mark(a) || !res.mark(b) {
		t.Fatal("distinct unsaved instances are distinct visits")
	}
	if res.mark(a) {
		t.Error("re-marking the same unsaved instance must report false")
	}
	if !res.seen(b) {
		t.Error("seen must find a marked unsaved instance")
	}
	if res.seen(&fixtureRecord{}) {
		t.Error("an unmarked instance is not seen")
	}
}

func TestResolve_ClassifiesRelationsByKeySide(t *testing.T) {
	reg := schema.NewRegistry()

	gadget := gadgetTable()
	holder := &schema.Table{
		Name: "holder",
		Columns: []schema.Column{
			{Name: "id", Type: "bigint", PrimaryKey: true},
			{Name: "gadget_id", Type: "bigint"},
		},
		Relations: []schema.Relation{
			{
				Name: "favorite", Kind: schema.OneToOne, Target: "gadget",
				OwnerHoldsKey: true, SourceKey: "gadget_id",
				Cascade: schema.CascadeAll,
				Get:     func(schema.Record) []schema.Record { return []schema.Record{&fixtureRecord{id: 10}} },
				Set:     func(schema.Record, []schema.Record) {},
			},
			{
				Name: "drawer", Kind: schema.OneToMany, Target: "gadget",
				TargetKey: "id", // any declared column satisfies validation here
				Cascade:   schema.CascadeAll,
				Get:       func(schema.Record) []schema.Record { return []schema.Record{&fixtureRecord{id: 11}} },
				Set:       func(schema.Record, []schema.Record) {},
			},
			{
				Name: "shared", Kind: schema.ManyToMany, Target: "gadget",
				Cascade: schema.CascadeAll,
				Get:     func(schema.Record) []schema.Record { return []schema.Record{&fixtureRecord{id: 12}} },
				Set:     func(schema.Record, []schema.Record) {},
			},
		},
		New: func() schema.Record { return &holderRecord{} },
	}
	if err := reg.Load(holder, gadget); err != nil {
		t.Fatalf("load: %v", err)
	}

	res := newResolver(reg)
	plan, err := res.resolve(&holderRecord{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.ownerKeyed) != 1 || plan.ownerKeyed[0].rel.Name != "favorite" {
		t.Errorf("ownerKeyed = %v", plan.ownerKeyed)
	}
	if len(plan.childKeyed) != 1 || plan.childKeyed[0].rel.Name != "drawer" {
		t.Errorf("childKeyed = %v", plan.childKeyed)
	}
	if len(plan.peers) != 1 || plan.peers[0].rel.Name != "shared" {
		t.Errorf("peers = %v", plan.peers)
	}
}

type holderRecord struct{ id int64 }

func (h *holderRecord) EntityName() string        { return "holder" }
func (h *holderRecord) RecordID() int64           { return h.id }
func (h *holderRecord) SetRecordID(id int64)      { h.id = id }
func (h *holderRecord) Values() map[string]any    { return map[string]any{} }
func (h *holderRecord) Scan(map[string]any) error { return nil }
