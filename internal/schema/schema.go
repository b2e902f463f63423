// Package schema holds the static entity descriptors the persistence layer
// operates on: tables, columns, and declared relationships with their cascade
// policies. Descriptors are registered explicitly at startup and validated
// once; nothing here uses reflection.
package schema

import "fmt"

// Kind identifies the shape of a relationship.
type Kind string

const (
	OneToOne   Kind = "one_to_one"
	OneToMany  Kind = "one_to_many"
	ManyToMany Kind = "many_to_many"
)

// Cascade is a set of per-relationship propagation flags.
type Cascade uint8

const (
	CascadeInsert Cascade = 1 << iota
	CascadeRead
	CascadeDelete

	CascadeAll = CascadeInsert | CascadeRead | CascadeDelete
)

// Has reports whether all flags in c are set.
func (c Cascade) Has(flag Cascade) bool { return c&flag == flag }

// Record is the capability interface every storable type implements.
// Identity is a store-assigned integer; zero means "not yet persisted".
type Record interface {
	// EntityName returns the registry key for this type.
	EntityName() string

	// RecordID returns the primary key value, zero when unassigned.
	RecordID() int64

	// SetRecordID assigns the primary key after the first insert.
	SetRecordID(id int64)

	// Values returns column name to value mappings for all persisted
	// columns except the primary key.
	Values() map[string]any

	// Scan populates the record's fields from a row. The primary key is
	// handled by the engine; implementations may ignore it.
	Scan(row map[string]any) error
}

// Column describes one table column and its constraints.
type Column struct {
	Name       string
	Type       string // string, text, int, bigint, float, decimal, boolean, timestamp, date, json
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Indexed    bool
	Ignore     bool // declared on the type but never persisted
	MaxLength  int
	Default    any
}

// Relation declares a relationship from one entity type to another.
//
// For OneToMany (and the child-keyed OneToOne form) the foreign key lives on
// the target table in TargetKey. For the owner-keyed OneToOne form
// (OwnerHoldsKey) the foreign key lives on the source table in SourceKey.
// ManyToMany linkage goes through JoinTable with one row per pair.
type Relation struct {
	Name   string
	Kind   Kind
	Target string

	TargetKey     string // FK column on the target table, default "<source>_id"
	SourceKey     string // FK column on the source table (OwnerHoldsKey only), default "<target>_id"
	OwnerHoldsKey bool

	JoinTable     string // default "<source>_<target>"
	SourceJoinKey string // default "<source>_id"
	TargetJoinKey string // default "<target>_id"

	Cascade Cascade

	// Get returns the currently populated related records on owner
	// (zero or one element for OneToOne).
	Get func(owner Record) []Record

	// Set attaches loaded related records onto owner.
	Set func(owner Record, related []Record)
}

func (r *Relation) IsOneToOne() bool   { return r.Kind == OneToOne }
func (r *Relation) IsOneToMany() bool  { return r.Kind == OneToMany }
func (r *Relation) IsManyToMany() bool { return r.Kind == ManyToMany }

// Table is the full descriptor for one entity type.
type Table struct {
	Name      string // entity name, registry key
	TableName string // defaults to Name
	Columns   []Column
	Relations []Relation

	// New constructs an empty record of this type.
	New func() Record
}

// PrimaryKey returns the primary key column name.
func (t *Table) PrimaryKey() string {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return t.Columns[i].Name
		}
	}
	return "id"
}

// GetColumn returns a pointer to the column with the given name, or nil.
func (t *Table) GetColumn(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasColumn returns true if the table has a persisted column with the given name.
func (t *Table) HasColumn(name string) bool {
	c := t.GetColumn(name)
	return c != nil && !c.Ignore
}

// ColumnNames returns all persisted column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Ignore {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

// GetRelation returns the relation with the given name, or nil.
func (t *Table) GetRelation(name string) *Relation {
	for i := range t.Relations {
		if t.Relations[i].Name == name {
			return &t.Relations[i]
		}
	}
	return nil
}

// OrderedRelations returns relations with direct (one-to-one) declarations
// before collection declarations, declaration order otherwise. Graph
// traversal relies on this order being deterministic.
func (t *Table) OrderedRelations() []*Relation {
	ordered := make([]*Relation, 0, len(t.Relations))
	for i := range t.Relations {
		if t.Relations[i].IsOneToOne() {
			ordered = append(ordered, &t.Relations[i])
		}
	}
	for i := range t.Relations {
		if !t.Relations[i].IsOneToOne() {
			ordered = append(ordered, &t.Relations[i])
		}
	}
	return ordered
}

// SchemaError reports a malformed table or relationship declaration,
// detected when the registry loads.
type SchemaError struct {
	Entity string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %s", e.Entity, e.Detail)
}

func schemaErrorf(entity, format string, args ...any) *SchemaError {
	return &SchemaError{Entity: entity, Detail: fmt.Sprintf(format, args...)}
}
