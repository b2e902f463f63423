package schema

import "sync"

// Registry holds all entity descriptors for the process lifetime. Load runs
// once at startup; descriptors are never mutated afterwards, so reads need
// no further coordination beyond the RWMutex.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Table)}
}

// GetTable returns the descriptor for the given entity name, or nil.
func (r *Registry) GetTable(name string) *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[name]
}

// AllTables returns all registered descriptors.
func (r *Registry) AllTables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	return tables
}

// Load registers a set of descriptors, applying naming defaults and
// validating every declaration. Cross-references are checked after all
// tables are known, so declaration order between tables does not matter.
// A validation failure returns a *SchemaError and leaves the registry
// unchanged.
func (r *Registry) Load(tables ...*Table) error {
	staged := make(map[string]*Table, len(tables))
	for _, t := range tables {
		if err := applyDefaults(t); err != nil {
			return err
		}
		if _, dup := staged[t.Name]; dup {
			return schemaErrorf(t.Name, "duplicate entity registration")
		}
		staged[t.Name] = t
	}

	r.mu.RLock()
	all := make(map[string]*Table, len(r.tables)+len(staged))
	for name, t := range r.tables {
		all[name] = t
	}
	r.mu.RUnlock()
	for name, t := range staged {
		all[name] = t
	}

	for _, t := range staged {
		if err := validateTable(t, all); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range staged {
		r.tables[name] = t
	}
	return nil
}

func applyDefaults(t *Table) error {
	if t.Name == "" {
		return schemaErrorf("?", "entity name is required")
	}
	if t.TableName == "" {
		t.TableName = t.Name
	}
	for i := range t.Relations {
		rel := &t.Relations[i]
		switch rel.Kind {
		case OneToOne:
			if rel.OwnerHoldsKey {
				if rel.SourceKey == "" {
					rel.SourceKey = rel.Target + "_id"
				}
			} else if rel.TargetKey == "" {
				rel.TargetKey = t.Name + "_id"
			}
		case OneToMany:
			if rel.TargetKey == "" {
				rel.TargetKey = t.Name + "_id"
			}
		case ManyToMany:
			if rel.JoinTable == "" {
				rel.JoinTable = t.Name + "_" + rel.Target
			}
			if rel.SourceJoinKey == "" {
				rel.SourceJoinKey = t.Name + "_id"
			}
			if rel.TargetJoinKey == "" {
				rel.TargetJoinKey = rel.Target + "_id"
			}
		}
	}
	return nil
}

func validateTable(t *Table, all map[string]*Table) error {
	if t.New == nil {
		return schemaErrorf(t.Name, "missing record factory")
	}

	var pkCount int
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return schemaErrorf(t.Name, "column with empty name")
		}
		if seen[c.Name] {
			return schemaErrorf(t.Name, "duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if c.PrimaryKey {
			pkCount++
			if c.Ignore {
				return schemaErrorf(t.Name, "column %q is both primary key and ignored", c.Name)
			}
		}
	}
	if pkCount != 1 {
		return schemaErrorf(t.Name, "expected exactly one primary key column, found %d", pkCount)
	}

	relNames := make(map[string]bool, len(t.Relations))
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Name == "" {
			return schemaErrorf(t.Name, "relation with empty name")
		}
		if relNames[rel.Name] {
			return schemaErrorf(t.Name, "duplicate relation %q", rel.Name)
		}
		relNames[rel.Name] = true
		if t.HasColumn(rel.Name) {
			return schemaErrorf(t.Name, "relation %q conflicts with a column of the same name", rel.Name)
		}
		if rel.Get == nil || rel.Set == nil {
			return schemaErrorf(t.Name, "relation %q is missing accessors", rel.Name)
		}

		target, ok := all[rel.Target]
		if !ok {
			return schemaErrorf(t.Name, "relation %q references unknown entity %q", rel.Name, rel.Target)
		}

		switch rel.Kind {
		case OneToOne:
			if rel.OwnerHoldsKey {
				if !t.HasColumn(rel.SourceKey) {
					return schemaErrorf(t.Name, "relation %q: foreign key column %q not declared on %s", rel.Name, rel.SourceKey, t.Name)
				}
			} else if !target.HasColumn(rel.TargetKey) {
				return schemaErrorf(t.Name, "relation %q: foreign key column %q not declared on %s", rel.Name, rel.TargetKey, rel.Target)
			}
		case OneToMany:
			if !target.HasColumn(rel.TargetKey) {
				return schemaErrorf(t.Name, "relation %q: foreign key column %q not declared on %s", rel.Name, rel.TargetKey, rel.Target)
			}
		case ManyToMany:
			if rel.JoinTable == "" || rel.SourceJoinKey == "" || rel.TargetJoinKey == "" {
				return schemaErrorf(t.Name, "relation %q: incomplete junction declaration", rel.Name)
			}
		default:
			return schemaErrorf(t.Name, "relation %q has unknown kind %q", rel.Name, rel.Kind)
		}
	}
	return nil
}
