package store

import (
	"context"
	"fmt"
	"strings"

	"relstore/internal/schema"
)

// Migrator keeps physical tables in sync with registered descriptors.
// Creation is idempotent: a table that already exists is only checked for
// missing columns, never rebuilt.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// EnsureAll migrates every registered table and every junction table.
func (m *Migrator) EnsureAll(ctx context.Context, reg *schema.Registry) error {
	tables := reg.AllTables()
	for _, t := range tables {
		if err := m.Migrate(ctx, t); err != nil {
			return err
		}
	}
	for _, t := range tables {
		for i := range t.Relations {
			rel := &t.Relations[i]
			if !rel.IsManyToMany() {
				continue
			}
			if err := m.MigrateJoinTable(ctx, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// MigrateClosure migrates t and every table reachable from it through
// declared relations, junction tables included, so a cascading save never
// hits a missing related table. Back-references make the graph cyclic;
// each table is visited once.
func (m *Migrator) MigrateClosure(ctx context.Context, reg *schema.Registry, t *schema.Table) error {
	visited := make(map[string]bool)
	var walk func(t *schema.Table) error
	walk = func(t *schema.Table) error {
		if visited[t.Name] {
			return nil
		}
		visited[t.Name] = true

		if err := m.Migrate(ctx, t); err != nil {
			return err
		}
		for i := range t.Relations {
			rel := &t.Relations[i]
			if rel.IsManyToMany() {
				if err := m.MigrateJoinTable(ctx, rel); err != nil {
					return err
				}
			}
			target := reg.GetTable(rel.Target)
			if target == nil {
				return fmt.Errorf("migrate %s: relation %q targets unregistered entity %q", t.Name, rel.Name, rel.Target)
			}
			if err := walk(target); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t)
}

// Migrate ensures the table matches the descriptor. Creates the table if it
// doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, t *schema.Table) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, t.TableName)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, t)
	}

	return m.alterTable(ctx, t)
}

// MigrateJoinTable creates the junction table for a many-to-many relation if
// it doesn't exist. The composite primary key over both foreign keys enforces
// one junction row per pair at the storage level.
func (m *Migrator) MigrateJoinTable(ctx context.Context, rel *schema.Relation) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, rel.JoinTable)
	if err != nil {
		return fmt.Errorf("check join table exists: %w", err)
	}
	if exists {
		return nil
	}

	keyType := m.store.Dialect.ColumnType("bigint", 0)
	ddl := fmt.Sprintf(
		`CREATE TABLE %s (
			%s %s NOT NULL,
			%s %s NOT NULL,
			PRIMARY KEY (%s, %s)
		)`,
		rel.JoinTable,
		rel.SourceJoinKey, keyType,
		rel.TargetJoinKey, keyType,
		rel.SourceJoinKey, rel.TargetJoinKey,
	)

	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create join table %s: %w", rel.JoinTable, err)
	}
	return nil
}

func (m *Migrator) createTable(ctx context.Context, t *schema.Table) error {
	var cols []string
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Ignore {
			continue
		}
		cols = append(cols, m.buildColumnDef(c))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", t.TableName, strings.Join(cols, ",\n  "))

	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.TableName, err)
	}

	if err := m.createIndexes(ctx, t); err != nil {
		return fmt.Errorf("create indexes for %s: %w", t.TableName, err)
	}

	return nil
}

func (m *Migrator) alterTable(ctx context.Context, t *schema.Table) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, t.TableName)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", t.TableName, err)
	}

	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Ignore || c.PrimaryKey {
			continue
		}
		if _, ok := existing[c.Name]; !ok {
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
				t.TableName, c.Name, m.store.Dialect.ColumnType(c.Type, c.MaxLength))
			if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.TableName, c.Name, err)
			}
		}
	}

	if err := m.createIndexes(ctx, t); err != nil {
		return fmt.Errorf("create indexes for %s: %w", t.TableName, err)
	}

	return nil
}

func (m *Migrator) buildColumnDef(c *schema.Column) string {
	if c.PrimaryKey {
		return c.Name + " " + m.store.Dialect.AutoIncrementPK()
	}

	col := c.Name + " " + m.store.Dialect.ColumnType(c.Type, c.MaxLength)
	if c.NotNull {
		col += " NOT NULL"
	}
	if c.Default != nil {
		switch v := c.Default.(type) {
		case string:
			col += fmt.Sprintf(" DEFAULT '%s'", v)
		case bool:
			if m.store.Dialect.Name() == "sqlite" {
				if v {
					col += " DEFAULT 1"
				} else {
					col += " DEFAULT 0"
				}
			} else {
				col += fmt.Sprintf(" DEFAULT %t", v)
			}
		default:
			col += fmt.Sprintf(" DEFAULT %v", v)
		}
	}
	return col
}

func (m *Migrator) createIndexes(ctx context.Context, t *schema.Table) error {
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Ignore || c.PrimaryKey {
			continue
		}
		if c.Unique {
			ddl := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				t.TableName, c.Name, t.TableName, c.Name)
			if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("create unique index on %s.%s: %w", t.TableName, c.Name, err)
			}
		} else if c.Indexed {
			ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				t.TableName, c.Name, t.TableName, c.Name)
			if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("create index on %s.%s: %w", t.TableName, c.Name, err)
			}
		}
	}
	return nil
}
