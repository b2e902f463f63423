package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"relstore/internal/config"
	"relstore/internal/schema"
	"relstore/internal/store"
)

type note struct {
	id    int64
	title string
}

func (n *note) EntityName() string   { return "note" }
func (n *note) RecordID() int64      { return n.id }
func (n *note) SetRecordID(id int64) { n.id = id }
func (n *note) Values() map[string]any {
	return map[string]any{"title": n.title}
}
func (n *note) Scan(row map[string]any) error {
	n.title = schema.String(row["title"])
	return nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   ":memory:",
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func noteTable(extra ...schema.Column) *schema.Table {
	cols := []schema.Column{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "title", Type: "string", Unique: true, MaxLength: 80},
	}
	cols = append(cols, extra...)
	return &schema.Table{
		Name:      "note",
		TableName: "notes",
		Columns:   cols,
		New:       func() schema.Record { return &note{} },
	}
}

func TestMigrator_CreatesTableOnce(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)

	if err := m.Migrate(ctx, noteTable()); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	// Second run must be a no-op, not a failure.
	if err := m.Migrate(ctx, noteTable()); err != nil {
		t.Fatalf("repeat migrate: %v", err)
	}

	if _, err := store.Exec(ctx, s.DB, "INSERT INTO notes (title) VALUES (?1)", "first"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestMigrator_AddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)

	if err := m.Migrate(ctx, noteTable()); err != nil {
		t.Fatalf("migrate v1: %v", err)
	}
	widened := noteTable(schema.Column{Name: "body", Type: "text"})
	if err := m.Migrate(ctx, widened); err != nil {
		t.Fatalf("migrate v2: %v", err)
	}

	cols, err := s.Dialect.GetColumns(ctx, s.DB, "notes")
	if err != nil {
		t.Fatalf("get columns: %v", err)
	}
	if _, ok := cols["body"]; !ok {
		t.Errorf("expected added column body, got %v", cols)
	}
}

func TestMigrator_JoinTableEnforcesPairUniqueness(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)

	rel := &schema.Relation{
		Name:          "peers",
		Kind:          schema.ManyToMany,
		JoinTable:     "note_peer",
		SourceJoinKey: "note_id",
		TargetJoinKey: "peer_id",
	}
	if err := m.MigrateJoinTable(ctx, rel); err != nil {
		t.Fatalf("migrate join table: %v", err)
	}

	if _, err := store.Exec(ctx, s.DB, "INSERT INTO note_peer (note_id, peer_id) VALUES (?1, ?2)", 1, 2); err != nil {
		t.Fatalf("insert pair: %v", err)
	}
	_, err := store.Exec(ctx, s.DB, "INSERT INTO note_peer (note_id, peer_id) VALUES (?1, ?2)", 1, 2)
	if err == nil {
		t.Fatal("duplicate junction pair must violate the composite primary key")
	}
}

func TestMapError_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)
	if err := m.Migrate(ctx, noteTable()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := store.Exec(ctx, s.DB, "INSERT INTO notes (title) VALUES (?1)", "dup"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := store.Exec(ctx, s.DB, "INSERT INTO notes (title) VALUES (?1)", "dup")
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !errors.Is(store.MapError(s.Dialect, err), store.ErrUniqueViolation) {
		t.Errorf("MapError(%v) does not wrap ErrUniqueViolation", err)
	}
}

func TestQueryRow_MissingRowReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)
	if err := m.Migrate(ctx, noteTable()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err := store.QueryRow(ctx, s.DB, "SELECT * FROM notes WHERE id = ?1", 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestQueryRows_TimestampShapedStringStaysString(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)
	if err := m.Migrate(ctx, noteTable()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// A string column holding timestamp-shaped text must not be coerced to
	// time.Time on read; that would lose the original text.
	for _, title := range []string{"2030-01-01 00:00:00", "2026-08-26T12:00:00Z"} {
		if _, err := store.Exec(ctx, s.DB, "INSERT INTO notes (title) VALUES (?1)", title); err != nil {
			t.Fatalf("insert %q: %v", title, err)
		}
		row, err := store.QueryRow(ctx, s.DB, "SELECT title FROM notes WHERE title = ?1", title)
		if err != nil {
			t.Fatalf("query %q: %v", title, err)
		}
		got, ok := row["title"].(string)
		if !ok {
			t.Fatalf("title came back as %T, want string", row["title"])
		}
		if got != title {
			t.Errorf("title = %q, want %q", got, title)
		}
	}
}

func TestParamBuilder_TimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := store.NewMigrator(s)
	tbl := noteTable(schema.Column{Name: "seen_at", Type: "timestamp"})
	if err := m.Migrate(ctx, tbl); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seen := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	pb := s.Dialect.NewParamBuilder()
	sqlStr := "INSERT INTO notes (title, seen_at) VALUES (" + pb.Add("stamped") + ", " + pb.Add(seen) + ")"
	if _, err := store.Exec(ctx, s.DB, sqlStr, pb.Params()...); err != nil {
		t.Fatalf("insert: %v", err)
	}

	row, err := store.QueryRow(ctx, s.DB, "SELECT seen_at FROM notes WHERE title = ?1", "stamped")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := schema.Time(row["seen_at"])
	if !got.Equal(seen) {
		t.Errorf("seen_at round-trip = %v, want %v", got, seen)
	}
}
