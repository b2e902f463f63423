package engine

import (
	"fmt"
	"strings"

	"relstore/internal/schema"
	"relstore/internal/store"
)

// SQL builders. Field maps are walked in column declaration order so the
// generated statements are deterministic regardless of map iteration.

// BuildInsertSQL builds a parameterized INSERT returning the new primary key.
func BuildInsertSQL(t *schema.Table, fields map[string]any, d store.Dialect) (string, []any) {
	pb := d.NewParamBuilder()
	pk := t.PrimaryKey()

	var cols, phs []string
	for _, name := range t.ColumnNames() {
		if name == pk {
			continue
		}
		v, ok := fields[name]
		if !ok {
			continue
		}
		cols = append(cols, name)
		phs = append(phs, pb.Add(v))
	}

	var sqlStr string
	if len(cols) == 0 {
		sqlStr = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", t.TableName, pk)
	} else {
		sqlStr = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			t.TableName, strings.Join(cols, ", "), strings.Join(phs, ", "), pk)
	}
	return sqlStr, pb.Params()
}

// BuildUpdateSQL builds a parameterized UPDATE keyed by primary key.
// Returns an empty statement when no updatable field is present.
func BuildUpdateSQL(t *schema.Table, id int64, fields map[string]any, d store.Dialect) (string, []any) {
	pb := d.NewParamBuilder()
	pk := t.PrimaryKey()

	var sets []string
	for _, name := range t.ColumnNames() {
		if name == pk {
			continue
		}
		v, ok := fields[name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", name, pb.Add(v)))
	}
	if len(sets) == 0 {
		return "", nil
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		t.TableName, strings.Join(sets, ", "), pk, pb.Add(id))
	return sqlStr, pb.Params()
}

// BuildDeleteSQL builds a parameterized DELETE keyed by primary key.
func BuildDeleteSQL(t *schema.Table, id int64, d store.Dialect) (string, []any) {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		t.TableName, t.PrimaryKey(), pb.Add(id))
	return sqlStr, pb.Params()
}

// BuildSelectSQL builds a parameterized SELECT with optional filters, in
// store insertion order unless sorts are given.
func BuildSelectSQL(t *schema.Table, filters []Filter, sorts []Order, d store.Dialect) (string, []any, error) {
	pb := d.NewParamBuilder()
	columns := strings.Join(t.ColumnNames(), ", ")

	var where []string
	for _, f := range filters {
		if !t.HasColumn(f.Field) {
			return "", nil, InvalidPayloadError(fmt.Sprintf("Unknown filter field: %s", f.Field))
		}
		where = append(where, buildWhereClause(f, pb, d))
	}

	sqlStr := fmt.Sprintf("SELECT %s FROM %s", columns, t.TableName)
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if len(sorts) > 0 {
		var orderParts []string
		for _, s := range sorts {
			if !t.HasColumn(s.Field) {
				return "", nil, InvalidPayloadError(fmt.Sprintf("Unknown sort field: %s", s.Field))
			}
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			orderParts = append(orderParts, fmt.Sprintf("%s %s", s.Field, dir))
		}
		sqlStr += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	return sqlStr, pb.Params(), nil
}

// Order describes one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}
