package engine

import (
	"fmt"

	"relstore/internal/schema"
)

// DecodeRecord builds a record from a decoded JSON body. Keys matching a
// declared relationship name become related records (recursively); the rest
// must be columns of the table. The primary key, when present, becomes the
// record's identity.
func DecodeRecord(reg *schema.Registry, t *schema.Table, body map[string]any) (schema.Record, error) {
	rec := t.New()
	fields := make(map[string]any, len(body))

	for key, value := range body {
		if rel := t.GetRelation(key); rel != nil {
			target := reg.GetTable(rel.Target)
			if target == nil {
				return nil, fmt.Errorf("decode %s.%s: target %q not registered", t.Name, key, rel.Target)
			}
			children, err := decodeChildren(reg, target, value)
			if err != nil {
				return nil, err
			}
			rel.Set(rec, children)
			continue
		}
		if !t.HasColumn(key) {
			return nil, InvalidPayloadError(fmt.Sprintf("Unknown field %q for entity %s", key, t.Name))
		}
		fields[key] = value
	}

	if id, ok := fields[t.PrimaryKey()]; ok {
		rec.SetRecordID(schema.Int64(id))
	}
	if err := rec.Scan(fields); err != nil {
		return nil, InvalidPayloadError(fmt.Sprintf("Invalid %s payload: %v", t.Name, err))
	}
	return rec, nil
}

func decodeChildren(reg *schema.Registry, target *schema.Table, value any) ([]schema.Record, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		child, err := DecodeRecord(reg, target, v)
		if err != nil {
			return nil, err
		}
		return []schema.Record{child}, nil
	case []any:
		children := make([]schema.Record, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, InvalidPayloadError(fmt.Sprintf("Related %s entries must be objects", target.Name))
			}
			child, err := DecodeRecord(reg, target, m)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return children, nil
	default:
		return nil, InvalidPayloadError(fmt.Sprintf("Related field %s must be an object or array", target.Name))
	}
}

// EncodeRecord renders a record as a JSON-ready map, including populated
// relationship fields. Used by the HTTP layer after relation loading.
func EncodeRecord(reg *schema.Registry, t *schema.Table, rec schema.Record) map[string]any {
	out := rec.Values()
	if out == nil {
		out = make(map[string]any)
	}
	out[t.PrimaryKey()] = rec.RecordID()

	for _, rel := range t.OrderedRelations() {
		target := reg.GetTable(rel.Target)
		if target == nil {
			continue
		}
		children := rel.Get(rec)
		if len(children) == 0 {
			continue
		}
		if rel.IsOneToOne() {
			out[rel.Name] = EncodeRecord(reg, target, children[0])
			continue
		}
		encoded := make([]map[string]any, 0, len(children))
		for _, child := range children {
			encoded = append(encoded, EncodeRecord(reg, target, child))
		}
		out[rel.Name] = encoded
	}
	return out
}
