package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"relstore/internal/schema"
	"relstore/internal/store"
)

// Handler serves the generic entity CRUD API over the registry. Entities
// are addressed by their registered name; bodies may nest related records
// under their relationship names and are persisted as one cascading save.
type Handler struct {
	store *store.Store
	reg   *schema.Registry
}

func NewHandler(s *store.Store, reg *schema.Registry) *Handler {
	return &Handler{store: s, reg: reg}
}

// List handles GET /api/:entity.
//
// Query parameters: column filters as `field=value` or `field__op=value`
// (op: eq, neq, gt, gte, lt, lte, like, in, not_in), `sort=-age,name`,
// `include=children` to load CascadeRead relations, and `filter_expr` for
// an expression evaluated per row.
func (h *Handler) List(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}

	filters, sorts, err := parseQuery(c, t)
	if err != nil {
		return err
	}

	rows, err := selectRows(c.Context(), h.store.DB, h.store.Dialect, t, filters, sorts)
	if err != nil {
		return fmt.Errorf("list %s: %w", t.Name, err)
	}

	if expression := c.Query("filter_expr"); expression != "" {
		prog, err := CompileRowFilter(expression)
		if err != nil {
			return err
		}
		kept := rows[:0]
		for _, row := range rows {
			ok, err := EvalRowFilter(prog, row)
			if err != nil {
				return InvalidPayloadError(fmt.Sprintf("Filter expression failed: %v", err))
			}
			if ok {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	recs := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := materialize(t, row)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	if includeChildren(c) {
		if err := loadRelated(c.Context(), h.store.DB, h.store.Dialect, h.reg, t, recs); err != nil {
			return fmt.Errorf("load %s children: %w", t.Name, err)
		}
	}

	data := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		data = append(data, EncodeRecord(h.reg, t, rec))
	}
	return c.JSON(fiber.Map{
		"data": data,
		"meta": fiber.Map{"total": len(data)},
	})
}

// GetByID handles GET /api/:entity/:id.
func (h *Handler) GetByID(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	row, err := fetchRowByID(c.Context(), h.store.DB, h.store.Dialect, t, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(t.Name, c.Params("id"))
		}
		return fmt.Errorf("get %s/%d: %w", t.Name, id, err)
	}
	rec, err := materialize(t, row)
	if err != nil {
		return err
	}

	if includeChildren(c) {
		if err := loadRelated(c.Context(), h.store.DB, h.store.Dialect, h.reg, t, []schema.Record{rec}); err != nil {
			return fmt.Errorf("load %s children: %w", t.Name, err)
		}
	}

	return c.JSON(fiber.Map{"data": EncodeRecord(h.reg, t, rec)})
}

// Create handles POST /api/:entity. Nested related records cascade.
func (h *Handler) Create(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	rec, err := DecodeRecord(h.reg, t, body)
	if err != nil {
		return err
	}

	if err := h.saveCascading(c, t, rec); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": EncodeRecord(h.reg, t, rec)})
}

// Update handles PUT /api/:entity/:id.
func (h *Handler) Update(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if _, err := fetchRowByID(c.Context(), h.store.DB, h.store.Dialect, t, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(t.Name, c.Params("id"))
		}
		return fmt.Errorf("get %s/%d: %w", t.Name, id, err)
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	rec, err := DecodeRecord(h.reg, t, body)
	if err != nil {
		return err
	}
	rec.SetRecordID(id)

	if err := h.saveCascading(c, t, rec); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": EncodeRecord(h.reg, t, rec)})
}

// Delete handles DELETE /api/:entity/:id, cascading per the entity's
// relationship policies.
func (h *Handler) Delete(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	rec := t.New()
	rec.SetRecordID(id)

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := newResolver(h.reg)
	if err := deleteGraph(c.Context(), tx, h.store.Dialect, h.reg, res, rec, true); err != nil {
		return fmt.Errorf("delete %s/%d: %w", t.Name, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return c.JSON(fiber.Map{"message": fmt.Sprintf("%s %d deleted", t.Name, id)})
}

func (h *Handler) saveCascading(c *fiber.Ctx, t *schema.Table, rec schema.Record) error {
	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := newResolver(h.reg)
	if err := saveGraph(c.Context(), tx, h.store.Dialect, h.reg, res, rec, nil, true); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return ConflictError(fmt.Sprintf("%s violates a unique constraint", t.Name))
		}
		return fmt.Errorf("save %s: %w", t.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (h *Handler) resolveTable(c *fiber.Ctx) (*schema.Table, error) {
	name := c.Params("entity")
	t := h.reg.GetTable(name)
	if t == nil {
		return nil, UnknownEntityError(name)
	}
	return t, nil
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, InvalidPayloadError(fmt.Sprintf("Invalid id: %s", c.Params("id")))
	}
	return id, nil
}

func includeChildren(c *fiber.Ctx) bool {
	return c.Query("include") == "children"
}

// parseQuery turns query string parameters into filters and sort orders.
// Unknown keys that do not name a column are rejected rather than ignored.
func parseQuery(c *fiber.Ctx, t *schema.Table) ([]Filter, []Order, error) {
	var filters []Filter
	var badKey error

	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		key, value := string(k), string(v)
		switch key {
		case "include", "sort", "filter_expr":
			return
		}

		field, op := key, "eq"
		if idx := strings.Index(key, "__"); idx > 0 {
			field, op = key[:idx], key[idx+2:]
		}
		if !t.HasColumn(field) {
			badKey = InvalidPayloadError(fmt.Sprintf("Unknown filter field: %s", field))
			return
		}
		if op == "in" || op == "not_in" {
			parts := strings.Split(value, ",")
			vals := make([]any, len(parts))
			for i, p := range parts {
				vals[i] = p
			}
			filters = append(filters, Filter{Field: field, Operator: op, Value: vals})
			return
		}
		filters = append(filters, Filter{Field: field, Operator: op, Value: value})
	})
	if badKey != nil {
		return nil, nil, badKey
	}

	var sorts []Order
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			desc := strings.HasPrefix(part, "-")
			field := strings.TrimPrefix(part, "-")
			if !t.HasColumn(field) {
				return nil, nil, InvalidPayloadError(fmt.Sprintf("Unknown sort field: %s", field))
			}
			sorts = append(sorts, Order{Field: field, Desc: desc})
		}
	}

	return filters, sorts, nil
}
