package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"relstore/internal/engine"
	"relstore/internal/schema"
	"relstore/internal/store"
)

func testApp(t *testing.T, s *store.Store, reg *schema.Registry) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).JSON(engine.ErrorResponse{
				Error: &engine.AppError{Code: "INTERNAL_ERROR", Message: "Internal server error"},
			})
		},
	})
	h := engine.NewHandler(s, reg)
	engine.RegisterEntityRoutes(app, h)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func migrateAll(t *testing.T, s *store.Store, reg *schema.Registry) {
	t.Helper()
	if err := store.NewMigrator(s).EnsureAll(context.Background(), reg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestAPI_CreateWithNestedChildren(t *testing.T) {
	s := testStore(t)
	reg := testRegistry(t)
	migrateAll(t, s, reg)
	app := testApp(t, s, reg)

	resp := doRequest(t, app, "POST", "/api/customer", map[string]any{
		"name": "Ann",
		"age":  34,
		"passport": map[string]any{
			"number":          "P-42",
			"expiration_date": "2030-06-01T00:00:00Z",
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	data := decodeData(t, resp)
	if schema.Int64(data["id"]) == 0 {
		t.Error("response must carry the assigned identity")
	}

	get := doRequest(t, app, "GET", "/api/customer/1?include=children", nil)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", get.StatusCode)
	}
	got := decodeData(t, get)
	passport, ok := got["passport"].(map[string]any)
	if !ok {
		t.Fatalf("passport not populated in %v", got)
	}
	if passport["number"] != "P-42" {
		t.Errorf("passport number = %v, want P-42", passport["number"])
	}
}

func TestAPI_ListWithFiltersAndExpr(t *testing.T) {
	s := testStore(t)
	reg := testRegistry(t)
	migrateAll(t, s, reg)
	app := testApp(t, s, reg)

	for _, body := range []map[string]any{
		{"name": "Ann", "city": "Berlin", "age": 34},
		{"name": "Bob", "city": "Berlin", "age": 19},
		{"name": "Cleo", "city": "Lisbon", "age": 41},
	} {
		if resp := doRequest(t, app, "POST", "/api/customer", body); resp.StatusCode != 201 {
			t.Fatalf("seed status = %d", resp.StatusCode)
		}
	}

	assertListLen := func(path string, want int) {
		t.Helper()
		resp := doRequest(t, app, "GET", path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, resp.StatusCode)
		}
		defer resp.Body.Close()
		var envelope struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		if len(envelope.Data) != want {
			t.Errorf("GET %s returned %d rows, want %d", path, len(envelope.Data), want)
		}
	}

	assertListLen("/api/customer", 3)
	assertListLen("/api/customer?city=Berlin", 2)
	assertListLen("/api/customer?age__gte=30", 2)
	assertListLen("/api/customer?filter_expr=age+%3E+20+%26%26+city+%3D%3D+%22Berlin%22", 1)

	if resp := doRequest(t, app, "GET", "/api/customer?bogus=1", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown filter field status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_UpdateAndDelete(t *testing.T) {
	s := testStore(t)
	reg := testRegistry(t)
	migrateAll(t, s, reg)
	app := testApp(t, s, reg)

	create := doRequest(t, app, "POST", "/api/order", map[string]any{
		"total": 50,
		"tags":  []map[string]any{{"label": "gift"}},
	})
	if create.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", create.StatusCode)
	}

	update := doRequest(t, app, "PUT", "/api/order/1", map[string]any{
		"total":  60,
		"status": "paid",
	})
	if update.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", update.StatusCode)
	}

	del := doRequest(t, app, "DELETE", "/api/order/1", nil)
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", del.StatusCode)
	}
	if n := countRows(t, s, "orders"); n != 0 {
		t.Errorf("orders = %d after delete, want 0", n)
	}
	if n := countRows(t, s, "order_tag"); n != 0 {
		t.Errorf("junction rows = %d after delete, want 0", n)
	}
	if n := countRows(t, s, "tags"); n != 1 {
		t.Errorf("tags = %d after delete, want the peer kept", n)
	}
}

func TestAPI_ErrorEnvelopes(t *testing.T) {
	s := testStore(t)
	reg := testRegistry(t)
	migrateAll(t, s, reg)
	app := testApp(t, s, reg)

	if resp := doRequest(t, app, "GET", "/api/widget", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown entity status = %d, want 404", resp.StatusCode)
	}
	if resp := doRequest(t, app, "GET", "/api/customer/999", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", resp.StatusCode)
	}
	if resp := doRequest(t, app, "GET", "/api/customer/abc", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
	if resp := doRequest(t, app, "POST", "/api/customer", map[string]any{"no_such_field": 1}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", resp.StatusCode)
	}
	if resp := doRequest(t, app, "PUT", "/api/customer/999", map[string]any{"name": "X"}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("update of missing record status = %d, want 404", resp.StatusCode)
	}
}
