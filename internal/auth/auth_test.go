package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"relstore/internal/config"
	"relstore/internal/engine"
)

const testSecret = "test-secret"

func testAuthApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if appErr, ok := err.(*engine.AppError); ok {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).SendString(err.Error())
		},
	})
	h, err := NewHandler(config.AuthConfig{
		JWTSecret:     testSecret,
		AdminUser:     "admin",
		AdminPassword: "hunter2",
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	RegisterRoutes(app, h)

	app.Get("/protected", Middleware(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"subject": GetClaims(c).Subject})
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func loginPair(t *testing.T, app *fiber.App) TokenPair {
	t.Helper()
	resp := postJSON(t, app, "/api/auth/login", map[string]string{
		"username": "admin",
		"password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("login status = %d: %s", resp.StatusCode, body)
	}
	defer resp.Body.Close()
	var envelope struct {
		Data TokenPair `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return envelope.Data
}

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("admin", []string{"admin"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("subject = %q, want admin", claims.Subject)
	}
	if _, err := ParseAccessToken(token, "other-secret"); err == nil {
		t.Error("token must not verify under a different secret")
	}
}

func TestPasswordHash_RoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword("hunter2", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestLogin_IssuesUsableTokens(t *testing.T) {
	app := testAuthApp(t)
	pair := loginPair(t, app)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login must issue both tokens")
	}

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("protected request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("protected status = %d, want 200", resp.StatusCode)
	}
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	app := testAuthApp(t)
	resp := postJSON(t, app, "/api/auth/login", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMiddleware_RejectsMissingOrMangledTokens(t *testing.T) {
	app := testAuthApp(t)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage token":  "Bearer not.a.jwt",
	}
	for name, header := range cases {
		req, _ := http.NewRequest("GET", "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, resp.StatusCode)
		}
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	app := testAuthApp(t)
	pair := loginPair(t, app)

	first := postJSON(t, app, "/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	if first.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", first.StatusCode)
	}

	// The consumed token must not work a second time.
	second := postJSON(t, app, "/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	if second.StatusCode != http.StatusUnauthorized {
		t.Errorf("replayed refresh status = %d, want 401", second.StatusCode)
	}
}

func TestLogout_InvalidatesRefreshToken(t *testing.T) {
	app := testAuthApp(t)
	pair := loginPair(t, app)

	if resp := postJSON(t, app, "/api/auth/logout", map[string]string{"refresh_token": pair.RefreshToken}); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, app, "/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("refresh after logout status = %d, want 401", resp.StatusCode)
	}
}
