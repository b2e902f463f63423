package auth

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"relstore/internal/config"
	"relstore/internal/engine"
)

// Handler serves login, refresh, and logout. Credentials come from the
// configured admin account; refresh tokens are opaque, rotated on use, and
// held in memory, so restarting the server ends refresh sessions.
type Handler struct {
	cfg          config.AuthConfig
	passwordHash string

	mu      sync.Mutex
	refresh map[string]refreshSession
}

type refreshSession struct {
	subject   string
	expiresAt time.Time
}

func NewHandler(cfg config.AuthConfig) (*Handler, error) {
	hash, err := HashPassword(cfg.AdminPassword)
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:          cfg,
		passwordHash: hash,
		refresh:      make(map[string]refreshSession),
	}, nil
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.Username == "" || body.Password == "" {
		return engine.UnauthorizedError("Username and password are required")
	}

	if body.Username != h.cfg.AdminUser || !CheckPassword(body.Password, h.passwordHash) {
		return engine.UnauthorizedError("Invalid username or password")
	}

	pair, err := h.issueTokenPair(body.Username)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. The presented token is consumed
// whether or not it is still valid.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	h.mu.Lock()
	session, ok := h.refresh[body.RefreshToken]
	delete(h.refresh, body.RefreshToken)
	h.mu.Unlock()

	if !ok {
		return engine.UnauthorizedError("Invalid refresh token")
	}
	if time.Now().After(session.expiresAt) {
		return engine.UnauthorizedError("Refresh token expired")
	}

	pair, err := h.issueTokenPair(session.subject)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}

	h.mu.Lock()
	delete(h.refresh, body.RefreshToken)
	h.mu.Unlock()

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterRoutes registers the auth routes on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
}

func (h *Handler) issueTokenPair(subject string) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(subject, []string{"admin"}, h.cfg.JWTSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	h.mu.Lock()
	h.refresh[refreshToken] = refreshSession{
		subject:   subject,
		expiresAt: time.Now().Add(RefreshTokenTTL),
	}
	h.mu.Unlock()

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
