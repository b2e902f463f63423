package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"relstore/internal/engine"
)

// Middleware validates the bearer token and stores the claims on the
// request for downstream handlers.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// GetClaims extracts the validated claims from a request, nil when the
// route is unauthenticated.
func GetClaims(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals("claims").(*Claims)
	return claims
}
