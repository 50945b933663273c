package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/apphub/backend/internal/config"
	"github.com/gofiber/fiber/v2"
)

// AdminAuth guards the hub API when auth.admin_token is set. The token is
// read from X-Admin-Token, then a Bearer header, then the token query
// parameter that websocket upgrades carry.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := cfg.Auth.AdminToken
		if token == "" {
			return c.Next()
		}

		given := c.Get("X-Admin-Token")
		if given == "" {
			const prefix = "Bearer "
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, prefix) {
				given = auth[len(prefix):]
			}
		}
		if given == "" {
			given = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}
