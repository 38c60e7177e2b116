package middleware

import (
	"github.com/gofiber/fiber/v2"

	icuser "github.com/agenthubhq/agenthub/internal/pkg/usercontext"
)

// RequireAuth ensures an authenticated request and returns JSON 401 otherwise.
func RequireAuth(c *fiber.Ctx) error {
	if !isAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures an authenticated admin; returns JSON 403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if !isAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	if isAdmin, ok := c.Locals(icuser.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}

func isAuthenticated(c *fiber.Ctx) bool {
	if b, ok := c.Locals(icuser.KeyFromProtected).(bool); ok {
		return b
	}
	return false
}
