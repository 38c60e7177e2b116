package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/internal/pkg/usercontext"
)

// requireUser loads the authenticated user model or answers 401.
// Returns nil after writing the response when authentication is missing.
func requireUser(c *fiber.Ctx) *models.User {
	user := usercontext.GetUser(c)
	if user == nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "Missing or invalid authentication",
		})
		return nil
	}
	return user
}

// requireOrganization answers 403 when the user belongs to no organization.
func requireOrganization(c *fiber.Ctx, user *models.User) (uint, bool) {
	if user.OrganizationID == nil {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "no_organization",
			"message": "User is not assigned to an organization",
		})
		return 0, false
	}
	return *user.OrganizationID, true
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func internalError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": message,
	})
}
