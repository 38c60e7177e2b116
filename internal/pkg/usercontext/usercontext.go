package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agenthubhq/agenthub/app/models"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID         uint   `json:"user_id"`
	Username       string `json:"username"`
	OrganizationID *uint  `json:"organization_id,omitempty"`
	IsLoggedIn     bool   `json:"is_logged_in"`
	IsAdmin        bool   `json:"is_admin"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals("USER_CONTEXT"); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// GetUser returns the authenticated user model, or nil for anonymous requests
func GetUser(c *fiber.Ctx) *models.User {
	if u, ok := c.Locals(KeyUserModel).(*models.User); ok {
		return u
	}
	return nil
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// GetUsername returns the current user's username, or empty string if not logged in
func GetUsername(c *fiber.Ctx) string {
	return GetUserContext(c).Username
}

// GetOrganizationID returns the current user's organization ID, or nil
func GetOrganizationID(c *fiber.Ctx) *uint {
	return GetUserContext(c).OrganizationID
}
