package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/app/repository"
	"github.com/agenthubhq/agenthub/internal/pkg/billing"
	"github.com/agenthubhq/agenthub/internal/pkg/database"
)

// HandleGetUserAccount returns account information for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}

	response := fiber.Map{
		"id":                   user.ID,
		"username":             user.Name,
		"email":                user.Email,
		"status":               user.Status,
		"is_admin":             user.Role == models.ROLE_ADMIN,
		"organization_id":      user.OrganizationID,
		"api_key_prefix":       user.APIKeyPrefix,
		"created_at":           user.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(user.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(user.APIKeyLastUsedAt),
	}

	if user.OrganizationID != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		svc := billing.NewServiceFromDB(database.GetDB(), billing.NewPaddleClientFromEnv())
		if view, err := svc.GetAccountView(ctx, *user.OrganizationID); err == nil {
			response["billing"] = view
		}

		org, err := repository.GetGlobalFactory().GetOrganizationRepository().GetByID(*user.OrganizationID)
		if err == nil {
			response["organization"] = fiber.Map{
				"id":   org.ID,
				"name": org.Name,
				"slug": org.Slug,
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return internalError(c, "Failed to load organization")
		}
	}

	return c.JSON(response)
}

// HandleRotateAPIKey issues a fresh API key for the caller, invalidating the
// old one. The raw secret is only ever returned here.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		return internalError(c, "Failed to generate API key")
	}
	if err := repository.GetGlobalFactory().GetUserRepository().Update(user); err != nil {
		return internalError(c, "Failed to store API key")
	}

	return c.JSON(fiber.Map{
		"api_key":        rawKey,
		"api_key_prefix": user.APIKeyPrefix,
		"created_at":     formatTimePtr(user.APIKeyCreatedAt),
	})
}

// HandleRevokeAPIKey revokes the caller's API key.
func HandleRevokeAPIKey(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}

	user.RevokeAPIKey()
	if err := repository.GetGlobalFactory().GetUserRepository().Update(user); err != nil {
		return internalError(c, "Failed to revoke API key")
	}
	return c.JSON(fiber.Map{"ok": true})
}
