package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agenthubhq/agenthub/app/controllers"
	"github.com/agenthubhq/agenthub/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", apiLimiter())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "AgentHub API",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	// User surface
	v1.Get("/user/account", controllers.HandleGetUserAccount)
	v1.Post("/user/api-key", controllers.HandleRotateAPIKey)
	v1.Delete("/user/api-key", controllers.HandleRevokeAPIKey)

	// Agents
	v1.Get("/agents", controllers.HandleListAgents)
	v1.Post("/agents/:id/complete", controllers.HandleAgentComplete)

	// Billing
	v1.Get("/billing/account", controllers.HandleGetBillingAccount)
	v1.Get("/billing/plans", controllers.HandleListPlans)
	v1.Post("/billing/subscribe", controllers.HandleSubscribe)
	v1.Post("/billing/cancel", controllers.HandleCancelSubscription)
	v1.Get("/billing/usage", controllers.HandleGetUsageSummary)

	// Admin surface
	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Post("/plans", controllers.HandleAdminCreatePlan)
	admin.Put("/plans/:id", controllers.HandleAdminUpdatePlan)
	admin.Post("/agents", controllers.HandleAdminCreateAgent)
	admin.Put("/agents/:id", controllers.HandleAdminUpdateAgent)
	admin.Get("/webhook-events", controllers.HandleAdminListWebhookEvents)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
