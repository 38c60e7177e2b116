package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agenthubhq/agenthub/app/controllers"
)

// WebhookRouter installs provider callback routes. These are unauthenticated
// by design; each handler verifies the provider's signature itself.
type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/paddle", controllers.HandlePaddleWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
