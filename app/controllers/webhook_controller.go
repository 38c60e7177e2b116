package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agenthubhq/agenthub/internal/pkg/billing"
	"github.com/agenthubhq/agenthub/internal/pkg/database"
	"github.com/agenthubhq/agenthub/internal/pkg/env"
)

// HandlePaddleWebhook ingests asynchronous Paddle events. The raw body is
// copied before parsing because signature verification runs over the exact
// bytes Paddle signed.
func HandlePaddleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Paddle-Signature"))
	secret := env.GetEnv("PADDLE_WEBHOOK_SECRET", "")

	reconciler := billing.NewReconcilerFromDB(database.GetDB(), secret)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := reconciler.Process(ctx, rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		// Non-2xx makes the provider redeliver; the event row stayed
		// non-terminal so the retry is processed cleanly.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	response := fiber.Map{"ok": true, "event_id": result.EventID}
	if result.Duplicate {
		response["duplicate"] = true
	}
	if result.Ignored {
		response["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(response)
}
