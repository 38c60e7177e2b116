package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/app/repository"
	"github.com/agenthubhq/agenthub/internal/pkg/billing"
	"github.com/agenthubhq/agenthub/internal/pkg/database"
	"github.com/agenthubhq/agenthub/internal/pkg/jobqueue"
	"github.com/agenthubhq/agenthub/internal/pkg/usage"
)

type subscribeRequest struct {
	PlanID uint `json:"plan_id" validate:"required"`
}

func billingService() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB(), billing.NewPaddleClientFromEnv())
}

// HandleGetBillingAccount returns the caller organization's billing account
// projection, provisioning it on first access.
func HandleGetBillingAccount(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}
	orgID, ok := requireOrganization(c, user)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view, err := billingService().GetAccountView(ctx, orgID)
	if err != nil {
		return internalError(c, "Failed to load billing account")
	}
	return c.JSON(view)
}

// HandleListPlans returns all purchasable plans with their agent coverage.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetPlanRepository().List(true)
	if err != nil {
		return internalError(c, "Failed to load plans")
	}

	out := make([]fiber.Map, 0, len(plans))
	for _, plan := range plans {
		agents := make([]fiber.Map, 0, len(plan.Agents))
		for _, agent := range plan.Agents {
			agents = append(agents, fiber.Map{"id": agent.ID, "name": agent.Name})
		}
		entry := fiber.Map{
			"id":          plan.ID,
			"name":        plan.Name,
			"plan_type":   plan.PlanType,
			"price_cents": plan.PriceCents,
			"is_default":  plan.IsDefault,
			"agents":      agents,
		}
		switch limits := plan.Limits().(type) {
		case models.SubscriptionLimits:
			entry["interval"] = limits.Interval
			entry["free_requests_limit"] = limits.FreeRequestsLimit
			entry["max_requests_per_interval"] = limits.MaxRequestsPerInterval
			entry["free_trial_days"] = limits.FreeTrialDays
		case models.OneTimeLimits:
			entry["credits_per_purchase"] = limits.CreditsPerPurchase
		}
		out = append(out, entry)
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleSubscribe purchases a plan for the caller's organization. In manual
// mode the plan applies immediately; otherwise the response carries a
// provider checkout URL and the webhook reconciler finishes the purchase.
func HandleSubscribe(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}
	orgID, ok := requireOrganization(c, user)
	if !ok {
		return nil
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil || req.PlanID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "bad_request",
			"message": "plan_id is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	result, err := billingService().Subscribe(ctx, orgID, req.PlanID, user.Email, user.Name)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPlanNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "plan_not_found", "message": "Plan does not exist"})
		case errors.Is(err, billing.ErrPlanNotPurchasable):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "plan_not_purchasable", "message": err.Error()})
		case errors.Is(err, billing.ErrAlreadySubscribed):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_subscribed", "message": "Organization already has this plan"})
		case errors.Is(err, billing.ErrActiveSubscriptionExists):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "active_subscription_exists", "message": "Cancel the current subscription first"})
		case errors.Is(err, billing.ErrProviderUnavailable):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "Payment provider is unavailable"})
		default:
			return internalError(c, "Subscription failed")
		}
	}
	return c.JSON(result)
}

// HandleCancelSubscription cancels the organization's subscription with
// immediate local effect.
func HandleCancelSubscription(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}
	orgID, ok := requireOrganization(c, user)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view, err := billingService().Cancel(ctx, orgID)
	if err != nil {
		return internalError(c, "Cancellation failed")
	}
	return c.JSON(view)
}

// HandleGetUsageSummary aggregates the organization's usage over the
// trailing window (?days=30, clamped to 1..90).
func HandleGetUsageSummary(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}
	orgID, ok := requireOrganization(c, user)
	if !ok {
		return nil
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			days = v
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracker := usage.NewTracker(database.GetDB(), jobqueue.GetManager().GetQueue())
	summary, err := tracker.GetSummary(ctx, orgID, days)
	if err != nil {
		return internalError(c, "Failed to aggregate usage")
	}
	return c.JSON(summary)
}
