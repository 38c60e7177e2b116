package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/app/repository"
	"github.com/agenthubhq/agenthub/internal/pkg/database"
)

// Admin endpoints manage the plan catalog and agent roster. All of them sit
// behind RequireAdmin in the router.

type planRequest struct {
	Name                   string  `json:"name"`
	PlanType               string  `json:"plan_type"`
	Interval               string  `json:"interval"`
	PriceCents             int64   `json:"price_cents"`
	FreeRequestsLimit      int     `json:"free_requests_limit"`
	MaxRequestsPerInterval int     `json:"max_requests_per_interval"`
	FreeTrialDays          int     `json:"free_trial_days"`
	MaxTokensPerRequest    int     `json:"max_tokens_per_request"`
	OneTimeLimit           int     `json:"one_time_limit"`
	PaddlePriceID          string  `json:"paddle_price_id"`
	IsDefault              bool    `json:"is_default"`
	IsActive               *bool   `json:"is_active"`
	AgentIDs               []uint  `json:"agent_ids"`
	Description            *string `json:"description"`
}

// HandleAdminCreatePlan creates a plan and binds its agents.
func HandleAdminCreatePlan(c *fiber.Ctx) error {
	var req planRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "name is required"})
	}
	if req.PlanType == "" {
		req.PlanType = models.PlanTypeSubscription
	}

	plan := &models.SubscriptionPlan{
		Name:                   req.Name,
		PlanType:               req.PlanType,
		Interval:               req.Interval,
		PriceCents:             req.PriceCents,
		FreeRequestsLimit:      req.FreeRequestsLimit,
		MaxRequestsPerInterval: req.MaxRequestsPerInterval,
		FreeTrialDays:          req.FreeTrialDays,
		MaxTokensPerRequest:    req.MaxTokensPerRequest,
		OneTimeLimit:           req.OneTimeLimit,
		PaddlePriceID:          req.PaddlePriceID,
		IsDefault:              req.IsDefault,
		IsActive:               true,
	}
	if req.Description != nil {
		plan.Description = *req.Description
	}
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}

	if err := attachAgents(plan, req.AgentIDs); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_agents", "message": err.Error()})
	}
	if err := repository.GetGlobalFactory().GetPlanRepository().Create(plan); err != nil {
		return internalError(c, "Failed to create plan")
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

// HandleAdminUpdatePlan updates a plan's fields and agent bindings.
func HandleAdminUpdatePlan(c *fiber.Ctx) error {
	planID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || planID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid plan id"})
	}

	repo := repository.GetGlobalFactory().GetPlanRepository()
	plan, err := repo.GetByID(uint(planID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "plan_not_found"})
		}
		return internalError(c, "Failed to load plan")
	}

	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request"})
	}

	if req.Name != "" {
		plan.Name = req.Name
	}
	if req.Description != nil {
		plan.Description = *req.Description
	}
	if req.Interval != "" {
		plan.Interval = req.Interval
	}
	if req.PriceCents != 0 {
		plan.PriceCents = req.PriceCents
	}
	if req.FreeRequestsLimit != 0 {
		plan.FreeRequestsLimit = req.FreeRequestsLimit
	}
	if req.MaxRequestsPerInterval != 0 {
		plan.MaxRequestsPerInterval = req.MaxRequestsPerInterval
	}
	if req.FreeTrialDays != 0 {
		plan.FreeTrialDays = req.FreeTrialDays
	}
	if req.MaxTokensPerRequest != 0 {
		plan.MaxTokensPerRequest = req.MaxTokensPerRequest
	}
	if req.OneTimeLimit != 0 {
		plan.OneTimeLimit = req.OneTimeLimit
	}
	if req.PaddlePriceID != "" {
		plan.PaddlePriceID = req.PaddlePriceID
	}
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}
	if req.AgentIDs != nil {
		if err := attachAgents(plan, req.AgentIDs); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_agents", "message": err.Error()})
		}
		if err := database.GetDB().Model(plan).Association("Agents").Replace(plan.Agents); err != nil {
			return internalError(c, "Failed to update plan agents")
		}
	}

	if err := repo.Update(plan); err != nil {
		return internalError(c, "Failed to update plan")
	}
	return c.JSON(plan)
}

type agentRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ModelName      string `json:"model_name"`
	SystemPrompt   string `json:"system_prompt"`
	SupportsVision bool   `json:"supports_vision"`
	IsPublic       bool   `json:"is_public"`
	IsActive       *bool  `json:"is_active"`
}

// HandleAdminCreateAgent registers a new agent.
func HandleAdminCreateAgent(c *fiber.Ctx) error {
	var req agentRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "name is required"})
	}

	agent := &models.Agent{
		Name:           req.Name,
		Description:    req.Description,
		SystemPrompt:   req.SystemPrompt,
		SupportsVision: req.SupportsVision,
		IsPublic:       req.IsPublic,
		IsActive:       true,
	}
	if req.ModelName != "" {
		agent.ModelName = req.ModelName
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}

	if err := repository.GetGlobalFactory().GetAgentRepository().Create(agent); err != nil {
		return internalError(c, "Failed to create agent")
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}

// HandleAdminUpdateAgent updates an existing agent.
func HandleAdminUpdateAgent(c *fiber.Ctx) error {
	agentID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || agentID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid agent id"})
	}

	repo := repository.GetGlobalFactory().GetAgentRepository()
	agent, err := repo.GetByID(uint(agentID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "agent_not_found"})
		}
		return internalError(c, "Failed to load agent")
	}

	var req agentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request"})
	}

	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.Description != "" {
		agent.Description = req.Description
	}
	if req.ModelName != "" {
		agent.ModelName = req.ModelName
	}
	if req.SystemPrompt != "" {
		agent.SystemPrompt = req.SystemPrompt
	}
	agent.SupportsVision = req.SupportsVision
	agent.IsPublic = req.IsPublic
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}

	if err := repo.Update(agent); err != nil {
		return internalError(c, "Failed to update agent")
	}
	return c.JSON(agent)
}

// HandleAdminListWebhookEvents lists recent webhook audit rows, newest first.
func HandleAdminListWebhookEvents(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	var events []models.PaddleWebhookEvent
	err := database.GetDB().
		Order("received_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return internalError(c, "Failed to load webhook events")
	}
	return c.JSON(fiber.Map{"events": events})
}

func attachAgents(plan *models.SubscriptionPlan, agentIDs []uint) error {
	if len(agentIDs) == 0 {
		plan.Agents = nil
		return nil
	}
	repo := repository.GetGlobalFactory().GetAgentRepository()
	agents := make([]models.Agent, 0, len(agentIDs))
	for _, id := range agentIDs {
		agent, err := repo.GetByID(id)
		if err != nil {
			return errors.New("agent not found")
		}
		agents = append(agents, *agent)
	}
	plan.Agents = agents
	return nil
}
