package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/app/repository"
	"github.com/agenthubhq/agenthub/internal/pkg/billing"
	"github.com/agenthubhq/agenthub/internal/pkg/database"
	"github.com/agenthubhq/agenthub/internal/pkg/jobqueue"
	"github.com/agenthubhq/agenthub/internal/pkg/llm"
	"github.com/agenthubhq/agenthub/internal/pkg/policy"
	"github.com/agenthubhq/agenthub/internal/pkg/usage"
)

type completeRequest struct {
	Prompt   string `json:"prompt" validate:"required"`
	ImageURL string `json:"image_url,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// agentRuntime is swappable in tests.
var agentRuntime llm.Runtime = llm.NewEchoRuntime()

// SetAgentRuntime replaces the completion backend.
func SetAgentRuntime(r llm.Runtime) {
	agentRuntime = r
}

// HandleListAgents returns all active agents.
func HandleListAgents(c *fiber.Ctx) error {
	agents, err := repository.GetGlobalFactory().GetAgentRepository().List(true)
	if err != nil {
		return internalError(c, "Failed to load agents")
	}

	out := make([]fiber.Map, 0, len(agents))
	for _, agent := range agents {
		out = append(out, fiber.Map{
			"id":              agent.ID,
			"name":            agent.Name,
			"description":     agent.Description,
			"model_name":      agent.ModelName,
			"supports_vision": agent.SupportsVision,
			"is_public":       agent.IsPublic,
		})
	}
	return c.JSON(fiber.Map{"agents": out})
}

// HandleAgentComplete runs one completion against an agent. The sequence is
// gate, execute, increment, record: quota is only consumed after the agent
// answered, and failed executions are recorded but never billed.
func HandleAgentComplete(c *fiber.Ctx) error {
	user := requireUser(c)
	if user == nil {
		return nil
	}

	agentID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || agentID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid agent id"})
	}

	var req completeRequest
	if err := c.BodyParser(&req); err != nil || req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "prompt is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	gate := policy.NewGateFromDB(database.GetDB())
	decision, err := gate.Enforce(ctx, user, uint(agentID))
	if err != nil {
		if errors.Is(err, policy.ErrNotAllowed) {
			return writeDenial(c, decision)
		}
		return internalError(c, "Admission check failed")
	}

	agent, err := repository.GetGlobalFactory().GetAgentRepository().GetByID(uint(agentID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "agent_not_found", "message": "Agent does not exist"})
		}
		return internalError(c, "Failed to load agent")
	}

	requestID := uuid.New().String()
	started := time.Now()
	response, execErr := agentRuntime.Complete(ctx, llm.Request{
		Agent:    agent,
		Prompt:   req.Prompt,
		ImageURL: req.ImageURL,
	})
	elapsed := int(time.Since(started).Milliseconds())

	tracker := usage.NewTracker(database.GetDB(), jobqueue.GetManager().GetQueue())
	agentIDVal := uint(agentID)
	event := usage.Event{
		RequestID:      requestID,
		UserID:         user.ID,
		OrganizationID: orgIDOrZero(user),
		AgentID:        &agentIDVal,
		Endpoint:       c.Path(),
		Channel:        req.Channel,
		HasImage:       req.ImageURL != "",
		ResponseTimeMs: elapsed,
	}

	if execErr != nil {
		// Failed executions are recorded for audit but consume no quota.
		event.StatusCode = fiber.StatusBadGateway
		event.ErrorMessage = execErr.Error()
		event.ModelName = agent.ModelName
		tracker.Record(ctx, event)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "completion_failed", "message": execErr.Error()})
	}

	consumedTier, err := gate.IncrementUsage(ctx, user)
	if err != nil {
		if errors.Is(err, billing.ErrQuotaExhausted) {
			// Lost the admission race to a concurrent request.
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "quota_exhausted", "message": "Request quota exhausted"})
		}
		return internalError(c, "Failed to commit usage")
	}

	event.StatusCode = fiber.StatusOK
	event.ModelName = response.ModelName
	event.Tokens = &usage.TokenUsage{
		PromptTokens:     response.PromptTokens,
		CompletionTokens: response.CompletionTokens,
		TotalTokens:      response.TotalTokens,
	}
	tracker.Record(ctx, event)

	return c.JSON(fiber.Map{
		"request_id": requestID,
		"agent_id":   agent.ID,
		"model_name": response.ModelName,
		"content":    response.Content,
		"tier":       consumedTier,
		"usage": fiber.Map{
			"prompt_tokens":     response.PromptTokens,
			"completion_tokens": response.CompletionTokens,
			"total_tokens":      response.TotalTokens,
		},
	})
}

func writeDenial(c *fiber.Ctx, decision billing.Decision) error {
	status := fiber.StatusForbidden
	switch decision.Reason {
	case billing.ReasonQuotaExhausted:
		status = fiber.StatusTooManyRequests
	case billing.ReasonAgentNotFound:
		status = fiber.StatusNotFound
	case billing.ReasonNoSubscription, billing.ReasonSubscriptionInactive:
		status = fiber.StatusPaymentRequired
	}
	return c.Status(status).JSON(fiber.Map{
		"error":          decision.Reason,
		"should_upgrade": decision.ShouldUpgrade,
	})
}

func orgIDOrZero(user *models.User) uint {
	if user.OrganizationID == nil {
		return 0
	}
	return *user.OrganizationID
}
