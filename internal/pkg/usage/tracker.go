package usage

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/internal/pkg/jobqueue"
)

// TokenUsage is the provider-reported token accounting for one request.
// A nil *TokenUsage means the provider reported nothing; it records as zeros.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is one billable (or failed) agent request to be recorded.
type Event struct {
	RequestID      string
	UserID         uint
	OrganizationID uint
	AgentID        *uint
	Endpoint       string
	Channel        string
	ModelName      string
	Tokens         *TokenUsage
	HasImage       bool
	ResponseTimeMs int
	StatusCode     int
	CostMicros     int64
	ErrorMessage   string
}

// Tracker records usage events. Recording is best effort and decoupled from
// the request path: events go through the job queue, with a synchronous
// insert as fallback when enqueueing fails. A recording failure never fails
// the user's request.
type Tracker struct {
	db    *gorm.DB
	queue *jobqueue.Queue
}

// NewTracker creates a usage tracker. queue may be nil, in which case all
// events are written synchronously.
func NewTracker(db *gorm.DB, queue *jobqueue.Queue) *Tracker {
	return &Tracker{db: db, queue: queue}
}

// Record persists one usage event. A missing RequestID gets a fresh UUID so
// the row is always individually addressable.
func (t *Tracker) Record(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = uuid.New().String()
	}
	if event.Channel == "" {
		event.Channel = models.ChannelAPI
	}

	tokens := event.Tokens
	if tokens == nil {
		tokens = &TokenUsage{}
	}

	payload := jobqueue.UsageRecordJobPayload{
		RequestID:        event.RequestID,
		UserID:           event.UserID,
		OrganizationID:   event.OrganizationID,
		AgentID:          event.AgentID,
		Endpoint:         event.Endpoint,
		Channel:          event.Channel,
		ModelName:        event.ModelName,
		PromptTokens:     tokens.PromptTokens,
		CompletionTokens: tokens.CompletionTokens,
		TotalTokens:      tokens.TotalTokens,
		HasImage:         event.HasImage,
		ResponseTimeMs:   event.ResponseTimeMs,
		StatusCode:       event.StatusCode,
		CostMicros:       event.CostMicros,
		ErrorMessage:     event.ErrorMessage,
		OccurredAt:       time.Now().UTC().Format(time.RFC3339),
	}

	if t.queue != nil {
		_, err := t.queue.EnqueueJob(jobqueue.JobTypeUsageRecord, payload.ToMap())
		if err == nil {
			return
		}
		log.Warnf("[Usage] Enqueue failed for %s, writing directly: %v", event.RequestID, err)
	}

	t.insertDirect(ctx, payload)
}

func (t *Tracker) insertDirect(ctx context.Context, payload jobqueue.UsageRecordJobPayload) {
	_ = ctx
	record := models.UsageRecord{
		RequestID:        payload.RequestID,
		UserID:           payload.UserID,
		OrganizationID:   payload.OrganizationID,
		AgentID:          payload.AgentID,
		Endpoint:         payload.Endpoint,
		Channel:          payload.Channel,
		ModelName:        payload.ModelName,
		PromptTokens:     payload.PromptTokens,
		CompletionTokens: payload.CompletionTokens,
		TotalTokens:      payload.TotalTokens,
		HasImage:         payload.HasImage,
		ResponseTimeMs:   payload.ResponseTimeMs,
		StatusCode:       payload.StatusCode,
		CostMicros:       payload.CostMicros,
		ErrorMessage:     payload.ErrorMessage,
	}
	if err := t.db.Create(&record).Error; err != nil && !models.IsDuplicateEntryError(err) {
		log.Errorf("[Usage] Failed to store usage record %s: %v", payload.RequestID, err)
	}
}

// Summary aggregates an organization's usage over the trailing window.
type Summary struct {
	OrganizationID uint         `json:"organization_id"`
	Days           int          `json:"days"`
	TotalRequests  int64        `json:"total_requests"`
	FailedRequests int64        `json:"failed_requests"`
	TotalTokens    int64        `json:"total_tokens"`
	TotalCostUSD   float64      `json:"total_cost_usd"`
	AvgResponseMs  float64      `json:"avg_response_ms"`
	ByModel        []ModelUsage `json:"by_model"`
}

// ModelUsage is the per-model slice of a summary.
type ModelUsage struct {
	ModelName   string `json:"model_name"`
	Requests    int64  `json:"requests"`
	TotalTokens int64  `json:"total_tokens"`
}

// GetSummary aggregates usage for the organization over the last N days.
// days is clamped to [1, 90].
func (t *Tracker) GetSummary(ctx context.Context, orgID uint, days int) (*Summary, error) {
	_ = ctx
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}
	since := time.Now().AddDate(0, 0, -days)

	summary := &Summary{OrganizationID: orgID, Days: days}

	var totals struct {
		TotalRequests  int64
		FailedRequests int64
		TotalTokens    int64
		TotalCost      int64
		AvgResponseMs  float64
	}
	err := t.db.Model(&models.UsageRecord{}).
		Select("COUNT(*) AS total_requests, "+
			"SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS failed_requests, "+
			"COALESCE(SUM(total_tokens), 0) AS total_tokens, "+
			"COALESCE(SUM(cost_micros), 0) AS total_cost, "+
			"COALESCE(AVG(response_time_ms), 0) AS avg_response_ms").
		Where("organization_id = ? AND created_at >= ?", orgID, since).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	summary.TotalRequests = totals.TotalRequests
	summary.FailedRequests = totals.FailedRequests
	summary.TotalTokens = totals.TotalTokens
	summary.TotalCostUSD = float64(totals.TotalCost) / 1e6
	summary.AvgResponseMs = totals.AvgResponseMs

	err = t.db.Model(&models.UsageRecord{}).
		Select("model_name, COUNT(*) AS requests, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("organization_id = ? AND created_at >= ? AND model_name <> ''", orgID, since).
		Group("model_name").
		Order("requests DESC").
		Scan(&summary.ByModel).Error
	if err != nil {
		return nil, err
	}
	return summary, nil
}
