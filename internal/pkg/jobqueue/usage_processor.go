package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/internal/pkg/database"
)

// processUsageRecordJob persists one usage event to the usage_records table.
// The request_id unique index makes redelivered jobs harmless: a duplicate
// insert is treated as already done.
func (q *Queue) processUsageRecordJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := UsageRecordJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid usage record payload: %w", err)
	}
	if payload.RequestID == "" || payload.UserID == 0 {
		return fmt.Errorf("usage record payload missing request_id or user_id")
	}

	occurredAt := time.Now()
	if payload.OccurredAt != "" {
		if t, perr := time.Parse(time.RFC3339, payload.OccurredAt); perr == nil {
			occurredAt = t
		}
	}

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
		CreatedAt:        occurredAt,
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := db.Create(&record).Error; err != nil {
		if models.IsDuplicateEntryError(err) {
			log.Debugf("[JobQueue] Usage record %s already stored, skipping", payload.RequestID)
			return nil
		}
		return fmt.Errorf("failed to store usage record %s: %w", payload.RequestID, err)
	}
	return nil
}

// processUsageRetentionJob deletes usage records older than the configured
// cutoff, in bounded batches so the delete never locks the table for long.
func (q *Queue) processUsageRetentionJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := UsageRetentionJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid usage retention payload: %w", err)
	}
	if payload.OlderThanDays <= 0 {
		return nil
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	cutoff := time.Now().AddDate(0, 0, -payload.OlderThanDays)
	const batchSize = 1000
	total := int64(0)
	for {
		res := db.Where("created_at < ?", cutoff).Limit(batchSize).Delete(&models.UsageRecord{})
		if res.Error != nil {
			return fmt.Errorf("failed to prune usage records: %w", res.Error)
		}
		total += res.RowsAffected
		if res.RowsAffected < batchSize {
			break
		}
	}
	if total > 0 {
		log.Infof("[JobQueue] Pruned %d usage records older than %d days", total, payload.OlderThanDays)
	}
	return nil
}
