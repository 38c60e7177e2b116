package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeUsageRecord    JobType = "usage_record"
	JobTypeUsageRetention JobType = "usage_retention"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// UsageRecordJobPayload carries one usage event from the request path to the
// async writer. Field names mirror the usage_records columns.
type UsageRecordJobPayload struct {
	RequestID        string `json:"request_id"`
	UserID           uint   `json:"user_id"`
	OrganizationID   uint   `json:"organization_id"`
	AgentID          *uint  `json:"agent_id,omitempty"`
	Endpoint         string `json:"endpoint"`
	Channel          string `json:"channel"`
	ModelName        string `json:"model_name"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	HasImage         bool   `json:"has_image"`
	ResponseTimeMs   int    `json:"response_time_ms"`
	StatusCode       int    `json:"status_code"`
	CostMicros       int64  `json:"cost_micros"`
	ErrorMessage     string `json:"error_message,omitempty"`
	OccurredAt       string `json:"occurred_at"`
}

// ToMap converts the payload to a map for storage
func (p UsageRecordJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"request_id":        p.RequestID,
		"user_id":           p.UserID,
		"organization_id":   p.OrganizationID,
		"endpoint":          p.Endpoint,
		"channel":           p.Channel,
		"model_name":        p.ModelName,
		"prompt_tokens":     p.PromptTokens,
		"completion_tokens": p.CompletionTokens,
		"total_tokens":      p.TotalTokens,
		"has_image":         p.HasImage,
		"response_time_ms":  p.ResponseTimeMs,
		"status_code":       p.StatusCode,
		"cost_micros":       p.CostMicros,
		"occurred_at":       p.OccurredAt,
	}
	if p.AgentID != nil {
		m["agent_id"] = *p.AgentID
	}
	if p.ErrorMessage != "" {
		m["error_message"] = p.ErrorMessage
	}
	return m
}

// UsageRecordJobPayloadFromMap creates a payload from a map
func UsageRecordJobPayloadFromMap(data map[string]interface{}) (*UsageRecordJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload UsageRecordJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// UsageRetentionJobPayload prunes usage records older than the cutoff.
type UsageRetentionJobPayload struct {
	OlderThanDays int `json:"older_than_days"`
}

func (p UsageRetentionJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"older_than_days": p.OlderThanDays,
	}
}

func UsageRetentionJobPayloadFromMap(data map[string]interface{}) (*UsageRetentionJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload UsageRetentionJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
