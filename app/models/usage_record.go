package models

import (
	"strings"
	"time"
)

const (
	ChannelWeb      = "web"
	ChannelTelegram = "telegram"
	ChannelAPI      = "api"
)

// UsageRecord is the append-only metering record, one per billable action.
// Rows are never updated after creation; aggregation happens over windows
// of CreatedAt. CostMicros is USD millionths to avoid float drift.
type UsageRecord struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	RequestID      string `gorm:"type:char(36);not null;uniqueIndex" json:"request_id"`
	UserID         uint   `gorm:"not null;index" json:"user_id"`
	OrganizationID uint   `gorm:"not null;index" json:"organization_id"`
	AgentID        *uint  `gorm:"index" json:"agent_id,omitempty"`

	Endpoint  string `gorm:"type:varchar(255);not null" json:"endpoint"`
	Channel   string `gorm:"type:varchar(50);not null" json:"channel"`
	ModelName string `gorm:"type:varchar(100);default:''" json:"model_name"`

	PromptTokens     int  `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int  `gorm:"not null;default:0" json:"completion_tokens"`
	TotalTokens      int  `gorm:"not null;default:0" json:"total_tokens"`
	HasImage         bool `gorm:"default:false" json:"has_image"`

	ResponseTimeMs int    `gorm:"not null;default:0" json:"response_time_ms"`
	StatusCode     int    `gorm:"not null;default:0" json:"status_code"`
	CostMicros     int64  `gorm:"not null;default:0" json:"cost_micros"`
	ErrorMessage   string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsDuplicateEntryError reports whether err is the MySQL unique-key
// violation (error 1062). Used to treat replayed inserts as already done.
func IsDuplicateEntryError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "Error 1062")
}
