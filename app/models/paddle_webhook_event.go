package models

import (
	"time"
)

const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
	WebhookStatusSkipped   = "skipped"
)

// MaxWebhookPayloadBytes bounds how much of a raw delivery is persisted.
const MaxWebhookPayloadBytes = 64 * 1024

// PaddleWebhookEvent is the audit and idempotency record for one webhook
// delivery. EventID is the provider-issued id and the global dedup key; a
// row is created before processing so malformed deliveries stay auditable,
// then transitions exactly once to a terminal status.
type PaddleWebhookEvent struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	EventID          string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType        string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	BillingAccountID *uint      `gorm:"index" json:"billing_account_id,omitempty"`
	Status           string     `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	SignatureValid   bool       `gorm:"default:false" json:"signature_valid"`
	Payload          string     `gorm:"type:longtext;not null" json:"-"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message,omitempty"`
	ReceivedAt       time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt      *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the event row has reached a final status.
func (e *PaddleWebhookEvent) IsTerminal() bool {
	switch e.Status {
	case WebhookStatusProcessed, WebhookStatusFailed, WebhookStatusSkipped:
		return true
	default:
		return false
	}
}

// TruncatePayload bounds a raw webhook body for storage.
func TruncatePayload(raw []byte) string {
	if len(raw) > MaxWebhookPayloadBytes {
		return string(raw[:MaxWebhookPayloadBytes])
	}
	return string(raw)
}
