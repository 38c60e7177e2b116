package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPaused   = "paused"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// BillingAccount is the mutable billing state root, one per organization.
// Subscription counters and one-time credit counters are independent sets:
// switching plan types must never reset or reuse the other set.
type BillingAccount struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	OrganizationID uint `gorm:"not null;uniqueIndex" json:"organization_id"`

	PaddleCustomerID     string `gorm:"type:varchar(100);default:'';index" json:"paddle_customer_id"`
	PaddleSubscriptionID string `gorm:"type:varchar(100);default:'';index" json:"paddle_subscription_id"`

	SubscriptionPlanID *uint  `gorm:"index" json:"subscription_plan_id,omitempty"`
	SubscriptionStatus string `gorm:"type:varchar(32);not null;default:'trialing';index" json:"subscription_status"`

	// Subscription-type counters.
	FreeRequestsUsed          int        `gorm:"not null;default:0" json:"free_requests_used"`
	RequestsUsedCurrentPeriod int        `gorm:"not null;default:0" json:"requests_used_current_period"`
	PeriodStartedAt           *time.Time `gorm:"type:timestamp;default:null" json:"period_started_at,omitempty"`
	TrialStartedAt            *time.Time `gorm:"type:timestamp;default:null" json:"trial_started_at,omitempty"`

	// One-time-type counters (cumulative, never reset).
	OneTimePurchasesCount int `gorm:"not null;default:0" json:"one_time_purchases_count"`
	OneTimeRequestsUsed   int `gorm:"not null;default:0" json:"one_time_requests_used"`

	// Idempotency guards.
	LastWebhookEventID string `gorm:"type:varchar(150);default:'';index" json:"-"`
	LastTransactionID  string `gorm:"type:varchar(150);default:''" json:"-"`

	SubscriptionStartDate *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time `gorm:"type:timestamp;default:null" json:"subscription_end_date,omitempty"`
	NextBillingDate       *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	CancelledAt           *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	PausedAt              *time.Time `gorm:"type:timestamp;default:null" json:"paused_at,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SubscriptionPlan *SubscriptionPlan `json:"subscription_plan,omitempty"`
}

// HasEntitlingStatus reports whether the subscription status currently
// grants access at all.
func (a *BillingAccount) HasEntitlingStatus() bool {
	switch a.SubscriptionStatus {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// OneTimeCreditsRemaining returns the unconsumed one-time credits.
func (a *BillingAccount) OneTimeCreditsRemaining() int {
	remaining := a.OneTimePurchasesCount - a.OneTimeRequestsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
