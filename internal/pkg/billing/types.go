package billing

import (
	"errors"
	"time"
)

// Error taxonomy. Validation errors carry a caller-facing reason and are
// never retried; provider errors stay opaque to end users.
var (
	ErrPlanNotFound             = errors.New("billing: plan not found")
	ErrPlanNotPurchasable       = errors.New("billing: plan is not purchasable")
	ErrAlreadySubscribed        = errors.New("billing: already subscribed to this plan")
	ErrActiveSubscriptionExists = errors.New("billing: an active subscription already exists")
	ErrAccountNotFound          = errors.New("billing: billing account not found")
	ErrQuotaExhausted           = errors.New("billing: quota exhausted")
	ErrProviderUnavailable      = errors.New("billing: payment provider unavailable")
	ErrInvalidSignature         = errors.New("billing: invalid webhook signature")
)

// SubscribeResult is returned by Service.Subscribe. CheckoutURL is set only
// in delegated mode, where activation is completed by the webhook reconciler
// once payment clears.
type SubscribeResult struct {
	Account     *AccountView `json:"account"`
	CheckoutURL string       `json:"checkout_url,omitempty"`
}

// AccountView is the read projection of a billing account exposed to
// callers. Remaining fields and UI hints are derived via the quota ledger.
type AccountView struct {
	OrganizationID uint   `json:"organization_id"`
	PlanID         *uint  `json:"plan_id,omitempty"`
	PlanName       string `json:"plan_name,omitempty"`
	PlanType       string `json:"plan_type,omitempty"`
	Status         string `json:"status"`

	FreeRequestsUsed      int `json:"free_requests_used"`
	FreeRequestsRemaining int `json:"free_requests_remaining"`
	PeriodRequestsUsed    int `json:"period_requests_used"`
	PeriodRemaining       int `json:"period_remaining"`

	OneTimeCreditsGranted   int `json:"one_time_credits_granted"`
	OneTimeCreditsUsed      int `json:"one_time_credits_used"`
	OneTimeCreditsRemaining int `json:"one_time_credits_remaining"`

	PeriodStartedAt *time.Time `json:"period_started_at,omitempty"`
	TrialStartedAt  *time.Time `json:"trial_started_at,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`

	CanUseService bool   `json:"can_use_service"`
	ShouldUpgrade bool   `json:"should_upgrade"`
	UpgradeReason string `json:"upgrade_reason,omitempty"`
}
