package billing

import (
	"time"

	"github.com/agenthubhq/agenthub/app/models"
)

// Machine-readable admission/denial reasons. Denial reasons drive upgrade
// prompts; allowed reasons name the quota tier that admitted the request.
const (
	ReasonNoOrganization       = "no_organization"
	ReasonNoSubscription       = "no_subscription"
	ReasonSubscriptionInactive = "subscription_inactive"
	ReasonAgentNotFound        = "agent_not_found"
	ReasonAgentNotInPlan       = "agent_not_in_plan"
	ReasonQuotaExhausted       = "quota_exhausted"

	ReasonFreeQuota      = "free_quota_available"
	ReasonTrialActive    = "trial_active"
	ReasonPeriodQuota    = "period_quota_available"
	ReasonOneTimeCredits = "one_time_credits_available"
	ReasonSuperuser      = "superuser"
)

// Decision is the quota ledger's verdict for one account+plan snapshot.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	FreeRemaining    int    `json:"free_remaining"`
	PeriodRemaining  int    `json:"period_remaining"`
	CreditsRemaining int    `json:"credits_remaining"`
	ShouldUpgrade    bool   `json:"should_upgrade"`
}

// Evaluate computes whether the account may perform one more billable action
// under its current plan. It is a pure function of the snapshot: no I/O, no
// mutation, safe to call repeatedly for both gating and display.
//
// Accounts without a plan are blocked: an unconfigured account must never
// accrue unmetered usage.
func Evaluate(account *models.BillingAccount, plan *models.SubscriptionPlan, now time.Time) Decision {
	if plan == nil {
		return Decision{Reason: ReasonNoSubscription, ShouldUpgrade: true}
	}
	if !account.HasEntitlingStatus() {
		return Decision{Reason: ReasonSubscriptionInactive, ShouldUpgrade: true}
	}

	switch limits := plan.Limits().(type) {
	case models.SubscriptionLimits:
		return evaluateSubscription(account, limits, now)
	case models.OneTimeLimits:
		remaining := account.OneTimeCreditsRemaining()
		if remaining > 0 {
			return Decision{Allowed: true, Reason: ReasonOneTimeCredits, CreditsRemaining: remaining}
		}
		return Decision{Reason: ReasonQuotaExhausted, ShouldUpgrade: true}
	default:
		return Decision{Reason: ReasonNoSubscription, ShouldUpgrade: true}
	}
}

func evaluateSubscription(account *models.BillingAccount, limits models.SubscriptionLimits, now time.Time) Decision {
	freeRemaining := clampZero(limits.FreeRequestsLimit - account.FreeRequestsUsed)

	// MaxRequestsPerInterval == 0 means "blocked once the free tier is gone".
	periodRemaining := 0
	if limits.MaxRequestsPerInterval > 0 {
		periodRemaining = clampZero(limits.MaxRequestsPerInterval - account.RequestsUsedCurrentPeriod)
	}

	if freeRemaining > 0 {
		return Decision{
			Allowed:         true,
			Reason:          ReasonFreeQuota,
			FreeRemaining:   freeRemaining,
			PeriodRemaining: periodRemaining,
		}
	}

	if TrialActive(account, limits, now) {
		return Decision{
			Allowed:         true,
			Reason:          ReasonTrialActive,
			PeriodRemaining: periodRemaining,
			ShouldUpgrade:   true,
		}
	}

	if periodRemaining > 0 {
		return Decision{
			Allowed:         true,
			Reason:          ReasonPeriodQuota,
			PeriodRemaining: periodRemaining,
		}
	}

	return Decision{Reason: ReasonQuotaExhausted, ShouldUpgrade: true}
}

// TrialActive reports whether the account is inside its day-based trial
// window for the given subscription limits.
func TrialActive(account *models.BillingAccount, limits models.SubscriptionLimits, now time.Time) bool {
	if limits.FreeTrialDays <= 0 || account.TrialStartedAt == nil {
		return false
	}
	trialEnd := account.TrialStartedAt.Add(time.Duration(limits.FreeTrialDays) * 24 * time.Hour)
	return now.Before(trialEnd)
}

// PeriodExpired reports whether the account's current metering period has
// elapsed for the plan. A nil PeriodStartedAt means the period has not been
// initialized yet and is not expired.
func PeriodExpired(account *models.BillingAccount, plan *models.SubscriptionPlan, now time.Time) bool {
	if account.PeriodStartedAt == nil {
		return false
	}
	dur := plan.PeriodDuration()
	if dur <= 0 {
		return false
	}
	return !now.Before(account.PeriodStartedAt.Add(dur))
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
