package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanLimitsVariant(t *testing.T) {
	t.Run("subscription plan", func(t *testing.T) {
		plan := &SubscriptionPlan{
			PlanType:               PlanTypeSubscription,
			Interval:               PlanIntervalMonthly,
			FreeRequestsLimit:      10,
			MaxRequestsPerInterval: 1000,
			FreeTrialDays:          7,
		}

		limits, ok := plan.Limits().(SubscriptionLimits)
		assert.True(t, ok)
		assert.Equal(t, 10, limits.FreeRequestsLimit)
		assert.Equal(t, 1000, limits.MaxRequestsPerInterval)
		assert.Equal(t, 7, limits.FreeTrialDays)
	})

	t.Run("one-time plan", func(t *testing.T) {
		plan := &SubscriptionPlan{PlanType: PlanTypeOneTime, OneTimeLimit: 500}

		limits, ok := plan.Limits().(OneTimeLimits)
		assert.True(t, ok)
		assert.Equal(t, 500, limits.CreditsPerPurchase)
	})

	t.Run("nil plan blocks", func(t *testing.T) {
		var plan *SubscriptionPlan
		limits, ok := plan.Limits().(SubscriptionLimits)
		assert.True(t, ok)
		assert.Zero(t, limits.MaxRequestsPerInterval)
	})
}

func TestPeriodDuration(t *testing.T) {
	tests := []struct {
		interval string
		want     time.Duration
	}{
		{PlanIntervalDaily, 24 * time.Hour},
		{PlanIntervalWeekly, 7 * 24 * time.Hour},
		{PlanIntervalMonthly, 30 * 24 * time.Hour},
		{PlanIntervalYearly, 365 * 24 * time.Hour},
		{"bogus", 0},
	}

	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			plan := &SubscriptionPlan{Interval: tt.interval}
			assert.Equal(t, tt.want, plan.PeriodDuration())
		})
	}
}

func TestHasAgent(t *testing.T) {
	plan := &SubscriptionPlan{Agents: []Agent{{ID: 1}, {ID: 3}}}

	assert.True(t, plan.HasAgent(1))
	assert.True(t, plan.HasAgent(3))
	assert.False(t, plan.HasAgent(2))

	var nilPlan *SubscriptionPlan
	assert.False(t, nilPlan.HasAgent(1))
}

func TestHasEntitlingStatus(t *testing.T) {
	assert.True(t, (&BillingAccount{SubscriptionStatus: SubscriptionStatusActive}).HasEntitlingStatus())
	assert.True(t, (&BillingAccount{SubscriptionStatus: SubscriptionStatusTrialing}).HasEntitlingStatus())
	assert.False(t, (&BillingAccount{SubscriptionStatus: SubscriptionStatusPaused}).HasEntitlingStatus())
	assert.False(t, (&BillingAccount{SubscriptionStatus: SubscriptionStatusCanceled}).HasEntitlingStatus())
	assert.False(t, (&BillingAccount{SubscriptionStatus: SubscriptionStatusPastDue}).HasEntitlingStatus())
}

func TestOneTimeCreditsRemaining(t *testing.T) {
	account := &BillingAccount{OneTimePurchasesCount: 500, OneTimeRequestsUsed: 120}
	assert.Equal(t, 380, account.OneTimeCreditsRemaining())

	overdrawn := &BillingAccount{OneTimePurchasesCount: 5, OneTimeRequestsUsed: 9}
	assert.Equal(t, 0, overdrawn.OneTimeCreditsRemaining())
}

func TestTruncatePayload(t *testing.T) {
	small := []byte(`{"ok":true}`)
	assert.Equal(t, string(small), TruncatePayload(small))

	big := make([]byte, MaxWebhookPayloadBytes+100)
	assert.Len(t, TruncatePayload(big), MaxWebhookPayloadBytes)
}
