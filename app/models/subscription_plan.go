package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	PlanTypeSubscription = "subscription"
	PlanTypeOneTime      = "one_time"
)

const (
	PlanIntervalDaily   = "daily"
	PlanIntervalWeekly  = "weekly"
	PlanIntervalMonthly = "monthly"
	PlanIntervalYearly  = "yearly"
)

// SubscriptionPlan is a catalog entry. plan_type selects which limit fields
// are meaningful: subscription plans meter per interval, one-time plans grant
// a fixed number of non-expiring credits per purchase.
type SubscriptionPlan struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	Name                   string         `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=2,max=100"`
	Description            string         `gorm:"type:text" json:"description"`
	PlanType               string         `gorm:"type:varchar(20);not null;default:'subscription';index" json:"plan_type" validate:"oneof=subscription one_time"`
	Interval               string         `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval"`
	PriceCents             int64          `gorm:"not null;default:0" json:"price_cents"`
	Currency               string         `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	MaxRequestsPerInterval int            `gorm:"not null;default:0" json:"max_requests_per_interval"`
	FreeRequestsLimit      int            `gorm:"not null;default:0" json:"free_requests_limit"`
	FreeTrialDays          int            `gorm:"not null;default:0" json:"free_trial_days"`
	MaxTokensPerRequest    int            `gorm:"not null;default:2000" json:"max_tokens_per_request"`
	OneTimeLimit           int            `gorm:"not null;default:0" json:"one_time_limit"`
	PaddlePriceID          string         `gorm:"type:varchar(100);default:'';uniqueIndex" json:"paddle_price_id"`
	PaddleProductID        string         `gorm:"type:varchar(100);default:''" json:"paddle_product_id"`
	IsDefault              bool           `gorm:"default:false" json:"is_default"`
	IsActive               bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt              time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`

	Agents []Agent `gorm:"many2many:plan_agents" json:"agents,omitempty"`
}

// PlanLimits is a closed variant over the two billing models. Every code
// path that touches consumption counters must switch on the concrete type,
// so the compiler forces both cases to be handled.
type PlanLimits interface {
	isPlanLimits()
}

// SubscriptionLimits describes a time-boxed quota: a free-request tier
// consumed first, then up to MaxRequestsPerInterval per billing interval.
type SubscriptionLimits struct {
	FreeRequestsLimit      int
	MaxRequestsPerInterval int
	FreeTrialDays          int
	Interval               string
}

func (SubscriptionLimits) isPlanLimits() {}

// OneTimeLimits describes cumulative, non-expiring credits granted per
// completed purchase.
type OneTimeLimits struct {
	CreditsPerPurchase int
}

func (OneTimeLimits) isPlanLimits() {}

// Limits returns the variant matching the plan type. Unknown plan types fall
// back to subscription semantics with zero limits, which blocks usage.
func (p *SubscriptionPlan) Limits() PlanLimits {
	if p == nil {
		return SubscriptionLimits{}
	}
	switch p.PlanType {
	case PlanTypeOneTime:
		return OneTimeLimits{CreditsPerPurchase: p.OneTimeLimit}
	default:
		return SubscriptionLimits{
			FreeRequestsLimit:      p.FreeRequestsLimit,
			MaxRequestsPerInterval: p.MaxRequestsPerInterval,
			FreeTrialDays:          p.FreeTrialDays,
			Interval:               p.Interval,
		}
	}
}

// IsOneTime reports whether the plan grants one-time credits.
func (p *SubscriptionPlan) IsOneTime() bool {
	return p != nil && p.PlanType == PlanTypeOneTime
}

// PeriodDuration returns the length of one billing interval. The monthly and
// yearly approximations match the period-reset rules used by the gate.
func (p *SubscriptionPlan) PeriodDuration() time.Duration {
	switch p.Interval {
	case PlanIntervalDaily:
		return 24 * time.Hour
	case PlanIntervalWeekly:
		return 7 * 24 * time.Hour
	case PlanIntervalMonthly:
		return 30 * 24 * time.Hour
	case PlanIntervalYearly:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// HasAgent reports whether the given agent is part of the plan's agent set.
// Requires Agents to be preloaded.
func (p *SubscriptionPlan) HasAgent(agentID uint) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Agents {
		if a.ID == agentID {
			return true
		}
	}
	return false
}
