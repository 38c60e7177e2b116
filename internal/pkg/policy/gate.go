package policy

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/internal/pkg/billing"
)

// ErrNotAllowed is returned by Enforce when the decision denies the request.
// The Decision carried alongside names the machine-readable reason.
var ErrNotAllowed = errors.New("request not allowed")

// Gate answers "may this user perform one more billable agent request" and,
// separately, commits the consumption after the request succeeded. The two
// halves are deliberately split: CheckUsageLimits never mutates, and
// IncrementUsage is only called once real work was done, so failed requests
// cost nothing.
type Gate struct {
	repo billing.Repository
}

func NewGate(repo billing.Repository) *Gate {
	return &Gate{repo: repo}
}

func NewGateFromDB(db *gorm.DB) *Gate {
	return &Gate{repo: billing.NewRepository(db)}
}

// CheckUsageLimits evaluates the user's quota without consuming anything.
// Superusers always pass. The metering period is lazily rolled over here,
// so a stale account heals on its next touch instead of via a cron.
func (g *Gate) CheckUsageLimits(ctx context.Context, user *models.User) (billing.Decision, error) {
	_ = ctx
	if user.IsSuperuser() {
		return billing.Decision{Allowed: true, Reason: billing.ReasonSuperuser}, nil
	}
	if user.OrganizationID == nil {
		return billing.Decision{Reason: billing.ReasonNoOrganization, ShouldUpgrade: true}, nil
	}

	account, plan, err := g.loadAccount(*user.OrganizationID)
	if err != nil {
		return billing.Decision{}, err
	}
	account, err = g.rolloverPeriod(account, plan)
	if err != nil {
		return billing.Decision{}, err
	}

	return billing.Evaluate(account, plan, time.Now()), nil
}

// CheckAgentAccess verifies the agent exists, is enabled and is covered by
// the user's plan. Public agents are reachable on any entitled account;
// superusers see everything.
func (g *Gate) CheckAgentAccess(ctx context.Context, user *models.User, agentID uint) (billing.Decision, error) {
	_ = ctx
	agent, err := g.repo.GetAgentByID(agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billing.Decision{Reason: billing.ReasonAgentNotFound}, nil
		}
		return billing.Decision{}, err
	}
	if !agent.IsActive {
		return billing.Decision{Reason: billing.ReasonAgentNotFound}, nil
	}

	if user.IsSuperuser() {
		return billing.Decision{Allowed: true, Reason: billing.ReasonSuperuser}, nil
	}
	if agent.IsPublic {
		return billing.Decision{Allowed: true, Reason: billing.ReasonFreeQuota}, nil
	}
	if user.OrganizationID == nil {
		return billing.Decision{Reason: billing.ReasonNoOrganization, ShouldUpgrade: true}, nil
	}

	_, plan, err := g.loadAccount(*user.OrganizationID)
	if err != nil {
		return billing.Decision{}, err
	}
	if plan == nil {
		return billing.Decision{Reason: billing.ReasonNoSubscription, ShouldUpgrade: true}, nil
	}
	if !plan.HasAgent(agentID) {
		return billing.Decision{Reason: billing.ReasonAgentNotInPlan, ShouldUpgrade: true}, nil
	}
	return billing.Decision{Allowed: true, Reason: billing.ReasonPeriodQuota}, nil
}

// IncrementUsage commits one unit of consumption after a successful request.
//
// The counter advance is a conditional UPDATE, so N concurrent winners of
// CheckUsageLimits still cannot push a counter past its limit: the losers of
// the row-level race get ErrQuotaExhausted here. Tiers are tried in the
// same order Evaluate admits them (free, trial, period, credits), keeping
// the committed tier consistent with the advertised reason.
func (g *Gate) IncrementUsage(ctx context.Context, user *models.User) (string, error) {
	_ = ctx
	if user.IsSuperuser() {
		return billing.ReasonSuperuser, nil
	}
	if user.OrganizationID == nil {
		return "", billing.ErrQuotaExhausted
	}

	account, plan, err := g.loadAccount(*user.OrganizationID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "", billing.ErrQuotaExhausted
	}
	account, err = g.rolloverPeriod(account, plan)
	if err != nil {
		return "", err
	}
	if !account.HasEntitlingStatus() {
		return "", billing.ErrQuotaExhausted
	}

	now := time.Now()
	switch limits := plan.Limits().(type) {
	case models.OneTimeLimits:
		ok, err := g.repo.ConsumeOneTimeCredit(account.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", billing.ErrQuotaExhausted
		}
		return billing.ReasonOneTimeCredits, nil

	case models.SubscriptionLimits:
		if limits.FreeRequestsLimit > 0 {
			ok, err := g.repo.ConsumeFreeRequest(account.ID, limits.FreeRequestsLimit)
			if err != nil {
				return "", err
			}
			if ok {
				return billing.ReasonFreeQuota, nil
			}
		}
		if billing.TrialActive(account, limits, now) {
			// Trial consumption is recorded but uncapped.
			if _, err := g.repo.ConsumePeriodRequest(account.ID, -1); err != nil {
				return "", err
			}
			return billing.ReasonTrialActive, nil
		}
		if limits.MaxRequestsPerInterval > 0 {
			ok, err := g.repo.ConsumePeriodRequest(account.ID, limits.MaxRequestsPerInterval)
			if err != nil {
				return "", err
			}
			if ok {
				return billing.ReasonPeriodQuota, nil
			}
		}
		return "", billing.ErrQuotaExhausted

	default:
		return "", billing.ErrQuotaExhausted
	}
}

// Enforce is the combined pre-flight: agent access plus usage limits. It
// returns the denying decision with ErrNotAllowed so handlers can map the
// reason to a response without re-checking.
func (g *Gate) Enforce(ctx context.Context, user *models.User, agentID uint) (billing.Decision, error) {
	access, err := g.CheckAgentAccess(ctx, user, agentID)
	if err != nil {
		return billing.Decision{}, err
	}
	if !access.Allowed {
		return access, ErrNotAllowed
	}

	usage, err := g.CheckUsageLimits(ctx, user)
	if err != nil {
		return billing.Decision{}, err
	}
	if !usage.Allowed {
		return usage, ErrNotAllowed
	}
	return usage, nil
}

func (g *Gate) loadAccount(orgID uint) (*models.BillingAccount, *models.SubscriptionPlan, error) {
	account, err := g.repo.GetOrCreateAccountByOrg(orgID)
	if err != nil {
		return nil, nil, err
	}
	if account.SubscriptionPlanID == nil {
		return account, nil, nil
	}
	plan, err := g.repo.GetPlanByID(*account.SubscriptionPlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account, nil, nil
		}
		return nil, nil, err
	}
	return account, plan, nil
}

// rolloverPeriod lazily resets the period counters when the plan's interval
// has elapsed. The conditional reset keeps concurrent callers from zeroing
// the counters twice; the re-read returns the fresh row either way.
func (g *Gate) rolloverPeriod(account *models.BillingAccount, plan *models.SubscriptionPlan) (*models.BillingAccount, error) {
	if plan == nil || plan.IsOneTime() {
		return account, nil
	}
	now := time.Now()
	if !billing.PeriodExpired(account, plan, now) {
		return account, nil
	}

	// A losing racer's reset is a no-op; the re-read picks up the winner's row.
	if _, err := g.repo.ResetPeriodIfStale(account.ID, *account.PeriodStartedAt, now); err != nil {
		return nil, err
	}
	return g.repo.GetAccountByID(account.ID)
}
