package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// Service implements the synchronous subscription commands (subscribe,
// cancel) and the account view projection. A nil PaddleClient puts the
// service in manual mode: plan changes take effect immediately instead of
// waiting for the webhook reconciler.
type Service struct {
	repo   Repository
	paddle PaddleClient
}

// NewService creates a billing service from injected dependencies.
func NewService(repo Repository, paddle PaddleClient) *Service {
	return &Service{repo: repo, paddle: paddle}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, paddle PaddleClient) *Service {
	return NewService(NewRepository(db), paddle)
}

// ManualMode reports whether provider integration is disabled.
func (s *Service) ManualMode() bool {
	return s.paddle == nil
}

// GetAccountView loads (auto-provisioning if needed) the organization's
// billing account and projects it for callers.
func (s *Service) GetAccountView(ctx context.Context, orgID uint) (*AccountView, error) {
	_ = ctx
	if orgID == 0 {
		return nil, ErrAccountNotFound
	}
	account, err := s.repo.GetOrCreateAccountByOrg(orgID)
	if err != nil {
		return nil, err
	}
	plan, err := s.resolvePlan(account)
	if err != nil {
		return nil, err
	}
	return s.buildView(account, plan), nil
}

// Subscribe executes the user-initiated purchase of a plan.
//
// Manual mode applies the plan synchronously; delegated mode only creates a
// provider checkout and leaves plan/status untouched until the reconciler
// confirms payment, so access is never granted before payment clears.
func (s *Service) Subscribe(ctx context.Context, orgID, planID uint, email, name string) (*SubscribeResult, error) {
	if orgID == 0 {
		return nil, ErrAccountNotFound
	}

	plan, err := s.repo.GetPlanByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if err := s.validatePlanPurchasable(plan); err != nil {
		return nil, err
	}

	account, err := s.repo.GetOrCreateAccountByOrg(orgID)
	if err != nil {
		return nil, err
	}

	// Re-buying the same pack is a valid top-up; re-buying the same
	// subscription is not.
	if !plan.IsOneTime() && account.SubscriptionPlanID != nil && *account.SubscriptionPlanID == plan.ID && account.HasEntitlingStatus() {
		return nil, ErrAlreadySubscribed
	}
	// A second provider-bound subscription must not be created until the
	// old one is cancelled; one-time packs are additive and exempt.
	if !plan.IsOneTime() && account.HasEntitlingStatus() && account.PaddleSubscriptionID != "" {
		return nil, ErrActiveSubscriptionExists
	}

	if s.ManualMode() {
		if err := s.applyPlanManually(account, plan); err != nil {
			return nil, err
		}
		return s.result(account, "")
	}

	checkout, err := s.startCheckout(ctx, account, plan, email, name)
	if err != nil {
		return nil, err
	}
	return s.result(account, checkout.CheckoutURL)
}

// Cancel sets the subscription CANCELED with immediate local effect. No
// provider round trip: cancellation removes access rather than granting it.
func (s *Service) Cancel(ctx context.Context, orgID uint) (*AccountView, error) {
	_ = ctx
	if orgID == 0 {
		return nil, ErrAccountNotFound
	}
	account, err := s.repo.GetOrCreateAccountByOrg(orgID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	account.SubscriptionStatus = models.SubscriptionStatusCanceled
	account.SubscriptionEndDate = &now
	account.CancelledAt = &now
	if err := s.repo.SaveAccount(account); err != nil {
		return nil, err
	}

	plan, err := s.resolvePlan(account)
	if err != nil {
		return nil, err
	}
	return s.buildView(account, plan), nil
}

func (s *Service) validatePlanPurchasable(plan *models.SubscriptionPlan) error {
	if !plan.IsActive {
		return ErrPlanNotPurchasable
	}
	// Default plans may exist without agents (pure quota containers);
	// everything else must grant access to at least one agent.
	if len(plan.Agents) == 0 && !plan.IsDefault {
		return fmt.Errorf("%w: no agents assigned", ErrPlanNotPurchasable)
	}
	if !s.ManualMode() && plan.PaddlePriceID == "" {
		return fmt.Errorf("%w: missing provider price id", ErrPlanNotPurchasable)
	}
	return nil
}

// applyPlanManually activates the plan synchronously (manual mode only).
// One-time purchases grant credits without disturbing subscription
// counters; the subscription counter set is likewise left alone when a
// subscription plan replaces a one-time plan.
func (s *Service) applyPlanManually(account *models.BillingAccount, plan *models.SubscriptionPlan) error {
	now := time.Now()

	switch limits := plan.Limits().(type) {
	case models.OneTimeLimits:
		if err := s.repo.GrantOneTimeCredits(account.ID, limits.CreditsPerPurchase); err != nil {
			return err
		}
		account.OneTimePurchasesCount += limits.CreditsPerPurchase
		// Keep an already-running subscription as the active plan.
		if account.SubscriptionPlanID != nil && account.HasEntitlingStatus() && !s.planIsOneTime(*account.SubscriptionPlanID) {
			return nil
		}
		planID := plan.ID
		account.SubscriptionPlanID = &planID
		account.SubscriptionStatus = models.SubscriptionStatusActive
		return s.repo.SaveAccount(account)

	case models.SubscriptionLimits:
		planID := plan.ID
		account.SubscriptionPlanID = &planID
		account.SubscriptionStatus = models.SubscriptionStatusActive
		account.SubscriptionStartDate = &now
		if account.PeriodStartedAt == nil {
			account.PeriodStartedAt = &now
		}
		if limits.FreeTrialDays > 0 && account.TrialStartedAt == nil {
			account.TrialStartedAt = &now
		}
		return s.repo.SaveAccount(account)

	default:
		return ErrPlanNotPurchasable
	}
}

// startCheckout runs the delegated-mode flow: ensure a provider customer,
// create the checkout transaction, record its id. Plan and status are not
// mutated here.
func (s *Service) startCheckout(ctx context.Context, account *models.BillingAccount, plan *models.SubscriptionPlan, email, name string) (*Checkout, error) {
	if account.PaddleCustomerID == "" {
		customerID, err := s.paddle.CreateCustomer(ctx, email, name)
		if err != nil {
			return nil, err
		}
		account.PaddleCustomerID = customerID
		if err := s.repo.UpdateAccount(account.ID, map[string]interface{}{"paddle_customer_id": customerID}); err != nil {
			return nil, err
		}
	}

	var checkout *Checkout
	var err error
	if plan.IsOneTime() {
		checkout, err = s.paddle.CreateOneTimeCheckout(ctx, account.PaddleCustomerID, plan.PaddlePriceID)
	} else {
		checkout, err = s.paddle.CreateSubscriptionCheckout(ctx, account.PaddleCustomerID, plan.PaddlePriceID)
	}
	if err != nil {
		return nil, err
	}

	account.LastTransactionID = checkout.TransactionID
	if err := s.repo.UpdateAccount(account.ID, map[string]interface{}{"last_transaction_id": checkout.TransactionID}); err != nil {
		return nil, err
	}
	return checkout, nil
}

func (s *Service) planIsOneTime(planID uint) bool {
	plan, err := s.repo.GetPlanByID(planID)
	if err != nil {
		return false
	}
	return plan.IsOneTime()
}

func (s *Service) resolvePlan(account *models.BillingAccount) (*models.SubscriptionPlan, error) {
	if account.SubscriptionPlanID == nil {
		return nil, nil
	}
	plan, err := s.repo.GetPlanByID(*account.SubscriptionPlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return plan, nil
}

func (s *Service) result(account *models.BillingAccount, checkoutURL string) (*SubscribeResult, error) {
	plan, err := s.resolvePlan(account)
	if err != nil {
		return nil, err
	}
	return &SubscribeResult{
		Account:     s.buildView(account, plan),
		CheckoutURL: checkoutURL,
	}, nil
}

func (s *Service) buildView(account *models.BillingAccount, plan *models.SubscriptionPlan) *AccountView {
	decision := Evaluate(account, plan, time.Now())

	view := &AccountView{
		OrganizationID:          account.OrganizationID,
		PlanID:                  account.SubscriptionPlanID,
		Status:                  account.SubscriptionStatus,
		FreeRequestsUsed:        account.FreeRequestsUsed,
		FreeRequestsRemaining:   decision.FreeRemaining,
		PeriodRequestsUsed:      account.RequestsUsedCurrentPeriod,
		PeriodRemaining:         decision.PeriodRemaining,
		OneTimeCreditsGranted:   account.OneTimePurchasesCount,
		OneTimeCreditsUsed:      account.OneTimeRequestsUsed,
		OneTimeCreditsRemaining: account.OneTimeCreditsRemaining(),
		PeriodStartedAt:         account.PeriodStartedAt,
		TrialStartedAt:          account.TrialStartedAt,
		NextBillingDate:         account.NextBillingDate,
		CanUseService:           decision.Allowed,
		ShouldUpgrade:           decision.ShouldUpgrade,
	}
	if !decision.Allowed {
		view.UpgradeReason = decision.Reason
	}
	if plan != nil {
		view.PlanName = plan.Name
		view.PlanType = plan.PlanType
	}
	return view
}
