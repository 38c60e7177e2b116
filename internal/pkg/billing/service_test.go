package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthubhq/agenthub/app/models"
)

type fakePaddleClient struct {
	customers   int
	checkouts   int
	oneTimeHits int
	failNext    error
}

func (f *fakePaddleClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if f.failNext != nil {
		return "", f.failNext
	}
	f.customers++
	return "ctm_test_1", nil
}

func (f *fakePaddleClient) CreateSubscriptionCheckout(ctx context.Context, customerID, priceID string) (*Checkout, error) {
	if f.failNext != nil {
		return nil, f.failNext
	}
	f.checkouts++
	return &Checkout{TransactionID: "txn_test_1", CheckoutURL: "https://checkout.paddle.test/txn_test_1"}, nil
}

func (f *fakePaddleClient) CreateOneTimeCheckout(ctx context.Context, customerID, priceID string) (*Checkout, error) {
	if f.failNext != nil {
		return nil, f.failNext
	}
	f.oneTimeHits++
	return &Checkout{TransactionID: "txn_test_2", CheckoutURL: "https://checkout.paddle.test/txn_test_2"}, nil
}

func purchasablePlan(id uint, planType string) *models.SubscriptionPlan {
	plan := &models.SubscriptionPlan{
		ID:            id,
		Name:          "Plan",
		PlanType:      planType,
		Interval:      models.PlanIntervalMonthly,
		IsActive:      true,
		PaddlePriceID: "pri_test",
		Agents:        []models.Agent{{ID: 1, Name: "assistant"}},
	}
	if planType == models.PlanTypeOneTime {
		plan.OneTimeLimit = 500
	} else {
		plan.FreeRequestsLimit = 10
		plan.MaxRequestsPerInterval = 1000
	}
	return plan
}

func TestSubscribe_ManualModeActivatesImmediately(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	service := NewService(repo, nil)

	result, err := service.Subscribe(context.Background(), 1, plan.ID, "user@example.com", "User")
	require.NoError(t, err)

	assert.Empty(t, result.CheckoutURL)
	assert.Equal(t, models.SubscriptionStatusActive, result.Account.Status)
	require.NotNil(t, result.Account.PlanID)
	assert.Equal(t, plan.ID, *result.Account.PlanID)

	account := repo.accountSnapshot(1)
	assert.NotNil(t, account.SubscriptionStartDate)
	assert.NotNil(t, account.PeriodStartedAt)
}

func TestSubscribe_DelegatedModeReturnsCheckoutWithoutActivation(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	paddle := &fakePaddleClient{}
	service := NewService(repo, paddle)

	result, err := service.Subscribe(context.Background(), 1, plan.ID, "user@example.com", "User")
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.paddle.test/txn_test_1", result.CheckoutURL)
	assert.Equal(t, 1, paddle.customers)
	assert.Equal(t, 1, paddle.checkouts)

	// No entitlement until the reconciler confirms payment.
	account := repo.accountSnapshot(1)
	assert.Nil(t, account.SubscriptionPlanID)
	assert.Equal(t, "ctm_test_1", account.PaddleCustomerID)
	assert.Equal(t, "txn_test_1", account.LastTransactionID)
}

func TestSubscribe_ReusesExistingPaddleCustomer(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	repo.addAccount(&models.BillingAccount{
		OrganizationID:     1,
		SubscriptionStatus: models.SubscriptionStatusTrialing,
		PaddleCustomerID:   "ctm_existing",
	})
	paddle := &fakePaddleClient{}
	service := NewService(repo, paddle)

	_, err := service.Subscribe(context.Background(), 1, plan.ID, "user@example.com", "User")
	require.NoError(t, err)
	assert.Equal(t, 0, paddle.customers)
	assert.Equal(t, 1, paddle.checkouts)
}

func TestSubscribe_PlanErrors(t *testing.T) {
	repo := newFakeRepository()
	service := NewService(repo, nil)

	t.Run("unknown plan", func(t *testing.T) {
		_, err := service.Subscribe(context.Background(), 1, 999, "", "")
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("inactive plan", func(t *testing.T) {
		plan := purchasablePlan(2, models.PlanTypeSubscription)
		plan.IsActive = false
		repo.addPlan(plan)

		_, err := service.Subscribe(context.Background(), 1, plan.ID, "", "")
		assert.ErrorIs(t, err, ErrPlanNotPurchasable)
	})

	t.Run("plan without agents", func(t *testing.T) {
		plan := purchasablePlan(3, models.PlanTypeSubscription)
		plan.Agents = nil
		repo.addPlan(plan)

		_, err := service.Subscribe(context.Background(), 1, plan.ID, "", "")
		assert.ErrorIs(t, err, ErrPlanNotPurchasable)
	})

	t.Run("missing price id in delegated mode", func(t *testing.T) {
		plan := purchasablePlan(4, models.PlanTypeSubscription)
		plan.PaddlePriceID = ""
		repo.addPlan(plan)

		delegated := NewService(repo, &fakePaddleClient{})
		_, err := delegated.Subscribe(context.Background(), 1, plan.ID, "", "")
		assert.ErrorIs(t, err, ErrPlanNotPurchasable)
	})
}

func TestSubscribe_AlreadySubscribedToSamePlan(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	service := NewService(repo, nil)

	_, err := service.Subscribe(context.Background(), 1, plan.ID, "", "")
	require.NoError(t, err)

	_, err = service.Subscribe(context.Background(), 1, plan.ID, "", "")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestSubscribe_SecondProviderSubscriptionRejected(t *testing.T) {
	repo := newFakeRepository()
	repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	other := purchasablePlan(2, models.PlanTypeSubscription)
	repo.addPlan(other)
	planID := uint(1)
	repo.addAccount(&models.BillingAccount{
		OrganizationID:       1,
		SubscriptionStatus:   models.SubscriptionStatusActive,
		SubscriptionPlanID:   &planID,
		PaddleSubscriptionID: "sub_live_1",
	})
	service := NewService(repo, &fakePaddleClient{})

	_, err := service.Subscribe(context.Background(), 1, other.ID, "", "")
	assert.ErrorIs(t, err, ErrActiveSubscriptionExists)
}

func TestSubscribe_OneTimePackAdditiveToActiveSubscription(t *testing.T) {
	repo := newFakeRepository()
	subPlan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	pack := repo.addPlan(purchasablePlan(2, models.PlanTypeOneTime))
	service := NewService(repo, nil)

	_, err := service.Subscribe(context.Background(), 1, subPlan.ID, "", "")
	require.NoError(t, err)

	account := repo.accountSnapshot(1)
	account.RequestsUsedCurrentPeriod = 42
	account.FreeRequestsUsed = 5
	require.NoError(t, repo.SaveAccount(account))

	result, err := service.Subscribe(context.Background(), 1, pack.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, 500, result.Account.OneTimeCreditsGranted)

	// Credits arrive without touching subscription counters or the plan.
	account = repo.accountSnapshot(1)
	assert.Equal(t, 42, account.RequestsUsedCurrentPeriod)
	assert.Equal(t, 5, account.FreeRequestsUsed)
	require.NotNil(t, account.SubscriptionPlanID)
	assert.Equal(t, subPlan.ID, *account.SubscriptionPlanID)
}

func TestSubscribe_RepeatOneTimePurchaseAccumulates(t *testing.T) {
	repo := newFakeRepository()
	pack := repo.addPlan(purchasablePlan(1, models.PlanTypeOneTime))
	service := NewService(repo, nil)

	_, err := service.Subscribe(context.Background(), 1, pack.ID, "", "")
	require.NoError(t, err)
	_, err = service.Subscribe(context.Background(), 1, pack.ID, "", "")
	require.NoError(t, err)

	account := repo.accountSnapshot(1)
	assert.Equal(t, 1000, account.OneTimePurchasesCount)
}

func TestSubscribe_ProviderFailureSurfaced(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	service := NewService(repo, &fakePaddleClient{failNext: ErrProviderUnavailable})

	_, err := service.Subscribe(context.Background(), 1, plan.ID, "user@example.com", "User")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	account := repo.accountSnapshot(1)
	assert.Nil(t, account.SubscriptionPlanID)
}

func TestCancel_ImmediateLocalEffect(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	service := NewService(repo, nil)

	_, err := service.Subscribe(context.Background(), 1, plan.ID, "", "")
	require.NoError(t, err)

	view, err := service.Cancel(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusCanceled, view.Status)
	assert.False(t, view.CanUseService)

	account := repo.accountSnapshot(1)
	assert.NotNil(t, account.CancelledAt)
	assert.NotNil(t, account.SubscriptionEndDate)
}

func TestGetAccountView_AutoProvisionsAccount(t *testing.T) {
	repo := newFakeRepository()
	service := NewService(repo, nil)

	view, err := service.GetAccountView(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, uint(7), view.OrganizationID)
	assert.Nil(t, view.PlanID)
	assert.False(t, view.CanUseService)
	assert.Equal(t, ReasonNoSubscription, view.UpgradeReason)
}

func TestGetAccountView_ReflectsQuota(t *testing.T) {
	repo := newFakeRepository()
	plan := repo.addPlan(purchasablePlan(1, models.PlanTypeSubscription))
	service := NewService(repo, nil)

	_, err := service.Subscribe(context.Background(), 1, plan.ID, "", "")
	require.NoError(t, err)

	account := repo.accountSnapshot(1)
	account.FreeRequestsUsed = 10
	account.RequestsUsedCurrentPeriod = 990
	require.NoError(t, repo.SaveAccount(account))

	view, err := service.GetAccountView(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, view.CanUseService)
	assert.Equal(t, 0, view.FreeRequestsRemaining)
	assert.Equal(t, 10, view.PeriodRemaining)
	assert.Equal(t, plan.Name, view.PlanName)
}

func TestGetAccountView_ZeroOrgRejected(t *testing.T) {
	service := NewService(newFakeRepository(), nil)

	_, err := service.GetAccountView(context.Background(), 0)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestManualMode(t *testing.T) {
	assert.True(t, NewService(newFakeRepository(), nil).ManualMode())
	assert.False(t, NewService(newFakeRepository(), &fakePaddleClient{}).ManualMode())
}
