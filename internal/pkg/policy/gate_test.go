package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
	"github.com/agenthubhq/agenthub/internal/pkg/billing"
)

// memRepo is an in-memory billing.Repository. Counter mutations hold the
// mutex so the concurrency tests below see the same atomicity the SQL
// conditional updates give the real repository.
type memRepo struct {
	mu sync.Mutex

	accounts map[uint]*models.BillingAccount
	plans    map[uint]*models.SubscriptionPlan
	agents   map[uint]*models.Agent
}

func newMemRepo() *memRepo {
	return &memRepo{
		accounts: make(map[uint]*models.BillingAccount),
		plans:    make(map[uint]*models.SubscriptionPlan),
		agents:   make(map[uint]*models.Agent),
	}
}

func (m *memRepo) GetOrCreateAccountByOrg(orgID uint) (*models.BillingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.OrganizationID == orgID {
			clone := *a
			return &clone, nil
		}
	}
	account := &models.BillingAccount{
		ID:                 uint(len(m.accounts) + 1),
		OrganizationID:     orgID,
		SubscriptionStatus: models.SubscriptionStatusTrialing,
	}
	m.accounts[account.ID] = account
	clone := *account
	return &clone, nil
}

func (m *memRepo) GetAccountByID(id uint) (*models.BillingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *memRepo) GetAccountByPaddleSubscriptionID(string) (*models.BillingAccount, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memRepo) GetAccountByPaddleCustomerID(string) (*models.BillingAccount, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memRepo) SaveAccount(account *models.BillingAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *account
	m.accounts[account.ID] = &clone
	return nil
}

func (m *memRepo) UpdateAccount(uint, map[string]interface{}) error { return nil }

func (m *memRepo) GetPlanByID(id uint) (*models.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (m *memRepo) GetPlanByPaddlePriceID(string) (*models.SubscriptionPlan, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memRepo) GetAgentByID(id uint) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (m *memRepo) ConsumeFreeRequest(accountID uint, freeLimit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.FreeRequestsUsed >= freeLimit {
		return false, nil
	}
	a.FreeRequestsUsed++
	return true, nil
}

func (m *memRepo) ConsumePeriodRequest(accountID uint, periodLimit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return false, nil
	}
	if periodLimit >= 0 && a.RequestsUsedCurrentPeriod >= periodLimit {
		return false, nil
	}
	a.RequestsUsedCurrentPeriod++
	return true, nil
}

func (m *memRepo) ConsumeOneTimeCredit(accountID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.OneTimeRequestsUsed >= a.OneTimePurchasesCount {
		return false, nil
	}
	a.OneTimeRequestsUsed++
	return true, nil
}

func (m *memRepo) GrantOneTimeCredits(accountID uint, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		a.OneTimePurchasesCount += credits
	}
	return nil
}

func (m *memRepo) ApplyOneTimeGrant(accountID uint, credits int, eventID, transactionID string, bindPlanID *uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.LastWebhookEventID == eventID {
		return false, nil
	}
	a.OneTimePurchasesCount += credits
	a.LastWebhookEventID = eventID
	a.LastTransactionID = transactionID
	return true, nil
}

func (m *memRepo) ResetPeriodIfStale(accountID uint, startedBefore time.Time, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.PeriodStartedAt == nil || a.PeriodStartedAt.After(startedBefore) {
		return false, nil
	}
	a.FreeRequestsUsed = 0
	a.RequestsUsedCurrentPeriod = 0
	t := now
	a.PeriodStartedAt = &t
	return true, nil
}

func (m *memRepo) CreateWebhookEventIfNotExists(event *models.PaddleWebhookEvent) (bool, *models.PaddleWebhookEvent, error) {
	return true, event, nil
}

func (m *memRepo) ReopenWebhookEvent(uint, bool) error { return nil }

func (m *memRepo) FinishWebhookEvent(uint, string, *uint, string) error { return nil }

func (m *memRepo) counters(accountID uint) (free, period, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[accountID]
	return a.FreeRequestsUsed, a.RequestsUsedCurrentPeriod, a.OneTimeRequestsUsed
}

func gateUser(orgID uint) *models.User {
	return &models.User{ID: 1, Role: models.ROLE_USER, OrganizationID: &orgID}
}

func adminUser() *models.User {
	return &models.User{ID: 2, Role: models.ROLE_ADMIN}
}

func setupSubscribed(repo *memRepo, free, max int) (*models.User, uint) {
	now := time.Now()
	plan := &models.SubscriptionPlan{
		ID:                     1,
		Name:                   "Pro",
		PlanType:               models.PlanTypeSubscription,
		Interval:               models.PlanIntervalMonthly,
		FreeRequestsLimit:      free,
		MaxRequestsPerInterval: max,
		IsActive:               true,
		Agents:                 []models.Agent{{ID: 1}},
	}
	repo.plans[plan.ID] = plan
	repo.agents[1] = &models.Agent{ID: 1, Name: "assistant", IsActive: true}

	planID := plan.ID
	account := &models.BillingAccount{
		ID:                 1,
		OrganizationID:     1,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionPlanID: &planID,
		PeriodStartedAt:    &now,
	}
	repo.accounts[account.ID] = account
	return gateUser(1), account.ID
}

func TestCheckUsageLimits_SuperuserBypass(t *testing.T) {
	gate := NewGate(newMemRepo())

	decision, err := gate.CheckUsageLimits(context.Background(), adminUser())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, billing.ReasonSuperuser, decision.Reason)
}

func TestCheckUsageLimits_NoOrganization(t *testing.T) {
	gate := NewGate(newMemRepo())
	user := &models.User{ID: 1, Role: models.ROLE_USER}

	decision, err := gate.CheckUsageLimits(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, billing.ReasonNoOrganization, decision.Reason)
}

func TestCheckUsageLimits_NoPlan(t *testing.T) {
	gate := NewGate(newMemRepo())

	decision, err := gate.CheckUsageLimits(context.Background(), gateUser(1))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, billing.ReasonNoSubscription, decision.Reason)
}

func TestCheckUsageLimits_LazyPeriodRollover(t *testing.T) {
	repo := newMemRepo()
	user, accountID := setupSubscribed(repo, 0, 100)

	stale := time.Now().Add(-31 * 24 * time.Hour)
	repo.accounts[accountID].PeriodStartedAt = &stale
	repo.accounts[accountID].RequestsUsedCurrentPeriod = 100

	gate := NewGate(repo)
	decision, err := gate.CheckUsageLimits(context.Background(), user)
	require.NoError(t, err)

	// The expired period was reset in place, so the check passes again.
	assert.True(t, decision.Allowed)
	assert.Equal(t, 100, decision.PeriodRemaining)
	_, period, _ := repo.counters(accountID)
	assert.Equal(t, 0, period)
	assert.True(t, repo.accounts[accountID].PeriodStartedAt.After(stale))
}

func TestCheckAgentAccess(t *testing.T) {
	repo := newMemRepo()
	user, _ := setupSubscribed(repo, 10, 100)
	repo.agents[2] = &models.Agent{ID: 2, Name: "disabled", IsActive: false}
	repo.agents[3] = &models.Agent{ID: 3, Name: "public", IsActive: true, IsPublic: true}
	repo.agents[4] = &models.Agent{ID: 4, Name: "premium", IsActive: true}
	gate := NewGate(repo)
	ctx := context.Background()

	t.Run("agent in plan", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, user, 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("unknown agent", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, user, 99)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, billing.ReasonAgentNotFound, decision.Reason)
	})

	t.Run("disabled agent looks like missing", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, user, 2)
		require.NoError(t, err)
		assert.Equal(t, billing.ReasonAgentNotFound, decision.Reason)
	})

	t.Run("public agent", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, user, 3)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("agent outside plan", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, user, 4)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, billing.ReasonAgentNotInPlan, decision.Reason)
		assert.True(t, decision.ShouldUpgrade)
	})

	t.Run("superuser sees non-public agents", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, adminUser(), 4)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("superuser still blocked on disabled agent", func(t *testing.T) {
		decision, err := gate.CheckAgentAccess(ctx, adminUser(), 2)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})
}

func TestIncrementUsage_TierOrder(t *testing.T) {
	repo := newMemRepo()
	user, accountID := setupSubscribed(repo, 2, 3)
	gate := NewGate(repo)
	ctx := context.Background()

	expect := []string{
		billing.ReasonFreeQuota,
		billing.ReasonFreeQuota,
		billing.ReasonPeriodQuota,
		billing.ReasonPeriodQuota,
		billing.ReasonPeriodQuota,
	}
	for i, want := range expect {
		tier, err := gate.IncrementUsage(ctx, user)
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, want, tier, "request %d", i)
	}

	_, err := gate.IncrementUsage(ctx, user)
	assert.ErrorIs(t, err, billing.ErrQuotaExhausted)

	free, period, _ := repo.counters(accountID)
	assert.Equal(t, 2, free)
	assert.Equal(t, 3, period)
}

func TestIncrementUsage_TrialUncappedButRecorded(t *testing.T) {
	repo := newMemRepo()
	user, accountID := setupSubscribed(repo, 0, 0)
	repo.plans[1].FreeTrialDays = 7
	started := time.Now().Add(-24 * time.Hour)
	repo.accounts[accountID].TrialStartedAt = &started
	gate := NewGate(repo)

	for i := 0; i < 5; i++ {
		tier, err := gate.IncrementUsage(context.Background(), user)
		require.NoError(t, err)
		assert.Equal(t, billing.ReasonTrialActive, tier)
	}
	_, period, _ := repo.counters(accountID)
	assert.Equal(t, 5, period)
}

func TestIncrementUsage_OneTimeCredits(t *testing.T) {
	repo := newMemRepo()
	plan := &models.SubscriptionPlan{
		ID:           2,
		PlanType:     models.PlanTypeOneTime,
		OneTimeLimit: 2,
		IsActive:     true,
	}
	repo.plans[plan.ID] = plan
	planID := plan.ID
	repo.accounts[1] = &models.BillingAccount{
		ID:                    1,
		OrganizationID:        1,
		SubscriptionStatus:    models.SubscriptionStatusActive,
		SubscriptionPlanID:    &planID,
		OneTimePurchasesCount: 2,
	}
	gate := NewGate(repo)
	ctx := context.Background()
	user := gateUser(1)

	for i := 0; i < 2; i++ {
		tier, err := gate.IncrementUsage(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, billing.ReasonOneTimeCredits, tier)
	}
	_, err := gate.IncrementUsage(ctx, user)
	assert.ErrorIs(t, err, billing.ErrQuotaExhausted)
}

func TestIncrementUsage_InactiveAccount(t *testing.T) {
	repo := newMemRepo()
	user, accountID := setupSubscribed(repo, 10, 100)
	repo.accounts[accountID].SubscriptionStatus = models.SubscriptionStatusCanceled
	gate := NewGate(repo)

	_, err := gate.IncrementUsage(context.Background(), user)
	assert.ErrorIs(t, err, billing.ErrQuotaExhausted)
}

func TestIncrementUsage_SuperuserNotMetered(t *testing.T) {
	repo := newMemRepo()
	gate := NewGate(repo)

	tier, err := gate.IncrementUsage(context.Background(), adminUser())
	require.NoError(t, err)
	assert.Equal(t, billing.ReasonSuperuser, tier)
}

// Concurrent increments must never push a counter past its limit: losers of
// the row-level race get ErrQuotaExhausted instead of over-admission.
func TestIncrementUsage_ConcurrentNeverExceedsLimit(t *testing.T) {
	repo := newMemRepo()
	user, accountID := setupSubscribed(repo, 5, 10)
	gate := NewGate(repo)

	const attempts = 50
	var wg sync.WaitGroup
	var granted, refused int64
	var mu sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.IncrementUsage(context.Background(), user)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else {
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(15), granted)
	assert.Equal(t, int64(attempts-15), refused)
	free, period, _ := repo.counters(accountID)
	assert.Equal(t, 5, free)
	assert.Equal(t, 10, period)
}

func TestEnforce(t *testing.T) {
	repo := newMemRepo()
	user, accountID := setupSubscribed(repo, 10, 100)
	gate := NewGate(repo)
	ctx := context.Background()

	t.Run("allowed", func(t *testing.T) {
		decision, err := gate.Enforce(ctx, user, 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("access denial wins", func(t *testing.T) {
		decision, err := gate.Enforce(ctx, user, 99)
		assert.ErrorIs(t, err, ErrNotAllowed)
		assert.Equal(t, billing.ReasonAgentNotFound, decision.Reason)
	})

	t.Run("quota denial", func(t *testing.T) {
		repo.accounts[accountID].FreeRequestsUsed = 10
		repo.accounts[accountID].RequestsUsedCurrentPeriod = 100
		decision, err := gate.Enforce(ctx, user, 1)
		assert.ErrorIs(t, err, ErrNotAllowed)
		assert.Equal(t, billing.ReasonQuotaExhausted, decision.Reason)
	})
}
