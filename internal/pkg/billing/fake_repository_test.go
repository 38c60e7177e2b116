package billing

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// fakeRepository is an in-memory Repository. All counter mutations take the
// mutex so concurrency tests exercise the same all-or-nothing semantics the
// SQL conditional updates provide.
type fakeRepository struct {
	mu sync.Mutex

	accounts map[uint]*models.BillingAccount
	plans    map[uint]*models.SubscriptionPlan
	agents   map[uint]*models.Agent
	events   map[string]*models.PaddleWebhookEvent

	nextAccountID uint
	nextEventID   uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		accounts:      make(map[uint]*models.BillingAccount),
		plans:         make(map[uint]*models.SubscriptionPlan),
		agents:        make(map[uint]*models.Agent),
		events:        make(map[string]*models.PaddleWebhookEvent),
		nextAccountID: 1,
		nextEventID:   1,
	}
}

func (f *fakeRepository) addPlan(plan *models.SubscriptionPlan) *models.SubscriptionPlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[plan.ID] = plan
	return plan
}

func (f *fakeRepository) addAgent(agent *models.Agent) *models.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[agent.ID] = agent
	return agent
}

func (f *fakeRepository) addAccount(account *models.BillingAccount) *models.BillingAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account.ID == 0 {
		account.ID = f.nextAccountID
	}
	if account.ID >= f.nextAccountID {
		f.nextAccountID = account.ID + 1
	}
	f.accounts[account.ID] = account
	return account
}

func (f *fakeRepository) GetOrCreateAccountByOrg(orgID uint) (*models.BillingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.OrganizationID == orgID {
			return copyAccount(a), nil
		}
	}
	account := &models.BillingAccount{
		ID:                 f.nextAccountID,
		OrganizationID:     orgID,
		SubscriptionStatus: models.SubscriptionStatusTrialing,
	}
	f.nextAccountID++
	f.accounts[account.ID] = account
	return copyAccount(account), nil
}

func (f *fakeRepository) GetAccountByID(id uint) (*models.BillingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyAccount(a), nil
}

func (f *fakeRepository) GetAccountByPaddleSubscriptionID(subscriptionID string) (*models.BillingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.PaddleSubscriptionID == subscriptionID && subscriptionID != "" {
			return copyAccount(a), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetAccountByPaddleCustomerID(customerID string) (*models.BillingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.PaddleCustomerID == customerID && customerID != "" {
			return copyAccount(a), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveAccount(account *models.BillingAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.ID] = copyAccount(account)
	return nil
}

func (f *fakeRepository) UpdateAccount(id uint, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range fields {
		applyAccountField(a, key, value)
	}
	return nil
}

func (f *fakeRepository) GetPlanByID(id uint) (*models.SubscriptionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeRepository) GetPlanByPaddlePriceID(priceID string) (*models.SubscriptionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.PaddlePriceID == priceID && priceID != "" {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetAgentByID(id uint) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (f *fakeRepository) ConsumeFreeRequest(accountID uint, freeLimit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok || a.FreeRequestsUsed >= freeLimit {
		return false, nil
	}
	a.FreeRequestsUsed++
	return true, nil
}

func (f *fakeRepository) ConsumePeriodRequest(accountID uint, periodLimit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return false, nil
	}
	if periodLimit >= 0 && a.RequestsUsedCurrentPeriod >= periodLimit {
		return false, nil
	}
	a.RequestsUsedCurrentPeriod++
	return true, nil
}

func (f *fakeRepository) ConsumeOneTimeCredit(accountID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok || a.OneTimeRequestsUsed >= a.OneTimePurchasesCount {
		return false, nil
	}
	a.OneTimeRequestsUsed++
	return true, nil
}

func (f *fakeRepository) GrantOneTimeCredits(accountID uint, credits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if credits <= 0 {
		return nil
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.OneTimePurchasesCount += credits
	return nil
}

func (f *fakeRepository) ApplyOneTimeGrant(accountID uint, credits int, eventID, transactionID string, bindPlanID *uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok || a.LastWebhookEventID == eventID {
		return false, nil
	}
	a.OneTimePurchasesCount += credits
	a.LastWebhookEventID = eventID
	a.LastTransactionID = transactionID
	if bindPlanID != nil {
		planID := *bindPlanID
		a.SubscriptionPlanID = &planID
		a.SubscriptionStatus = models.SubscriptionStatusActive
	}
	return true, nil
}

func (f *fakeRepository) ResetPeriodIfStale(accountID uint, startedBefore time.Time, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok || a.PeriodStartedAt == nil || a.PeriodStartedAt.After(startedBefore) {
		return false, nil
	}
	a.FreeRequestsUsed = 0
	a.RequestsUsedCurrentPeriod = 0
	t := now
	a.PeriodStartedAt = &t
	return true, nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.PaddleWebhookEvent) (bool, *models.PaddleWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.events[event.EventID]; ok {
		return false, existing, nil
	}
	stored := *event
	stored.ID = f.nextEventID
	f.nextEventID++
	f.events[event.EventID] = &stored
	return true, &stored, nil
}

func (f *fakeRepository) ReopenWebhookEvent(id uint, signatureValid bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			e.Status = models.WebhookStatusReceived
			e.SignatureValid = signatureValid
			e.ErrorMessage = ""
			e.ProcessedAt = nil
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) FinishWebhookEvent(id uint, status string, accountID *uint, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			e.Status = status
			e.BillingAccountID = accountID
			e.ErrorMessage = processingError
			now := time.Now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) eventByID(eventID string) *models.PaddleWebhookEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[eventID]
}

func (f *fakeRepository) accountSnapshot(id uint) *models.BillingAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyAccount(f.accounts[id])
}

func copyAccount(a *models.BillingAccount) *models.BillingAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

func applyAccountField(a *models.BillingAccount, key string, value interface{}) {
	switch key {
	case "subscription_status":
		a.SubscriptionStatus = value.(string)
	case "subscription_plan_id":
		switch v := value.(type) {
		case uint:
			a.SubscriptionPlanID = &v
		case *uint:
			a.SubscriptionPlanID = v
		}
	case "paddle_customer_id":
		a.PaddleCustomerID = value.(string)
	case "paddle_subscription_id":
		a.PaddleSubscriptionID = value.(string)
	case "last_webhook_event_id":
		a.LastWebhookEventID = value.(string)
	case "last_transaction_id":
		a.LastTransactionID = value.(string)
	case "next_billing_date":
		a.NextBillingDate = toTimePtr(value)
	case "subscription_start_date":
		a.SubscriptionStartDate = toTimePtr(value)
	case "period_started_at":
		a.PeriodStartedAt = toTimePtr(value)
	case "trial_started_at":
		a.TrialStartedAt = toTimePtr(value)
	case "cancelled_at":
		a.CancelledAt = toTimePtr(value)
	case "paused_at":
		a.PausedAt = toTimePtr(value)
	}
}

func toTimePtr(value interface{}) *time.Time {
	switch v := value.(type) {
	case *time.Time:
		return v
	case time.Time:
		return &v
	default:
		return nil
	}
}
