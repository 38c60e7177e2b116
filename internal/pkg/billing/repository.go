package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agenthubhq/agenthub/app/models"
)

// Repository provides DB operations used by the billing service, the webhook
// reconciler and the policy gate. Consumption counters are only ever
// advanced through the Consume* methods, which issue single conditional
// UPDATE statements: the row is the counter and the update is the lock.
type Repository interface {
	GetOrCreateAccountByOrg(orgID uint) (*models.BillingAccount, error)
	GetAccountByID(id uint) (*models.BillingAccount, error)
	GetAccountByPaddleSubscriptionID(subscriptionID string) (*models.BillingAccount, error)
	GetAccountByPaddleCustomerID(customerID string) (*models.BillingAccount, error)
	SaveAccount(account *models.BillingAccount) error
	UpdateAccount(id uint, fields map[string]interface{}) error

	GetPlanByID(id uint) (*models.SubscriptionPlan, error)
	GetPlanByPaddlePriceID(priceID string) (*models.SubscriptionPlan, error)
	GetAgentByID(id uint) (*models.Agent, error)

	ConsumeFreeRequest(accountID uint, freeLimit int) (bool, error)
	ConsumePeriodRequest(accountID uint, periodLimit int) (bool, error)
	ConsumeOneTimeCredit(accountID uint) (bool, error)
	GrantOneTimeCredits(accountID uint, credits int) error
	ApplyOneTimeGrant(accountID uint, credits int, eventID, transactionID string, bindPlanID *uint) (bool, error)
	ResetPeriodIfStale(accountID uint, startedBefore time.Time, now time.Time) (bool, error)

	CreateWebhookEventIfNotExists(event *models.PaddleWebhookEvent) (bool, *models.PaddleWebhookEvent, error)
	ReopenWebhookEvent(id uint, signatureValid bool) error
	FinishWebhookEvent(id uint, status string, accountID *uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateAccountByOrg(orgID uint) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.Where("organization_id = ?", orgID).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = models.BillingAccount{
		OrganizationID:     orgID,
		SubscriptionStatus: models.SubscriptionStatusTrialing,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}},
		DoNothing: true,
	}).Create(&account).Error; err != nil {
		return nil, err
	}

	// Re-read so a concurrent creator's row wins consistently.
	if err := r.db.Where("organization_id = ?", orgID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByID(id uint) (*models.BillingAccount, error) {
	var account models.BillingAccount
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByPaddleSubscriptionID(subscriptionID string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.Where("paddle_subscription_id = ?", subscriptionID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByPaddleCustomerID(customerID string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.Where("paddle_customer_id = ?", customerID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) SaveAccount(account *models.BillingAccount) error {
	return r.db.Save(account).Error
}

func (r *gormRepository) UpdateAccount(id uint, fields map[string]interface{}) error {
	return r.db.Model(&models.BillingAccount{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormRepository) GetPlanByID(id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.Preload("Agents").First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) GetPlanByPaddlePriceID(priceID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.Preload("Agents").Where("paddle_price_id = ?", priceID).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) GetAgentByID(id uint) (*models.Agent, error) {
	var agent models.Agent
	if err := r.db.First(&agent, id).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// ConsumeFreeRequest advances the free-tier counter iff free quota remains.
// The conditional UPDATE makes concurrent callers serialize on the row:
// exactly limit-many callers ever succeed, regardless of interleaving.
func (r *gormRepository) ConsumeFreeRequest(accountID uint, freeLimit int) (bool, error) {
	res := r.db.Model(&models.BillingAccount{}).
		Where("id = ? AND free_requests_used < ?", accountID, freeLimit).
		UpdateColumn("free_requests_used", gorm.Expr("free_requests_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ConsumePeriodRequest advances the per-period counter. A negative
// periodLimit means uncapped (trial window), where consumption is still
// recorded but never refused.
func (r *gormRepository) ConsumePeriodRequest(accountID uint, periodLimit int) (bool, error) {
	tx := r.db.Model(&models.BillingAccount{})
	if periodLimit < 0 {
		tx = tx.Where("id = ?", accountID)
	} else {
		tx = tx.Where("id = ? AND requests_used_current_period < ?", accountID, periodLimit)
	}
	res := tx.UpdateColumn("requests_used_current_period", gorm.Expr("requests_used_current_period + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ConsumeOneTimeCredit advances the credit counter iff credits remain.
func (r *gormRepository) ConsumeOneTimeCredit(accountID uint) (bool, error) {
	res := r.db.Model(&models.BillingAccount{}).
		Where("id = ? AND one_time_requests_used < one_time_purchases_count", accountID).
		UpdateColumn("one_time_requests_used", gorm.Expr("one_time_requests_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) GrantOneTimeCredits(accountID uint, credits int) error {
	if credits <= 0 {
		return nil
	}
	return r.db.Model(&models.BillingAccount{}).
		Where("id = ?", accountID).
		UpdateColumn("one_time_purchases_count", gorm.Expr("one_time_purchases_count + ?", credits)).Error
}

// ApplyOneTimeGrant adds purchased credits, records the transaction and
// stamps the webhook event id in a single conditional UPDATE. The event-id
// guard in the WHERE clause means a retried event grants nothing: either the
// whole grant landed or none of it did.
func (r *gormRepository) ApplyOneTimeGrant(accountID uint, credits int, eventID, transactionID string, bindPlanID *uint) (bool, error) {
	updates := map[string]interface{}{
		"one_time_purchases_count": gorm.Expr("one_time_purchases_count + ?", credits),
		"last_webhook_event_id":    eventID,
		"last_transaction_id":      transactionID,
	}
	if bindPlanID != nil {
		updates["subscription_plan_id"] = *bindPlanID
		updates["subscription_status"] = models.SubscriptionStatusActive
	}
	res := r.db.Model(&models.BillingAccount{}).
		Where("id = ? AND last_webhook_event_id <> ?", accountID, eventID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetPeriodIfStale starts a fresh metering period iff the stored period
// start still predates the caller's snapshot. The guard keeps two
// concurrent resets from zeroing the counters twice.
func (r *gormRepository) ResetPeriodIfStale(accountID uint, startedBefore time.Time, now time.Time) (bool, error) {
	res := r.db.Model(&models.BillingAccount{}).
		Where("id = ? AND period_started_at <= ?", accountID, startedBefore).
		Updates(map[string]interface{}{
			"free_requests_used":           0,
			"requests_used_current_period": 0,
			"period_started_at":            now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaddleWebhookEvent) (bool, *models.PaddleWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaddleWebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ReopenWebhookEvent puts an event row that never reached PROCESSED back to
// RECEIVED so a provider redelivery can run the handler again.
func (r *gormRepository) ReopenWebhookEvent(id uint, signatureValid bool) error {
	return r.db.Model(&models.PaddleWebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":          models.WebhookStatusReceived,
		"signature_valid": signatureValid,
		"error_message":   "",
		"processed_at":    nil,
	}).Error
}

func (r *gormRepository) FinishWebhookEvent(id uint, status string, accountID *uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        status,
		"processed_at":  &now,
		"error_message": processingError,
	}
	if accountID != nil {
		updates["billing_account_id"] = *accountID
	}
	return r.db.Model(&models.PaddleWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
