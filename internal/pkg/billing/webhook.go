package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// Paddle event types this reconciler understands. Everything else is
// acknowledged without mutation.
const (
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionActivated = "subscription_activated"
	EventSubscriptionUpdated   = "subscription_updated"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionPaused    = "subscription_paused"
	EventSubscriptionResumed   = "subscription_resumed"
	EventTransactionCompleted  = "transaction_completed"
	EventTransactionFailed     = "transaction_failed"
)

// paddleStatusMap translates provider subscription statuses to local ones.
// Unknown statuses fall back to active, matching the provider's own default.
var paddleStatusMap = map[string]string{
	"active":    models.SubscriptionStatusActive,
	"trialing":  models.SubscriptionStatusTrialing,
	"paused":    models.SubscriptionStatusPaused,
	"past_due":  models.SubscriptionStatusPastDue,
	"canceled":  models.SubscriptionStatusCanceled,
	"cancelled": models.SubscriptionStatusCanceled,
	"expired":   models.SubscriptionStatusExpired,
}

// WebhookResult tells the HTTP layer how to answer the provider.
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

type webhookEnvelope struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Data      webhookData `json:"data"`
}

type webhookData struct {
	ID             string        `json:"id"`
	Status         string        `json:"status"`
	CustomerID     string        `json:"customer_id"`
	SubscriptionID string        `json:"subscription_id"`
	NextBilledAt   string        `json:"next_billed_at"`
	CancelledAt    string        `json:"cancelled_at"`
	PausedAt       string        `json:"paused_at"`
	Items          []webhookItem `json:"items"`
}

type webhookItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

// Reconciler consumes asynchronous Paddle events and applies their state
// transitions to billing accounts, idempotently.
type Reconciler struct {
	repo   Repository
	secret string

	handlers map[string]func(ctx context.Context, data *webhookData, eventID string) (*uint, error)
}

// NewReconciler creates a webhook reconciler. secret is the provider-issued
// endpoint secret used for signature verification.
func NewReconciler(repo Repository, secret string) *Reconciler {
	r := &Reconciler{repo: repo, secret: secret}
	r.handlers = map[string]func(ctx context.Context, data *webhookData, eventID string) (*uint, error){
		EventSubscriptionCreated:   r.handleSubscriptionActivated,
		EventSubscriptionActivated: r.handleSubscriptionActivated,
		EventSubscriptionUpdated:   r.handleSubscriptionUpdated,
		EventSubscriptionCancelled: r.handleSubscriptionCancelled,
		EventSubscriptionPaused:    r.handleSubscriptionPaused,
		EventSubscriptionResumed:   r.handleSubscriptionResumed,
		EventTransactionCompleted:  r.handleTransactionCompleted,
		EventTransactionFailed:     r.handleTransactionFailed,
	}
	return r
}

// NewReconcilerFromDB creates a reconciler over a GORM DB handle.
func NewReconcilerFromDB(db *gorm.DB, secret string) *Reconciler {
	return NewReconciler(NewRepository(db), secret)
}

// Process handles one webhook delivery end to end.
//
// Protocol: verify the signature against the raw body; check the global
// event table for the event id and short-circuit replays of PROCESSED events
// before any account mutation; otherwise create or reopen the audit row
// (status received), dispatch to the type-specific handler, and move the row
// to a terminal status. A handler error marks the row failed and is returned
// so the HTTP layer answers non-2xx and the provider redelivers; the retry
// finds the non-processed row and runs the handler again, so a transient
// failure never strands the state transition.
func (r *Reconciler) Process(ctx context.Context, rawBody []byte, signatureHeader string) (*WebhookResult, error) {
	signatureValid := VerifyPaddleWebhookSignature(rawBody, signatureHeader, r.secret)

	var envelope webhookEnvelope
	parseErr := json.Unmarshal(rawBody, &envelope)

	eventID := envelope.EventID
	if eventID == "" {
		eventID = fallbackEventID(rawBody)
	}

	event := &models.PaddleWebhookEvent{
		EventID:        eventID,
		EventType:      envelope.EventType,
		Status:         models.WebhookStatusReceived,
		SignatureValid: signatureValid,
		Payload:        models.TruncatePayload(rawBody),
	}
	created, stored, err := r.repo.CreateWebhookEventIfNotExists(event)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{EventID: eventID, EventType: envelope.EventType}

	if !created {
		if stored.Status == models.WebhookStatusProcessed {
			// Replay of an applied delivery: zero mutations, successful no-op.
			result.Duplicate = true
			return result, nil
		}
		// The earlier delivery never reached processed (handler failure, or
		// a forged body carrying this event id was skipped). Reopen the row
		// and run the event again with the current delivery's signature.
		if err := r.repo.ReopenWebhookEvent(stored.ID, signatureValid); err != nil {
			return nil, err
		}
	}

	if !signatureValid {
		_ = r.repo.FinishWebhookEvent(stored.ID, models.WebhookStatusSkipped, nil, "invalid webhook signature")
		return result, ErrInvalidSignature
	}
	if parseErr != nil {
		_ = r.repo.FinishWebhookEvent(stored.ID, models.WebhookStatusFailed, nil, truncateError(parseErr))
		return result, fmt.Errorf("invalid webhook payload: %w", parseErr)
	}

	handler, known := r.handlers[envelope.EventType]
	if !known {
		// Informational provider chatter (product/price/customer echoes).
		_ = r.repo.FinishWebhookEvent(stored.ID, models.WebhookStatusSkipped, nil, "")
		result.Ignored = true
		return result, nil
	}

	accountID, handlerErr := handler(ctx, &envelope.Data, eventID)
	if handlerErr != nil {
		_ = r.repo.FinishWebhookEvent(stored.ID, models.WebhookStatusFailed, accountID, truncateError(handlerErr))
		return result, handlerErr
	}

	if err := r.repo.FinishWebhookEvent(stored.ID, models.WebhookStatusProcessed, accountID, ""); err != nil {
		return result, err
	}
	return result, nil
}

// handleSubscriptionActivated covers subscription_created and
// subscription_activated. The account is resolved by provider subscription
// id with a customer-id fallback for the first-created case, and the
// subscription id is backfilled when absent.
//
// Delegated-mode checkouts deliberately leave the plan unbound until payment
// clears, so this confirmation also resolves the purchased plan from the
// event's price id and starts the metering period and trial clock.
func (r *Reconciler) handleSubscriptionActivated(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	account, err := r.resolveAccount(data.ID, data.CustomerID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.LastWebhookEventID == eventID {
		return accountIDOrNil(account), nil
	}

	updates := map[string]interface{}{
		"subscription_status":   mapPaddleStatus(data.Status),
		"last_webhook_event_id": eventID,
	}
	if account.PaddleSubscriptionID == "" && data.ID != "" {
		updates["paddle_subscription_id"] = data.ID
	}
	if next := parsePaddleTime(data.NextBilledAt); next != nil {
		updates["next_billing_date"] = next
	}

	plan, err := r.lookupPlanByPriceID(firstPriceID(data))
	if err != nil {
		return &account.ID, err
	}
	if plan != nil && !plan.IsOneTime() {
		updates["subscription_plan_id"] = plan.ID
		now := time.Now()
		if account.SubscriptionStartDate == nil {
			updates["subscription_start_date"] = timePtr(now)
		}
		if account.PeriodStartedAt == nil {
			updates["period_started_at"] = timePtr(now)
		}
		if plan.FreeTrialDays > 0 && account.TrialStartedAt == nil {
			updates["trial_started_at"] = timePtr(now)
		}
	}

	if err := r.repo.UpdateAccount(account.ID, updates); err != nil {
		return &account.ID, err
	}
	return &account.ID, nil
}

// handleSubscriptionUpdated re-maps the status from the event's own status
// field. Resolution is strictly by subscription id: an update for an
// unbound subscription is acknowledged without effect (a later created
// event carries its own authoritative status).
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	account, err := r.lookupBySubscriptionID(data.ID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.LastWebhookEventID == eventID {
		return accountIDOrNil(account), nil
	}

	status := mapPaddleStatus(data.Status)
	updates := map[string]interface{}{
		"subscription_status":   status,
		"last_webhook_event_id": eventID,
	}
	if next := parsePaddleTime(data.NextBilledAt); next != nil {
		updates["next_billing_date"] = next
	}
	if status == models.SubscriptionStatusPaused {
		updates["paused_at"] = timePtr(time.Now())
	}
	if err := r.repo.UpdateAccount(account.ID, updates); err != nil {
		return &account.ID, err
	}
	return &account.ID, nil
}

func (r *Reconciler) handleSubscriptionCancelled(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	account, err := r.lookupBySubscriptionID(data.ID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.LastWebhookEventID == eventID {
		return accountIDOrNil(account), nil
	}

	cancelledAt := parsePaddleTime(data.CancelledAt)
	if cancelledAt == nil {
		cancelledAt = timePtr(time.Now())
	}
	err = r.repo.UpdateAccount(account.ID, map[string]interface{}{
		"subscription_status":   models.SubscriptionStatusCanceled,
		"cancelled_at":          cancelledAt,
		"last_webhook_event_id": eventID,
	})
	return &account.ID, err
}

func (r *Reconciler) handleSubscriptionPaused(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	account, err := r.lookupBySubscriptionID(data.ID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.LastWebhookEventID == eventID {
		return accountIDOrNil(account), nil
	}

	pausedAt := parsePaddleTime(data.PausedAt)
	if pausedAt == nil {
		pausedAt = timePtr(time.Now())
	}
	err = r.repo.UpdateAccount(account.ID, map[string]interface{}{
		"subscription_status":   models.SubscriptionStatusPaused,
		"paused_at":             pausedAt,
		"last_webhook_event_id": eventID,
	})
	return &account.ID, err
}

func (r *Reconciler) handleSubscriptionResumed(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	account, err := r.lookupBySubscriptionID(data.ID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.LastWebhookEventID == eventID {
		return accountIDOrNil(account), nil
	}

	updates := map[string]interface{}{
		"subscription_status":   models.SubscriptionStatusActive,
		"paused_at":             nil,
		"last_webhook_event_id": eventID,
	}
	if next := parsePaddleTime(data.NextBilledAt); next != nil {
		updates["next_billing_date"] = next
	}
	err = r.repo.UpdateAccount(account.ID, updates)
	return &account.ID, err
}

// handleTransactionCompleted records subscription payments for audit and
// grants one-time credits for pack purchases. A one-time grant never
// overwrites an already-active subscription's plan or status.
func (r *Reconciler) handleTransactionCompleted(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	if data.SubscriptionID != "" {
		account, err := r.lookupBySubscriptionID(data.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if account == nil || account.LastWebhookEventID == eventID {
			return accountIDOrNil(account), nil
		}
		err = r.repo.UpdateAccount(account.ID, map[string]interface{}{
			"last_transaction_id":   data.ID,
			"last_webhook_event_id": eventID,
		})
		return &account.ID, err
	}

	priceID := firstPriceID(data)
	if priceID == "" {
		return nil, nil
	}
	plan, err := r.lookupPlanByPriceID(priceID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsOneTime() {
		return nil, nil
	}

	account, err := r.lookupByCustomerID(data.CustomerID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.LastWebhookEventID == eventID {
		return accountIDOrNil(account), nil
	}

	// Bind the pack as the active plan only when no subscription runs.
	var bindPlanID *uint
	if account.SubscriptionPlanID == nil || !account.HasEntitlingStatus() {
		planID := plan.ID
		bindPlanID = &planID
	}

	// Credits, transaction id and the event-id stamp land atomically: a
	// handler retry finds the stamp and cannot grant twice.
	if _, err := r.repo.ApplyOneTimeGrant(account.ID, plan.OneTimeLimit, eventID, data.ID, bindPlanID); err != nil {
		return &account.ID, err
	}
	return &account.ID, nil
}

// handleTransactionFailed is audit-only: the provider follows up with a
// status-changing subscription_updated (past_due) when it matters.
func (r *Reconciler) handleTransactionFailed(ctx context.Context, data *webhookData, eventID string) (*uint, error) {
	_ = ctx
	_ = eventID
	if data.SubscriptionID == "" {
		return nil, nil
	}
	account, err := r.lookupBySubscriptionID(data.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return accountIDOrNil(account), nil
}

func (r *Reconciler) resolveAccount(subscriptionID, customerID string) (*models.BillingAccount, error) {
	if subscriptionID != "" {
		account, err := r.lookupBySubscriptionID(subscriptionID)
		if err != nil || account != nil {
			return account, err
		}
	}
	return r.lookupByCustomerID(customerID)
}

func (r *Reconciler) lookupBySubscriptionID(subscriptionID string) (*models.BillingAccount, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	account, err := r.repo.GetAccountByPaddleSubscriptionID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}

func (r *Reconciler) lookupByCustomerID(customerID string) (*models.BillingAccount, error) {
	if customerID == "" {
		return nil, nil
	}
	account, err := r.repo.GetAccountByPaddleCustomerID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}

func (r *Reconciler) lookupPlanByPriceID(priceID string) (*models.SubscriptionPlan, error) {
	if priceID == "" {
		return nil, nil
	}
	plan, err := r.repo.GetPlanByPaddlePriceID(priceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return plan, nil
}

func mapPaddleStatus(providerStatus string) string {
	if mapped, ok := paddleStatusMap[providerStatus]; ok {
		return mapped
	}
	return models.SubscriptionStatusActive
}

func parsePaddleTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func firstPriceID(data *webhookData) string {
	for _, item := range data.Items {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// fallbackEventID derives a stable id for deliveries missing event_id, so
// replays of the same body still deduplicate.
func fallbackEventID(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return "hash:" + hex.EncodeToString(sum[:])
}

func accountIDOrNil(account *models.BillingAccount) *uint {
	if account == nil {
		return nil
	}
	return &account.ID
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
