package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenthubhq/agenthub/internal/pkg/env"
)

const (
	defaultPaddleAPIBaseURL        = "https://api.paddle.com"
	defaultPaddleSandboxAPIBaseURL = "https://sandbox-api.paddle.com"
)

// PaddleClient is the contract this core consumes from the payment provider.
// It is always an injected dependency; a nil client means manual mode, where
// subscribe actions take effect immediately without a checkout.
type PaddleClient interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateSubscriptionCheckout(ctx context.Context, customerID, priceID string) (*Checkout, error)
	CreateOneTimeCheckout(ctx context.Context, customerID, priceID string) (*Checkout, error)
}

// Checkout is the provider's answer to a checkout request. The caller
// surfaces CheckoutURL to the user; the webhook reconciler completes the
// purchase later.
type Checkout struct {
	TransactionID string
	CheckoutURL   string
	NextBilledAt  *time.Time
}

// HTTPPaddleClient talks to the Paddle Billing API over HTTPS.
type HTTPPaddleClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewPaddleClientFromEnv builds a client from PADDLE_* environment keys.
// Returns nil when no API key is configured (manual mode).
func NewPaddleClientFromEnv() PaddleClient {
	apiKey := strings.TrimSpace(env.GetEnv("PADDLE_API_KEY", ""))
	if apiKey == "" {
		return nil
	}

	base := strings.TrimSpace(env.GetEnv("PADDLE_API_BASE_URL", ""))
	if base == "" {
		if env.GetEnv("PADDLE_ENVIRONMENT", "sandbox") == "sandbox" {
			base = defaultPaddleSandboxAPIBaseURL
		} else {
			base = defaultPaddleAPIBaseURL
		}
	}

	return &HTTPPaddleClient{
		APIKey:     apiKey,
		APIBaseURL: strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type paddleCustomerResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type paddleTransactionResponse struct {
	Data struct {
		ID       string `json:"id"`
		Checkout struct {
			URL string `json:"url"`
		} `json:"checkout"`
		BillingPeriod struct {
			EndsAt string `json:"ends_at"`
		} `json:"billing_period"`
	} `json:"data"`
}

func (c *HTTPPaddleClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", errors.New("customer email is required")
	}

	payload := map[string]string{"email": strings.TrimSpace(email)}
	if n := strings.TrimSpace(name); n != "" {
		payload["name"] = n
	}

	var out paddleCustomerResponse
	if err := c.post(ctx, "/customers", payload, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: empty customer id", ErrProviderUnavailable)
	}
	return out.Data.ID, nil
}

func (c *HTTPPaddleClient) CreateSubscriptionCheckout(ctx context.Context, customerID, priceID string) (*Checkout, error) {
	return c.createTransaction(ctx, customerID, priceID)
}

func (c *HTTPPaddleClient) CreateOneTimeCheckout(ctx context.Context, customerID, priceID string) (*Checkout, error) {
	return c.createTransaction(ctx, customerID, priceID)
}

// createTransaction creates a hosted-checkout transaction. Paddle derives
// subscription vs one-off behavior from the price's billing cycle, so both
// checkout flavors share this call.
func (c *HTTPPaddleClient) createTransaction(ctx context.Context, customerID, priceID string) (*Checkout, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(priceID) == "" {
		return nil, errors.New("customer id and price id are required")
	}

	payload := map[string]interface{}{
		"customer_id": strings.TrimSpace(customerID),
		"items": []map[string]interface{}{
			{"price_id": strings.TrimSpace(priceID), "quantity": 1},
		},
		"collection_mode": "automatic",
	}

	var out paddleTransactionResponse
	if err := c.post(ctx, "/transactions", payload, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("%w: empty transaction id", ErrProviderUnavailable)
	}

	checkout := &Checkout{
		TransactionID: out.Data.ID,
		CheckoutURL:   out.Data.Checkout.URL,
	}
	if raw := strings.TrimSpace(out.Data.BillingPeriod.EndsAt); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			checkout.NextBilledAt = &t
		}
	}
	return checkout, nil
}

func (c *HTTPPaddleClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: invalid response: %v", ErrProviderUnavailable, err)
		}
	}
	return nil
}
