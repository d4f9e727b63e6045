package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/MarchenkoRuslan/faberge-egg/config"
	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
)

const (
	cardpayCheckoutPath = "/v1/checkout/sessions"
	cardpayMaxAttempts  = 4
)

// Cardpay is the hosted card-checkout provider. Checkout sessions are created
// over its REST API; confirmation arrives asynchronously via webhook.
type Cardpay struct {
	cfg    config.GatewayConfig
	client *http.Client
	logger observability.Logger
}

// NewCardpay constructs the card provider client.
func NewCardpay(cfg config.GatewayConfig, client *http.Client, logger observability.Logger) *Cardpay {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = observability.Log()
	}
	return &Cardpay{cfg: cfg, client: client, logger: logger}
}

// Name returns the payment method tag.
func (c *Cardpay) Name() string { return orderstore.MethodCardpay }

type cardpayCheckoutRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
	Metadata    struct {
		OrderID int64 `json:"order_id"`
	} `json:"metadata"`
}

type cardpayCheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckout opens a hosted checkout session for the pending order.
// Transient failures (network, 5xx, 429) are retried with exponential backoff
// under a single idempotency key, so the provider never opens two sessions.
func (c *Cardpay) CreateCheckout(ctx context.Context, order orderstore.Order, lot catalog.Lot, urls ReturnURLs) (Session, error) {
	req := cardpayCheckoutRequest{
		AmountCents: order.AmountCents,
		Currency:    "eur",
		Description: fmt.Sprintf("%d fractions of %s", order.FractionCount, lot.Name),
		Reference:   fmt.Sprintf("order-%d", order.ID),
		SuccessURL:  firstNonEmpty(urls.Success, c.cfg.SuccessURL),
		CancelURL:   firstNonEmpty(urls.Cancel, c.cfg.CancelURL),
	}
	req.Metadata.OrderID = order.ID

	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("cardpay: encode checkout request: %w", err)
	}
	idempotencyKey := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= cardpayMaxAttempts; attempt++ {
		session, retryable, err := c.createOnce(ctx, body, idempotencyKey)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if !retryable {
			return Session{}, err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop || attempt == cardpayMaxAttempts {
			break
		}
		c.logger.Info("cardpay checkout retry",
			observability.F("order_id", order.ID),
			observability.F("attempt", attempt),
			observability.F("error", err))
		select {
		case <-ctx.Done():
			return Session{}, fmt.Errorf("cardpay: checkout canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return Session{}, lastErr
}

func (c *Cardpay) createOnce(ctx context.Context, body []byte, idempotencyKey string) (Session, bool, error) {
	url := strings.TrimRight(c.cfg.APIBaseURL, "/") + cardpayCheckoutPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Session{}, false, fmt.Errorf("cardpay: build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Session{}, true, errs.New(orderstore.MethodCardpay, errs.CodeGateway,
			errs.WithMessage("checkout session request failed"), errs.WithCause(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, true, fmt.Errorf("cardpay: read checkout response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Session{}, true, errs.New(orderstore.MethodCardpay, errs.CodeGateway,
			errs.WithMessage(fmt.Sprintf("checkout session returned status %d", resp.StatusCode)))
	default:
		return Session{}, false, errs.New(orderstore.MethodCardpay, errs.CodeGateway,
			errs.WithMessage(fmt.Sprintf("checkout session rejected with status %d", resp.StatusCode)))
	}

	var parsed cardpayCheckoutResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Session{}, false, fmt.Errorf("cardpay: decode checkout response: %w", err)
	}
	if strings.TrimSpace(parsed.URL) == "" {
		return Session{}, false, errs.New(orderstore.MethodCardpay, errs.CodeGateway,
			errs.WithMessage("checkout session missing redirect url"))
	}
	return Session{ExternalID: parsed.ID, RedirectURL: parsed.URL}, false, nil
}
