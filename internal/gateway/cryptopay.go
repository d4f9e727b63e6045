package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarchenkoRuslan/faberge-egg/config"
	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
)

// Cryptopay is the crypto payment provider. Checkout is a redirect to its
// hosted payment page; the transaction identifier only exists once the
// provider confirms via webhook.
type Cryptopay struct {
	cfg    config.GatewayConfig
	logger observability.Logger
}

// NewCryptopay constructs the crypto provider.
func NewCryptopay(cfg config.GatewayConfig, logger observability.Logger) *Cryptopay {
	if logger == nil {
		logger = observability.Log()
	}
	return &Cryptopay{cfg: cfg, logger: logger}
}

// Name returns the payment method tag.
func (c *Cryptopay) Name() string { return orderstore.MethodCryptopay }

// CreateCheckout builds the hosted payment page URL carrying the order
// reference and the expected amount.
func (c *Cryptopay) CreateCheckout(_ context.Context, order orderstore.Order, _ catalog.Lot, urls ReturnURLs) (Session, error) {
	base := strings.TrimSpace(c.cfg.APIBaseURL)
	if base == "" {
		return Session{}, errs.New(orderstore.MethodCryptopay, errs.CodeGatewayUnavailable,
			errs.WithMessage("payment page url not configured"))
	}
	params := map[string]string{
		"order_id":     strconv.FormatInt(order.ID, 10),
		"amount_cents": strconv.FormatInt(order.AmountCents, 10),
		"currency":     "eur",
	}
	if returnURL := firstNonEmpty(urls.Success, c.cfg.SuccessURL); returnURL != "" {
		params["return_url"] = returnURL
	}
	if cancelURL := firstNonEmpty(urls.Cancel, c.cfg.CancelURL); cancelURL != "" {
		params["cancel_url"] = cancelURL
	}
	redirect, err := appendQueryParams(base, params)
	if err != nil {
		return Session{}, fmt.Errorf("cryptopay: build payment url: %w", err)
	}
	return Session{RedirectURL: redirect}, nil
}
