// Package gateway integrates the payment providers used at checkout. The
// provider set is closed: every supported method is registered explicitly from
// configuration.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MarchenkoRuslan/faberge-egg/config"
	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
)

// Session is the checkout handle returned by a provider. ExternalID may be
// empty for providers that only assign an identifier at confirmation time.
type Session struct {
	ExternalID  string
	RedirectURL string
}

// ReturnURLs carries the per-request browser redirect targets. Empty fields
// fall back to the provider's configured defaults.
type ReturnURLs struct {
	Success string
	Cancel  string
}

// Gateway creates provider checkout sessions for pending orders.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, order orderstore.Order, lot catalog.Lot, urls ReturnURLs) (Session, error)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Registry holds the configured providers keyed by payment method tag.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds the provider registry from configuration. Providers
// without credentials are left unregistered and surface as unavailable.
func NewRegistry(cfg config.GatewaysConfig, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.Log()
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}

	gateways := make(map[string]Gateway)
	if cfg.Cardpay.Enabled() {
		gateways[orderstore.MethodCardpay] = NewCardpay(cfg.Cardpay, httpClient, logger)
	} else {
		logger.Info("cardpay gateway disabled, no secret key configured")
	}
	if cfg.Cryptopay.Enabled() {
		gateways[orderstore.MethodCryptopay] = NewCryptopay(cfg.Cryptopay, logger)
	} else {
		logger.Info("cryptopay gateway disabled, no api key configured")
	}
	return &Registry{gateways: gateways}
}

// Get resolves the gateway for a payment method tag.
func (r *Registry) Get(method string) (Gateway, error) {
	if method != orderstore.MethodCardpay && method != orderstore.MethodCryptopay {
		return nil, errs.New(method, errs.CodeUnsupportedMethod,
			errs.WithMessage("unknown payment method"))
	}
	gw, ok := r.gateways[method]
	if !ok {
		return nil, errs.New(method, errs.CodeGatewayUnavailable,
			errs.WithMessage("payment provider not configured"))
	}
	return gw, nil
}

// Methods lists the payment methods with a configured provider.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.gateways))
	for _, method := range []string{orderstore.MethodCardpay, orderstore.MethodCryptopay} {
		if _, ok := r.gateways[method]; ok {
			out = append(out, method)
		}
	}
	return out
}
