package webhook

import (
	"context"
	"fmt"

	"github.com/MarchenkoRuslan/faberge-egg/config"
	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
	"github.com/MarchenkoRuslan/faberge-egg/internal/settlement"
	"github.com/MarchenkoRuslan/faberge-egg/internal/telemetry"
)

// Settler consumes normalized payment confirmations. Satisfied by
// *settlement.Engine.
type Settler interface {
	Settle(ctx context.Context, conf orderstore.Confirmation) (settlement.Outcome, error)
}

type normalizer func(body []byte) (orderstore.Confirmation, bool, error)

// Ingress authenticates and routes provider callbacks. Authenticated
// business-level rejections are acknowledged so providers stop redelivering;
// only infrastructure failures surface as retryable errors.
type Ingress struct {
	secrets     map[string]string
	normalizers map[string]normalizer
	settler     Settler
	metrics     *telemetry.Metrics
	logger      observability.Logger
}

// NewIngress constructs the callback handler for the closed provider set.
func NewIngress(cfg config.GatewaysConfig, settler Settler, metrics *telemetry.Metrics, logger observability.Logger) *Ingress {
	if logger == nil {
		logger = observability.Log()
	}
	return &Ingress{
		secrets: map[string]string{
			orderstore.MethodCardpay:   cfg.Cardpay.WebhookSecret,
			orderstore.MethodCryptopay: cfg.Cryptopay.WebhookSecret,
		},
		normalizers: map[string]normalizer{
			orderstore.MethodCardpay:   normalizeCardpay,
			orderstore.MethodCryptopay: normalizeCryptopay,
		},
		settler: settler,
		metrics: metrics,
		logger:  logger,
	}
}

// Handle processes one callback delivery. A nil return means the delivery is
// acknowledged (including authenticated business rejections and ignored
// events). Signature verification runs before any payload parsing.
func (i *Ingress) Handle(ctx context.Context, provider, signature string, body []byte) error {
	normalize, ok := i.normalizers[provider]
	if !ok {
		return errs.New(provider, errs.CodeNotFound, errs.WithMessage("unknown payment provider"))
	}

	secret := i.secrets[provider]
	if secret == "" {
		// Unverified mode for local development only.
		i.logger.Error("webhook secret not configured, accepting unverified callback",
			observability.F("provider", provider))
	} else if !VerifySignature(secret, body, signature) {
		i.record(ctx, provider, "invalid_signature")
		return errs.New(provider, errs.CodeAuth, errs.WithMessage("invalid webhook signature"))
	}

	conf, settle, err := normalize(body)
	if err != nil {
		i.record(ctx, provider, "malformed")
		return errs.New(provider, errs.CodeInvalid,
			errs.WithMessage("malformed webhook payload"), errs.WithCause(err))
	}
	if !settle {
		i.record(ctx, provider, "ignored")
		i.logger.Info("webhook acknowledged without settlement",
			observability.F("provider", provider))
		return nil
	}

	outcome, err := i.settler.Settle(ctx, conf)
	if err != nil {
		i.record(ctx, provider, "retryable_error")
		return fmt.Errorf("webhook %s: %w", provider, err)
	}
	i.record(ctx, provider, string(outcome.Result))
	return nil
}

func (i *Ingress) record(ctx context.Context, provider, outcome string) {
	if i.metrics != nil {
		i.metrics.RecordWebhook(ctx, provider, outcome)
	}
}
