// Package intake validates checkout requests, computes order amounts, and
// opens provider checkout sessions.
package intake

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/gateway"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
	"github.com/MarchenkoRuslan/faberge-egg/internal/telemetry"
)

// Request carries one checkout attempt. ReturnURL and CancelURL are optional
// browser redirect overrides; empty values fall back to provider configuration.
type Request struct {
	UserID        int64
	LotID         int64
	FractionCount int64
	Method        string
	ReturnURL     string
	CancelURL     string
}

// Checkout is the result of a successful order intake: the stored pending
// order plus the provider redirect.
type Checkout struct {
	Order       orderstore.Order
	RedirectURL string
}

// GatewayResolver resolves a payment method tag to its configured provider.
// Satisfied by *gateway.Registry.
type GatewayResolver interface {
	Get(method string) (gateway.Gateway, error)
}

// Service performs order intake. The capacity check here is advisory and reads
// possibly stale counters; settlement re-validates under row locks.
type Service struct {
	lots         catalog.Store
	orders       orderstore.Store
	gateways     GatewayResolver
	minFractions int64
	metrics      *telemetry.Metrics
	logger       observability.Logger
}

// New constructs the intake service. metrics may be nil.
func New(lots catalog.Store, orders orderstore.Store, gateways GatewayResolver, minFractions int64, metrics *telemetry.Metrics, logger observability.Logger) *Service {
	if minFractions < 1 {
		minFractions = 1
	}
	if logger == nil {
		logger = observability.Log()
	}
	return &Service{
		lots:         lots,
		orders:       orders,
		gateways:     gateways,
		minFractions: minFractions,
		metrics:      metrics,
		logger:       logger,
	}
}

// CreateOrder validates the request, inserts a pending order, and opens a
// checkout session. A gateway failure deletes the pending row so no orphan
// order survives a failed checkout.
func (s *Service) CreateOrder(ctx context.Context, req Request) (Checkout, error) {
	gw, err := s.gateways.Get(req.Method)
	if err != nil {
		return Checkout{}, err
	}

	lot, ok, err := s.lots.GetActive(ctx, req.LotID)
	if err != nil {
		return Checkout{}, fmt.Errorf("intake: load lot %d: %w", req.LotID, err)
	}
	if !ok {
		return Checkout{}, errs.New(req.Method, errs.CodeNotFound, errs.WithMessage("lot not found"))
	}
	if req.FractionCount < s.minFractions {
		return Checkout{}, errs.New(req.Method, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("minimum purchase is %d fractions", s.minFractions)))
	}
	if req.FractionCount > lot.Remaining() {
		return Checkout{}, errs.New(req.Method, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("only %d fractions available", lot.Remaining())),
			errs.WithCanonicalCode(errs.CanonicalCapacityExceeded))
	}

	order, err := s.orders.CreateOrder(ctx, orderstore.NewOrder{
		UserID:        req.UserID,
		LotID:         lot.ID,
		FractionCount: req.FractionCount,
		AmountCents:   AmountCents(lot.PriceSpecial, req.FractionCount),
		PaymentMethod: req.Method,
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("intake: create order: %w", err)
	}

	session, err := gw.CreateCheckout(ctx, order, lot, gateway.ReturnURLs{Success: req.ReturnURL, Cancel: req.CancelURL})
	if err != nil {
		if delErr := s.orders.DeleteOrder(ctx, order.ID); delErr != nil {
			s.logger.Error("delete order after checkout failure",
				observability.F("order_id", order.ID),
				observability.F("error", delErr))
		}
		return Checkout{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated(ctx, req.Method)
	}
	s.logger.Info("order created",
		observability.F("order_id", order.ID),
		observability.F("lot_id", lot.ID),
		observability.F("method", req.Method),
		observability.F("amount_cents", order.AmountCents))
	return Checkout{Order: order, RedirectURL: session.RedirectURL}, nil
}

// AmountCents converts a unit price and fraction count to integer cents,
// rounding half away from zero. 0.03 EUR x 1000 fractions is exactly 3000.
func AmountCents(unitPrice decimal.Decimal, count int64) int64 {
	return unitPrice.
		Mul(decimal.NewFromInt(count)).
		Mul(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
