// Package settlement transitions orders from pending to paid and debits lot
// capacity. It is the only component allowed to mutate Lot.SoldSpecial.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/outboxstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
	"github.com/MarchenkoRuslan/faberge-egg/internal/telemetry"
)

// Result names the settlement outcome classes.
type Result string

const (
	// ResultSettled marks a successful pending -> paid transition.
	ResultSettled Result = "settled"
	// ResultAlreadySettled marks the idempotent short-circuit for an order that
	// is already paid. A success, not an error.
	ResultAlreadySettled Result = "already_settled"
	// ResultRejected marks a confirmation refused without mutating any state.
	ResultRejected Result = "rejected"
)

// Outcome is the settlement verdict for one confirmation. Reason is set only
// for rejections.
type Outcome struct {
	Result Result
	Reason errs.CanonicalCode
}

// Settled reports whether the confirmation transitioned the order.
func (o Outcome) Settled() bool { return o.Result == ResultSettled }

const eurCurrency = "EUR"

// handled signals a business verdict that must roll the transaction back
// without being surfaced as an infrastructure failure.
var handled = errors.New("settlement: handled")

// Engine serializes payment confirmations against the ledger store.
//
// The step ordering inside Settle is load-bearing: the Order row lock is taken
// before any check, and the Lot row lock is always taken after the Order lock
// so every path locking both rows agrees on lock order.
type Engine struct {
	orders  orderstore.Store
	outbox  outboxstore.Store
	metrics *telemetry.Metrics
	logger  observability.Logger
}

// New constructs a settlement engine. outbox and metrics may be nil.
func New(orders orderstore.Store, outbox outboxstore.Store, metrics *telemetry.Metrics, logger observability.Logger) *Engine {
	if logger == nil {
		logger = observability.Log()
	}
	return &Engine{orders: orders, outbox: outbox, metrics: metrics, logger: logger}
}

// Settle consumes one normalized payment confirmation.
//
// A returned error means the verdict could not be established (transaction
// failure, lock timeout); callers should surface a retryable failure so the
// provider redelivers — Settle is idempotent under redelivery. A nil error
// always carries a definitive Outcome; every rejection leaves both rows
// untouched.
func (e *Engine) Settle(ctx context.Context, conf orderstore.Confirmation) (Outcome, error) {
	var (
		out   Outcome
		order orderstore.Order
	)

	err := e.orders.WithSettlementTx(ctx, func(ctx context.Context, tx orderstore.SettlementTx) error {
		locked, ok, err := tx.LockOrder(ctx, conf.OrderID)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", conf.OrderID, err)
		}
		if !ok {
			out = reject(errs.CanonicalOrderNotFound)
			return handled
		}
		order = locked

		if order.PaymentMethod != conf.Method {
			out = reject(errs.CanonicalMethodMismatch)
			return handled
		}
		if order.Status == orderstore.StatusPaid {
			out = Outcome{Result: ResultAlreadySettled}
			return handled
		}
		if conf.AmountCents != nil && *conf.AmountCents != order.AmountCents {
			out = reject(errs.CanonicalAmountMismatch)
			return handled
		}
		if conf.Currency != "" && !strings.EqualFold(conf.Currency, eurCurrency) {
			out = reject(errs.CanonicalCurrencyMismatch)
			return handled
		}

		lot, ok, err := tx.LockLot(ctx, order.LotID)
		if err != nil {
			return fmt.Errorf("lock lot %d: %w", order.LotID, err)
		}
		if !ok {
			out = reject(errs.CanonicalLotNotFound)
			return handled
		}
		if order.FractionCount > lot.Remaining() {
			out = reject(errs.CanonicalCapacityExceeded)
			return handled
		}

		if err := tx.MarkPaid(ctx, order.ID, conf.ExternalID); err != nil {
			return fmt.Errorf("mark order %d paid: %w", order.ID, err)
		}
		if err := tx.AddSoldFractions(ctx, order.LotID, order.FractionCount); err != nil {
			return fmt.Errorf("debit lot %d capacity: %w", order.LotID, err)
		}
		out = Outcome{Result: ResultSettled}
		return nil
	})

	switch {
	case err == nil:
		e.recordOutcome(ctx, conf, out)
		e.publishPaid(ctx, order, conf)
		return out, nil
	case errors.Is(err, handled):
		e.recordOutcome(ctx, conf, out)
		return out, nil
	default:
		return Outcome{}, fmt.Errorf("settlement: %w", err)
	}
}

func reject(reason errs.CanonicalCode) Outcome {
	return Outcome{Result: ResultRejected, Reason: reason}
}

func (e *Engine) recordOutcome(ctx context.Context, conf orderstore.Confirmation, out Outcome) {
	if e.metrics != nil {
		e.metrics.RecordSettlement(ctx, conf.Method, string(out.Result), string(out.Reason))
	}
	switch out.Result {
	case ResultSettled:
		e.logger.Info("order settled",
			observability.F("order_id", conf.OrderID),
			observability.F("method", conf.Method),
			observability.F("external_id", conf.ExternalID))
	case ResultAlreadySettled:
		e.logger.Info("order already settled, skipping",
			observability.F("order_id", conf.OrderID),
			observability.F("method", conf.Method))
	case ResultRejected:
		e.logger.Error("settlement rejected",
			observability.F("order_id", conf.OrderID),
			observability.F("method", conf.Method),
			observability.F("reason", string(out.Reason)))
	}
}

// publishPaid enqueues the order.paid event for downstream consumers. The
// outbox is integration plumbing; a failed enqueue is logged and never affects
// the settlement verdict.
func (e *Engine) publishPaid(ctx context.Context, order orderstore.Order, conf orderstore.Confirmation) {
	if e.outbox == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"order_id":       order.ID,
		"lot_id":         order.LotID,
		"fraction_count": order.FractionCount,
		"amount_cents":   order.AmountCents,
		"method":         order.PaymentMethod,
		"external_id":    conf.ExternalID,
	})
	if err != nil {
		e.logger.Error("encode order.paid event", observability.F("order_id", order.ID), observability.F("error", err))
		return
	}
	_, err = e.outbox.Enqueue(ctx, outboxstore.Event{
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", order.ID),
		EventType:     "order.paid",
		Payload:       payload,
		AvailableAt:   time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("enqueue order.paid event", observability.F("order_id", order.ID), observability.F("error", err))
	}
}
