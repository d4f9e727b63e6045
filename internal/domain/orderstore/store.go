// Package orderstore defines the order model and the persistence contracts the
// settlement engine relies on.
package orderstore

import (
	"context"
	"time"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
)

// Status captures the order lifecycle. The only transition in scope is
// pending -> paid, performed exactly once by the settlement engine.
type Status string

const (
	// StatusPending marks an order awaiting payment confirmation.
	StatusPending Status = "pending"
	// StatusPaid marks a settled order. Terminal.
	StatusPaid Status = "paid"
)

// Payment method tags. The provider set is closed and audited.
const (
	MethodCardpay   = "cardpay"
	MethodCryptopay = "cryptopay"
)

// Order is a claim of FractionCount fractions against a lot. The claim becomes
// durable only at settlement.
type Order struct {
	ID                int64
	UserID            int64
	LotID             int64
	FractionCount     int64
	AmountCents       int64
	PaymentMethod     string
	Status            Status
	ExternalPaymentID string
	CreatedAt         time.Time
}

// NewOrder carries the fields computed by order intake for insertion.
type NewOrder struct {
	UserID        int64
	LotID         int64
	FractionCount int64
	AmountCents   int64
	PaymentMethod string
}

// Confirmation is the normalized payment-confirmation event consumed by the
// settlement engine. AmountCents and Currency are optional: providers that do
// not report them skip the corresponding integrity checks.
type Confirmation struct {
	OrderID     int64
	ExternalID  string
	Method      string
	AmountCents *int64
	Currency    string
}

// SettlementTx exposes the row-locking primitives settlement requires. All
// reads acquire exclusive row locks (SELECT ... FOR UPDATE); mutations are
// visible only if the enclosing transaction commits.
type SettlementTx interface {
	LockOrder(ctx context.Context, orderID int64) (Order, bool, error)
	LockLot(ctx context.Context, lotID int64) (catalog.Lot, bool, error)
	MarkPaid(ctx context.Context, orderID int64, externalID string) error
	AddSoldFractions(ctx context.Context, lotID, count int64) error
}

// Store abstracts order persistence.
type Store interface {
	CreateOrder(ctx context.Context, order NewOrder) (Order, error)
	// DeleteOrder removes a pending order whose checkout-session creation
	// failed, so a gateway failure never leaves an orphan row.
	DeleteOrder(ctx context.Context, id int64) error
	GetOrderForUser(ctx context.Context, id, userID int64) (Order, bool, error)
	ListUserOrders(ctx context.Context, userID int64) ([]Order, error)
	// WithSettlementTx runs fn inside a single database transaction. Any error
	// from fn rolls the transaction back in full.
	WithSettlementTx(ctx context.Context, fn func(context.Context, SettlementTx) error) error
}
