package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
)

// OrderStore persists order lifecycle information.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore constructs an OrderStore backed by the provided pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const (
	orderInsertSQL = `
INSERT INTO orders (
    user_id,
    lot_id,
    fraction_count,
    amount_cents,
    payment_method,
    status,
    created_at
)
VALUES (
    @user_id,
    @lot_id,
    @fraction_count,
    @amount_cents,
    @payment_method,
    'pending',
    NOW()
)
RETURNING
    id,
    user_id,
    lot_id,
    fraction_count,
    amount_cents,
    payment_method,
    status,
    external_payment_id,
    created_at;
`

	orderDeletePendingSQL = `
DELETE FROM orders
WHERE id = @id
  AND status = 'pending';
`

	orderSelectBase = `
SELECT
    id,
    user_id,
    lot_id,
    fraction_count,
    amount_cents,
    payment_method,
    status,
    external_payment_id,
    created_at
FROM orders
`

	orderSelectForUserSQL = orderSelectBase + `
WHERE id = @id
  AND user_id = @user_id;
`

	orderListForUserSQL = orderSelectBase + `
WHERE user_id = @user_id
ORDER BY created_at DESC, id DESC;
`

	orderLockSQL = orderSelectBase + `
WHERE id = @id
FOR UPDATE;
`

	orderMarkPaidSQL = `
UPDATE orders
SET status = 'paid',
    external_payment_id = @external_id
WHERE id = @id
  AND status = 'pending';
`

	lotLockSQL = lotSelectBase + `
WHERE id = @id
FOR UPDATE;
`

	lotAddSoldSQL = `
UPDATE lots
SET sold_special = sold_special + @count
WHERE id = @id;
`
)

func (s *OrderStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("order store: nil pool")
	}
	return s.pool, nil
}

// CreateOrder inserts a pending order and returns the stored row.
func (s *OrderStore) CreateOrder(ctx context.Context, order orderstore.NewOrder) (orderstore.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return orderstore.Order{}, err
	}
	if order.FractionCount <= 0 {
		return orderstore.Order{}, fmt.Errorf("order store: fraction count must be positive")
	}
	args := pgx.NamedArgs{
		"user_id":        order.UserID,
		"lot_id":         order.LotID,
		"fraction_count": order.FractionCount,
		"amount_cents":   order.AmountCents,
		"payment_method": order.PaymentMethod,
	}
	row := pool.QueryRow(ctx, orderInsertSQL, args)
	stored, err := scanOrder(row)
	if err != nil {
		return orderstore.Order{}, fmt.Errorf("order store: insert order: %w", err)
	}
	return stored, nil
}

// DeleteOrder removes a pending order. Paid orders are never deleted.
func (s *OrderStore) DeleteOrder(ctx context.Context, id int64) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, orderDeletePendingSQL, pgx.NamedArgs{"id": id}); err != nil {
		return fmt.Errorf("order store: delete order: %w", err)
	}
	return nil
}

// GetOrderForUser fetches an order scoped to its owner.
func (s *OrderStore) GetOrderForUser(ctx context.Context, id, userID int64) (orderstore.Order, bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return orderstore.Order{}, false, err
	}
	row := pool.QueryRow(ctx, orderSelectForUserSQL, pgx.NamedArgs{"id": id, "user_id": userID})
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderstore.Order{}, false, nil
	}
	if err != nil {
		return orderstore.Order{}, false, fmt.Errorf("order store: get order: %w", err)
	}
	return order, true, nil
}

// ListUserOrders returns the user's orders, newest first.
func (s *OrderStore) ListUserOrders(ctx context.Context, userID int64) ([]orderstore.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, orderListForUserSQL, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("order store: list orders: %w", err)
	}
	defer rows.Close()

	var orders []orderstore.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order store: scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order store: iterate orders: %w", err)
	}
	return orders, nil
}

// WithSettlementTx executes the supplied callback within a database
// transaction. Any error from the callback rolls the transaction back in full.
func (s *OrderStore) WithSettlementTx(ctx context.Context, fn func(context.Context, orderstore.SettlementTx) error) error {
	if fn == nil {
		return fmt.Errorf("order store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("order store: begin tx: %w", err)
	}
	runErr := fn(ctx, &settlementTx{tx: tx})
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("order store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("order store: commit tx: %w", err)
	}
	return nil
}

// settlementTx implements the row-locking settlement contract on a pgx
// transaction. LockOrder must be called before LockLot so all settlement paths
// agree on lock acquisition order.
type settlementTx struct {
	tx pgx.Tx
}

func (t *settlementTx) LockOrder(ctx context.Context, orderID int64) (orderstore.Order, bool, error) {
	if t == nil || t.tx == nil {
		return orderstore.Order{}, false, fmt.Errorf("order store: nil transaction")
	}
	row := t.tx.QueryRow(ctx, orderLockSQL, pgx.NamedArgs{"id": orderID})
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderstore.Order{}, false, nil
	}
	if err != nil {
		return orderstore.Order{}, false, fmt.Errorf("order store: lock order: %w", err)
	}
	return order, true, nil
}

func (t *settlementTx) LockLot(ctx context.Context, lotID int64) (catalog.Lot, bool, error) {
	if t == nil || t.tx == nil {
		return catalog.Lot{}, false, fmt.Errorf("order store: nil transaction")
	}
	row := t.tx.QueryRow(ctx, lotLockSQL, pgx.NamedArgs{"id": lotID})
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Lot{}, false, nil
	}
	if err != nil {
		return catalog.Lot{}, false, fmt.Errorf("order store: lock lot: %w", err)
	}
	return lot, true, nil
}

func (t *settlementTx) MarkPaid(ctx context.Context, orderID int64, externalID string) error {
	if t == nil || t.tx == nil {
		return fmt.Errorf("order store: nil transaction")
	}
	tag, err := t.tx.Exec(ctx, orderMarkPaidSQL, pgx.NamedArgs{"id": orderID, "external_id": externalID})
	if err != nil {
		return fmt.Errorf("order store: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order store: mark paid: order %d not pending", orderID)
	}
	return nil
}

func (t *settlementTx) AddSoldFractions(ctx context.Context, lotID, count int64) error {
	if t == nil || t.tx == nil {
		return fmt.Errorf("order store: nil transaction")
	}
	if count <= 0 {
		return fmt.Errorf("order store: sold fraction count must be positive")
	}
	tag, err := t.tx.Exec(ctx, lotAddSoldSQL, pgx.NamedArgs{"id": lotID, "count": count})
	if err != nil {
		return fmt.Errorf("order store: add sold fractions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order store: add sold fractions: lot %d missing", lotID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (orderstore.Order, error) {
	var (
		order      orderstore.Order
		status     string
		externalID pgtype.Text
	)
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.LotID,
		&order.FractionCount,
		&order.AmountCents,
		&order.PaymentMethod,
		&status,
		&externalID,
		&order.CreatedAt,
	); err != nil {
		return orderstore.Order{}, err
	}
	order.Status = orderstore.Status(status)
	if externalID.Valid {
		order.ExternalPaymentID = externalID.String
	}
	return order, nil
}

var _ orderstore.Store = (*OrderStore)(nil)
