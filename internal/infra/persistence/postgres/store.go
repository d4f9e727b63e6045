// Package postgres provides the PostgreSQL-backed repositories for the
// marketplace: lots, orders, users, and the settlement-event outbox.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarchenkoRuslan/faberge-egg/internal/infra/persistence"
)

// Store bundles the PostgreSQL repositories behind a single constructor.
type Store struct {
	*persistence.Store

	Lots   *LotStore
	Orders *OrderStore
	Users  *UserStore
	Outbox *OutboxStore
}

// New constructs a PostgreSQL persistence store and its repositories.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Store:  persistence.NewStore(pool),
		Lots:   NewLotStore(pool),
		Orders: NewOrderStore(pool),
		Users:  NewUserStore(pool),
		Outbox: NewOutboxStore(pool),
	}
}
