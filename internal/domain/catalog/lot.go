// Package catalog defines the lot model and its persistence contract.
package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a fixed-supply item divisible into fractions, some sold at a capped
// promotional price.
type Lot struct {
	ID             int64
	Name           string
	Slug           string
	TotalFractions int64
	SpecialCap     int64
	SoldSpecial    int64
	PriceSpecial   decimal.Decimal
	PriceNominal   decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
}

// Remaining returns the number of fractions still sellable at the promotional
// price. Never negative.
func (l Lot) Remaining() int64 {
	remaining := l.SpecialCap - l.SoldSpecial
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Store abstracts read access to the lot catalog. SoldSpecial read through this
// interface may be stale; settlement re-reads under lock.
type Store interface {
	ListActive(ctx context.Context) ([]Lot, error)
	GetActive(ctx context.Context, id int64) (Lot, bool, error)
}
