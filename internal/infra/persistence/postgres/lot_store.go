package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
)

// LotStore exposes read access to the lot catalog.
type LotStore struct {
	pool *pgxpool.Pool
}

// NewLotStore constructs a LotStore backed by the provided pool.
func NewLotStore(pool *pgxpool.Pool) *LotStore {
	return &LotStore{pool: pool}
}

const (
	lotSelectBase = `
SELECT
    id,
    name,
    slug,
    total_fractions,
    special_cap,
    sold_special,
    price_special::text,
    price_nominal::text,
    is_active,
    created_at
FROM lots
`

	lotListActiveSQL = lotSelectBase + `
WHERE is_active = TRUE
ORDER BY id ASC;
`

	lotGetActiveSQL = lotSelectBase + `
WHERE id = @id
  AND is_active = TRUE;
`
)

// ListActive returns every purchasable lot.
func (s *LotStore) ListActive(ctx context.Context) ([]catalog.Lot, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("lot store: nil pool")
	}
	rows, err := s.pool.Query(ctx, lotListActiveSQL)
	if err != nil {
		return nil, fmt.Errorf("lot store: list lots: %w", err)
	}
	defer rows.Close()

	var lots []catalog.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("lot store: scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lot store: iterate lots: %w", err)
	}
	return lots, nil
}

// GetActive fetches one purchasable lot by identifier.
func (s *LotStore) GetActive(ctx context.Context, id int64) (catalog.Lot, bool, error) {
	if s.pool == nil {
		return catalog.Lot{}, false, fmt.Errorf("lot store: nil pool")
	}
	row := s.pool.QueryRow(ctx, lotGetActiveSQL, pgx.NamedArgs{"id": id})
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Lot{}, false, nil
	}
	if err != nil {
		return catalog.Lot{}, false, fmt.Errorf("lot store: get lot: %w", err)
	}
	return lot, true, nil
}

func scanLot(row rowScanner) (catalog.Lot, error) {
	var (
		lot          catalog.Lot
		priceSpecial string
		priceNominal string
	)
	if err := row.Scan(
		&lot.ID,
		&lot.Name,
		&lot.Slug,
		&lot.TotalFractions,
		&lot.SpecialCap,
		&lot.SoldSpecial,
		&priceSpecial,
		&priceNominal,
		&lot.IsActive,
		&lot.CreatedAt,
	); err != nil {
		return catalog.Lot{}, err
	}
	var err error
	if lot.PriceSpecial, err = decimalFromText(priceSpecial); err != nil {
		return catalog.Lot{}, fmt.Errorf("price_special: %w", err)
	}
	if lot.PriceNominal, err = decimalFromText(priceNominal); err != nil {
		return catalog.Lot{}, fmt.Errorf("price_nominal: %w", err)
	}
	return lot, nil
}

var _ catalog.Store = (*LotStore)(nil)
