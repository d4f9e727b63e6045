package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// decimalFromText parses a NUMERIC column selected with ::text. Prices travel
// as text so the database stays the source of truth for scale.
func decimalFromText(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("empty numeric value")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return d, nil
}
