package webhook

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
)

type cryptopayEvent struct {
	OrderID       json.RawMessage `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	PaymentID     string          `json:"payment_id"`
	Status        string          `json:"status"`
}

// normalizeCryptopay maps a crypto-provider callback to a settlement
// confirmation. The provider reports no amount or currency, so those integrity
// checks are skipped downstream. Non-success statuses are acknowledged without
// action.
func normalizeCryptopay(body []byte) (orderstore.Confirmation, bool, error) {
	var event cryptopayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return orderstore.Confirmation{}, false, fmt.Errorf("decode cryptopay event: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(event.Status)) {
	case "paid", "success", "confirmed":
	default:
		return orderstore.Confirmation{}, false, nil
	}
	// order_id arrives as either a JSON number or a quoted string.
	rawID := strings.Trim(strings.TrimSpace(string(event.OrderID)), `"`)
	orderID, err := parseOrderID(rawID)
	if err != nil {
		return orderstore.Confirmation{}, false, err
	}
	externalID := strings.TrimSpace(event.TransactionID)
	if externalID == "" {
		externalID = strings.TrimSpace(event.PaymentID)
	}
	if externalID == "" {
		return orderstore.Confirmation{}, false, fmt.Errorf("cryptopay event missing transaction id")
	}
	return orderstore.Confirmation{
		OrderID:    orderID,
		ExternalID: externalID,
		Method:     orderstore.MethodCryptopay,
	}, true, nil
}
