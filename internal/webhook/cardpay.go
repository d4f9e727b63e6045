package webhook

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
)

const cardpayCompletedEvent = "checkout.session.completed"

type cardpayEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID          string `json:"id"`
			AmountTotal *int64 `json:"amount_total"`
			Currency    string `json:"currency"`
			Metadata    struct {
				OrderID string `json:"order_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// normalizeCardpay maps a card-provider event to a settlement confirmation.
// Only completed checkout sessions settle; every other event type is
// acknowledged without action.
func normalizeCardpay(body []byte) (orderstore.Confirmation, bool, error) {
	var event cardpayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return orderstore.Confirmation{}, false, fmt.Errorf("decode cardpay event: %w", err)
	}
	if event.Type != cardpayCompletedEvent {
		return orderstore.Confirmation{}, false, nil
	}
	object := event.Data.Object
	if strings.TrimSpace(object.ID) == "" {
		return orderstore.Confirmation{}, false, fmt.Errorf("cardpay event missing session id")
	}
	orderID, err := parseOrderID(object.Metadata.OrderID)
	if err != nil {
		return orderstore.Confirmation{}, false, err
	}
	return orderstore.Confirmation{
		OrderID:     orderID,
		ExternalID:  object.ID,
		Method:      orderstore.MethodCardpay,
		AmountCents: object.AmountTotal,
		Currency:    object.Currency,
	}, true, nil
}

func parseOrderID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("missing order id")
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed order id %q", trimmed)
	}
	if id <= 0 {
		return 0, fmt.Errorf("order id must be positive, got %d", id)
	}
	return id, nil
}
