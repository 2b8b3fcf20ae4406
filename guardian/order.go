package guardian

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedOrder = errors.New("MalformedOrder")

type LineItem struct {
	SKU      string
	Quantity int64
}

// OrderEvent is the consumed slice of a Shopify orders/create payload.
// Unknown fields are ignored.
type OrderEvent struct {
	ID        string
	CreatedAt time.Time
	LineItems []LineItem
}

// ParseOrderJSON decodes the webhook body. Required fields: id (number or
// string), created_at (ISO-8601), line_items. A null sku stays empty and is
// skipped downstream.
func ParseOrderJSON(body []byte) (OrderEvent, error) {
	var raw struct {
		ID        json.RawMessage `json:"id"`
		CreatedAt string          `json:"created_at"`
		LineItems []struct {
			SKU      *string `json:"sku"`
			Quantity int64   `json:"quantity"`
		} `json:"line_items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrMalformedOrder, err)
	}

	id, err := decodeOrderID(raw.ID)
	if err != nil {
		return OrderEvent{}, err
	}
	if raw.CreatedAt == "" {
		return OrderEvent{}, fmt.Errorf("%w: missing created_at", ErrMalformedOrder)
	}
	createdAt, err := ToUTC(raw.CreatedAt, "UTC")
	if err != nil {
		return OrderEvent{}, fmt.Errorf("%w: created_at: %v", ErrMalformedOrder, err)
	}
	if raw.LineItems == nil {
		return OrderEvent{}, fmt.Errorf("%w: missing line_items", ErrMalformedOrder)
	}

	ev := OrderEvent{ID: id, CreatedAt: createdAt}
	for _, li := range raw.LineItems {
		item := LineItem{Quantity: li.Quantity}
		if li.SKU != nil {
			item.SKU = strings.TrimSpace(*li.SKU)
		}
		ev.LineItems = append(ev.LineItems, item)
	}
	return ev, nil
}

func decodeOrderID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: missing id", ErrMalformedOrder)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: empty id", ErrMalformedOrder)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: id must be a number or string", ErrMalformedOrder)
}
