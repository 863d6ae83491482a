package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/oakmarket/api/internal/domain"
)

// Session metadata keys. The webhook step reconstructs the order from
// these values alone; nothing from the live client request is trusted
// at materialization time.
const (
	metadataKeyItems    = "items"
	metadataKeySubtotal = "subtotal"
	metadataKeyShipping = "shippingCost"
)

type cartMetadataItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"t"`
	Quantity int     `json:"q"`
	Price    float64 `json:"p"`
}

// encodeCartMetadata flattens a validated cart into gateway metadata.
func encodeCartMetadata(cart domain.ValidatedCart) (map[string]string, error) {
	items := make([]cartMetadataItem, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartMetadataItem{
			ID:       item.ProductID,
			Title:    item.Title,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode cart metadata: %w", err)
	}

	return map[string]string{
		metadataKeyItems:    string(encoded),
		metadataKeySubtotal: formatAmount(cart.Subtotal),
		metadataKeyShipping: formatAmount(cart.ShippingCost),
	}, nil
}

// decodeCartMetadata rebuilds order lines from session metadata.
func decodeCartMetadata(metadata map[string]string) ([]domain.OrderItem, float64, float64, error) {
	raw := strings.TrimSpace(metadata[metadataKeyItems])
	if raw == "" {
		return nil, 0, 0, errors.New("cart metadata: items missing")
	}

	var encoded []cartMetadataItem
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, 0, 0, fmt.Errorf("cart metadata: decode items: %w", err)
	}
	if len(encoded) == 0 {
		return nil, 0, 0, errors.New("cart metadata: no items")
	}

	items := make([]domain.OrderItem, len(encoded))
	for i, item := range encoded {
		if strings.TrimSpace(item.ID) == "" || item.Quantity <= 0 {
			return nil, 0, 0, fmt.Errorf("cart metadata: invalid item %d", i)
		}
		items[i] = domain.OrderItem{
			ProductID:       item.ID,
			Title:           item.Title,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.Price,
			LineSubtotal:    item.Price * float64(item.Quantity),
		}
	}

	subtotal, err := parseAmount(metadata[metadataKeySubtotal])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("cart metadata: subtotal: %w", err)
	}
	shipping, err := parseAmount(metadata[metadataKeyShipping])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("cart metadata: shipping: %w", err)
	}
	return items, subtotal, shipping, nil
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func parseAmount(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("missing amount")
	}
	return strconv.ParseFloat(value, 64)
}
