package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds the allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type cartItemPayload struct {
	ProductID    string  `json:"productId"`
	Title        string  `json:"title"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	LineSubtotal float64 `json:"lineSubtotal"`
}

type cartPayload struct {
	Items        []cartItemPayload `json:"items"`
	Subtotal     float64           `json:"subtotal"`
	ShippingCost float64           `json:"shippingCost"`
	TaxAmount    float64           `json:"taxAmount"`
	Total        float64           `json:"total"`
	IsValid      bool              `json:"isValid"`
	Errors       []string          `json:"errors"`
}

func newCartPayload(cart domain.ValidatedCart) cartPayload {
	items := make([]cartItemPayload, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemPayload{
			ProductID:    item.ProductID,
			Title:        item.Title,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			LineSubtotal: item.LineSubtotal(),
		}
	}
	errs := cart.Errors
	if errs == nil {
		errs = []string{}
	}
	return cartPayload{
		Items:        items,
		Subtotal:     cart.Subtotal,
		ShippingCost: cart.ShippingCost,
		TaxAmount:    cart.TaxAmount,
		Total:        cart.Total,
		IsValid:      cart.IsValid,
		Errors:       errs,
	}
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderItemPayload struct {
	ProductID       string  `json:"productId"`
	Title           string  `json:"title"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"priceAtPurchase"`
	LineSubtotal    float64 `json:"lineSubtotal"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"orderNumber"`
	PaymentReference  string             `json:"paymentReference"`
	CheckoutSessionID string             `json:"checkoutSessionId"`
	Customer          customerPayload    `json:"customer"`
	ShippingAddress   *addressPayload    `json:"shippingAddress,omitempty"`
	BillingAddress    *addressPayload    `json:"billingAddress,omitempty"`
	Currency          string             `json:"currency"`
	Subtotal          float64            `json:"subtotal"`
	ShippingCost      float64            `json:"shippingCost"`
	TaxAmount         float64            `json:"taxAmount"`
	Total             float64            `json:"total"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"paymentStatus"`
	Items             []orderItemPayload `json:"items"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
}

func newOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemPayload{
			ProductID:       item.ProductID,
			Title:           item.Title,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			LineSubtotal:    item.LineSubtotal,
		}
	}
	return orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		PaymentReference:  order.PaymentReference,
		CheckoutSessionID: order.CheckoutSessionID,
		Customer:          customerPayload{Name: order.Customer.Name, Email: order.Customer.Email},
		ShippingAddress:   newAddressPayload(order.ShippingAddress),
		BillingAddress:    newAddressPayload(order.BillingAddress),
		Currency:          order.Currency,
		Subtotal:          order.Subtotal,
		ShippingCost:      order.ShippingCost,
		TaxAmount:         order.TaxAmount,
		Total:             order.Total,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		Items:             items,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
}

func newAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}
