package domain

import (
	"math"
	"time"
)

// CartItem is a client-submitted cart line. The declared price is
// informational only and never used for any computation.
type CartItem struct {
	ProductID     string
	DeclaredPrice float64
	Quantity      int
}

// ValidatedCartItem is a cart line whose price and availability were
// re-resolved against the canonical product record.
type ValidatedCartItem struct {
	ProductID string
	Title     string
	UnitPrice float64
	Quantity  int
}

// LineSubtotal returns the canonical price multiplied by quantity.
func (i ValidatedCartItem) LineSubtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// ValidatedCart is the result of revalidating a client cart. It is
// created fresh per checkout attempt and discarded once a payment
// session has been created from it.
type ValidatedCart struct {
	Items        []ValidatedCartItem
	Subtotal     float64
	ShippingCost float64
	TaxAmount    float64
	Total        float64
	IsValid      bool
	Errors       []string
}

// Product is the canonical catalog record carts are validated against.
type Product struct {
	ID        string
	Title     string
	UnitPrice float64
	Available int
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStatus enumerates fulfillment lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was materialized and awaits fulfillment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been shipped.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order has been delivered.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled indicates the order has been canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// PaymentStatus enumerates payment states recorded on orders.
type PaymentStatus string

const (
	// PaymentStatusPaid indicates the gateway confirmed the payment.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefunded indicates the payment was refunded after capture.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// CustomerInfo captures buyer contact details collected by the gateway.
type CustomerInfo struct {
	Name  string
	Email string
}

// Address is a postal address collected during checkout.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order is the durable record created exactly once per payment
// reference by the webhook materializer. Checkout never mutates an
// order after creation; only fulfillment transitions do.
type Order struct {
	ID                string
	OrderNumber       string
	PaymentReference  string
	CheckoutSessionID string
	Customer          CustomerInfo
	ShippingAddress   *Address
	BillingAddress    *Address
	Currency          string
	Subtotal          float64
	ShippingCost      float64
	TaxAmount         float64
	Total             float64
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem is an order line frozen at purchase time. Created
// atomically with its order and immutable afterwards.
type OrderItem struct {
	ProductID       string
	Title           string
	Quantity        int
	PriceAtPurchase float64
	LineSubtotal    float64
}

// Cents converts a decimal currency amount to integer minor units using
// standard rounding, never truncation.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// AmountFromCents converts integer minor units back to a decimal amount.
func AmountFromCents(cents int64) float64 {
	return float64(cents) / 100
}
