package payments

import (
	"context"
	"errors"
	"time"
)

// EventType enumerates the payment events the gateway can surface.
type EventType string

const (
	// EventCheckoutCompleted indicates the customer finished checkout and the payment settled.
	EventCheckoutCompleted EventType = "checkout.completed"
	// EventPaymentFailed indicates the PSP reports a failed payment attempt.
	EventPaymentFailed EventType = "payment.failed"
	// EventUnknown covers event types the gateway does not act on.
	EventUnknown EventType = "unknown"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrGateway is returned when the PSP rejects or fails a checkout session request.
	// Callers may retry.
	ErrGateway = errors.New("payments: gateway request failed")
	// ErrSessionCreation is returned when the PSP accepts the request but the
	// session is unusable (no redirect URL). Not retryable.
	ErrSessionCreation = errors.New("payments: checkout session unusable")
)

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name       string
	SKU        string
	Quantity   int64
	UnitAmount int64
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
// All amounts are expressed in the currency's minor unit.
type CheckoutSessionRequest struct {
	Currency         string
	SuccessURL       string
	CancelURL        string
	CustomerEmail    string
	ShippingAmount   int64
	AllowedCountries []string
	Metadata         map[string]string
	IdempotencyKey   string
	Items            []CheckoutLineItem
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// EventAddress carries the shipping address reported by the PSP, when collected.
type EventAddress struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// PaymentEvent normalises a verified webhook notification.
type PaymentEvent struct {
	ID                string
	Type              EventType
	RawType           string
	PaymentReference  string
	CheckoutSessionID string
	AmountTotal       int64
	Currency          string
	CustomerName      string
	CustomerEmail     string
	ShippingAddress   *EventAddress
	FailureMessage    string
	Metadata          map[string]string
	CreatedAt         time.Time
}

// Gateway defines the contract for PSP adapters to implement.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	VerifyEvent(payload []byte, signature string) (PaymentEvent, error)
}
