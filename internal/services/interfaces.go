package services

import (
	"context"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
)

// Type aliases keep handler signatures terse without re-exporting domain everywhere.
type (
	// ValidatedCart re-exports the domain validation result.
	ValidatedCart = domain.ValidatedCart
	// SystemHealthReport re-exports the domain health report.
	SystemHealthReport = domain.SystemHealthReport
)

// ValidateCartCommand carries the client-declared cart lines.
type ValidateCartCommand struct {
	Items []domain.CartItem
}

// CreateSessionCommand requests a payment session for a client cart.
type CreateSessionCommand struct {
	Items          []domain.CartItem
	CustomerEmail  string
	IdempotencyKey string
}

// CheckoutSessionResult is returned after a payment session was created.
type CheckoutSessionResult struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
	Cart      domain.ValidatedCart
}

// WebhookOutcome enumerates the terminal states of webhook processing.
type WebhookOutcome string

const (
	// WebhookOutcomeMaterialized indicates a new order was created from the event.
	WebhookOutcomeMaterialized WebhookOutcome = "materialized"
	// WebhookOutcomeDuplicate indicates an order already existed for the payment reference.
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	// WebhookOutcomeIgnored indicates the event type carries no materialization work.
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
	// WebhookOutcomeFailed indicates materialization failed after verification.
	// The HTTP boundary still acknowledges the event; the failure is logged
	// for out-of-band reconciliation.
	WebhookOutcomeFailed WebhookOutcome = "failed"
)

// WebhookResult reports what a verified webhook event amounted to.
type WebhookResult struct {
	Outcome          WebhookOutcome
	EventID          string
	EventType        string
	PaymentReference string
	Order            *domain.Order
	Err              error
}

// OrderCreatedMessage is published on the order events topic after a
// successful materialization.
type OrderCreatedMessage struct {
	OrderID           string    `json:"orderId"`
	OrderNumber       string    `json:"orderNumber"`
	PaymentReference  string    `json:"paymentReference"`
	CheckoutSessionID string    `json:"checkoutSessionId"`
	Currency          string    `json:"currency"`
	Total             float64   `json:"total"`
	CreatedAt         time.Time `json:"createdAt"`
}

// OrderEventPublisher emits order lifecycle events to interested consumers.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, message OrderCreatedMessage) (string, error)
}

// CartValidator revalidates an untrusted client cart against the canonical catalog.
type CartValidator interface {
	Validate(ctx context.Context, cmd ValidateCartCommand) (domain.ValidatedCart, error)
}

// CheckoutService turns a validated cart into an external payment session.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (CheckoutSessionResult, error)
}

// WebhookService verifies gateway notifications and materializes orders.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

// OrderService exposes read access to materialized orders.
type OrderService interface {
	GetByCheckoutSession(ctx context.Context, checkoutSessionID string) (domain.Order, error)
	GetByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error)
}

// SystemService aggregates operational utilities such as health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
