package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/payments"
	"github.com/oakmarket/api/internal/repositories"
)

// ErrWebhookSignature indicates the webhook payload failed signature
// verification and must not be acknowledged.
var ErrWebhookSignature = errors.New("webhook: signature verification failed")

// webhookGateway abstracts payments.Gateway for easier testing.
type webhookGateway interface {
	VerifyEvent(payload []byte, signature string) (payments.PaymentEvent, error)
}

// WebhookServiceDeps wires the dependencies required by the webhook service.
type WebhookServiceDeps struct {
	Gateway     webhookGateway
	Orders      repositories.OrderRepository
	Publisher   OrderEventPublisher
	IDGenerator func() string
	OrderNumber func(now time.Time) string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	gateway     webhookGateway
	orders      repositories.OrderRepository
	publisher   OrderEventPublisher
	newID       func() string
	orderNumber func(now time.Time) string
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

var _ WebhookService = (*webhookService)(nil)

// NewWebhookService constructs a WebhookService validating required dependencies.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("webhook service: payment gateway is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order repository is required")
	}

	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	orderNumber := deps.OrderNumber
	if orderNumber == nil {
		orderNumber = defaultOrderNumber
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		gateway:     deps.Gateway,
		orders:      deps.Orders,
		publisher:   deps.Publisher,
		newID:       newID,
		orderNumber: orderNumber,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleEvent verifies the payload and materializes an order when the
// event reports a completed checkout. Every verified event reaches a
// terminal outcome; only signature failures return an error.
func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if s == nil || s.gateway == nil || s.orders == nil {
		return WebhookResult{}, errors.New("webhook service: not initialised")
	}

	event, err := s.gateway.VerifyEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
		}
		// Verified envelope with an undecodable object. Acknowledged,
		// but kept visible for reconciliation.
		s.logger(ctx, "webhook.decode_failed", map[string]any{"error": err.Error()})
		return WebhookResult{Outcome: WebhookOutcomeFailed, Err: err}, nil
	}

	result := WebhookResult{
		EventID:          event.ID,
		EventType:        event.RawType,
		PaymentReference: event.PaymentReference,
	}

	switch event.Type {
	case payments.EventCheckoutCompleted:
		return s.materialize(ctx, event, result), nil
	case payments.EventPaymentFailed:
		s.logger(ctx, "webhook.payment_failed", map[string]any{
			"eventId":          event.ID,
			"paymentReference": event.PaymentReference,
			"failure":          event.FailureMessage,
		})
		result.Outcome = WebhookOutcomeIgnored
		return result, nil
	default:
		s.logger(ctx, "webhook.ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.RawType,
		})
		result.Outcome = WebhookOutcomeIgnored
		return result, nil
	}
}

func (s *webhookService) materialize(ctx context.Context, event payments.PaymentEvent, result WebhookResult) WebhookResult {
	paymentReference := strings.TrimSpace(event.PaymentReference)
	if paymentReference == "" {
		result.Outcome = WebhookOutcomeFailed
		result.Err = errors.New("webhook: completed event carries no payment reference")
		s.logger(ctx, "webhook.materialize_failed", map[string]any{
			"eventId": event.ID,
			"error":   result.Err.Error(),
		})
		return result
	}

	items, subtotal, shipping, err := decodeCartMetadata(event.Metadata)
	if err != nil {
		result.Outcome = WebhookOutcomeFailed
		result.Err = err
		s.logger(ctx, "webhook.materialize_failed", map[string]any{
			"eventId":          event.ID,
			"paymentReference": paymentReference,
			"error":            err.Error(),
		})
		return result
	}

	now := s.now()
	total := domain.AmountFromCents(event.AmountTotal)
	tax := total - subtotal - shipping
	if math.Abs(tax) < 0.01 {
		tax = 0
	}

	order := domain.Order{
		ID:                s.newID(),
		OrderNumber:       s.orderNumber(now),
		PaymentReference:  paymentReference,
		CheckoutSessionID: event.CheckoutSessionID,
		Customer: domain.CustomerInfo{
			Name:  strings.TrimSpace(event.CustomerName),
			Email: strings.TrimSpace(event.CustomerEmail),
		},
		ShippingAddress: addressFromEvent(event.ShippingAddress),
		Currency:        strings.ToLower(strings.TrimSpace(event.Currency)),
		Subtotal:        subtotal,
		ShippingCost:    shipping,
		TaxAmount:       tax,
		Total:           total,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPaid,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.CreatePaid(ctx, order); err != nil {
		if errors.Is(err, repositories.ErrOrderExists) {
			// Redelivered event. The first materialization won.
			s.logger(ctx, "webhook.duplicate", map[string]any{
				"eventId":          event.ID,
				"paymentReference": paymentReference,
			})
			result.Outcome = WebhookOutcomeDuplicate
			return result
		}
		result.Outcome = WebhookOutcomeFailed
		result.Err = err
		s.logger(ctx, "webhook.materialize_failed", map[string]any{
			"eventId":          event.ID,
			"eventType":        event.RawType,
			"paymentReference": paymentReference,
			"error":            err.Error(),
		})
		return result
	}

	s.logger(ctx, "webhook.materialized", map[string]any{
		"eventId":          event.ID,
		"paymentReference": paymentReference,
		"orderId":          order.ID,
		"orderNumber":      order.OrderNumber,
	})

	s.publishOrderCreated(ctx, order)

	result.Outcome = WebhookOutcomeMaterialized
	result.Order = &order
	return result
}

func (s *webhookService) publishOrderCreated(ctx context.Context, order domain.Order) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishOrderCreated(ctx, OrderCreatedMessage{
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		PaymentReference:  order.PaymentReference,
		CheckoutSessionID: order.CheckoutSessionID,
		Currency:          order.Currency,
		Total:             order.Total,
		CreatedAt:         order.CreatedAt,
	})
	if err != nil {
		// Best effort. The order itself is durable.
		s.logger(ctx, "webhook.publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func addressFromEvent(addr *payments.EventAddress) *domain.Address {
	if addr == nil {
		return nil
	}
	return &domain.Address{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

// defaultOrderNumber produces a human-legible number from the date plus
// a short random suffix. Collisions are practically improbable and not
// idempotency-relevant; uniqueness lives on the payment reference.
func defaultOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s-%04d", now.Format("20060102"), rand.IntN(10000))
}
