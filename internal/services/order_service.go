package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid lookup parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates no order exists for the lookup yet.
	ErrOrderNotFound = errors.New("orders: not found")
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetByCheckoutSession returns the order materialized for the checkout
// session, or ErrOrderNotFound while the webhook has not landed yet.
func (s *orderService) GetByCheckoutSession(ctx context.Context, checkoutSessionID string) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, errors.New("order service: not initialised")
	}
	checkoutSessionID = strings.TrimSpace(checkoutSessionID)
	if checkoutSessionID == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByCheckoutSession(ctx, checkoutSessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotFound) {
			return domain.Order{}, fmt.Errorf("%w: session %s", ErrOrderNotFound, checkoutSessionID)
		}
		return domain.Order{}, err
	}
	return order, nil
}

// GetByPaymentReference returns the order stored for a payment reference.
func (s *orderService) GetByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, errors.New("order service: not initialised")
	}
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.GetByPaymentReference(ctx, paymentReference)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotFound) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, paymentReference)
		}
		return domain.Order{}, err
	}
	return order, nil
}
