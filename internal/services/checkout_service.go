package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/payments"
)

var (
	// ErrCheckoutInvalidCart indicates the cart failed revalidation. The
	// returned result still carries the cart so callers can surface the
	// itemized errors.
	ErrCheckoutInvalidCart = errors.New("checkout: cart invalid")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
)

// checkoutGateway abstracts payments.Gateway for easier testing.
type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutConfig carries the storefront-level session settings.
type CheckoutConfig struct {
	Currency         string
	SuccessURL       string
	CancelURL        string
	AllowedCountries []string
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Validator CartValidator
	Gateway   checkoutGateway
	Config    CheckoutConfig
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	validator CartValidator
	gateway   checkoutGateway
	config    CheckoutConfig
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Validator == nil {
		return nil, errors.New("checkout service: cart validator is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if strings.TrimSpace(deps.Config.Currency) == "" {
		return nil, errors.New("checkout service: currency is required")
	}
	if strings.TrimSpace(deps.Config.SuccessURL) == "" || strings.TrimSpace(deps.Config.CancelURL) == "" {
		return nil, errors.New("checkout service: success and cancel urls are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		validator: deps.Validator,
		gateway:   deps.Gateway,
		config:    deps.Config,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession revalidates the cart and creates a gateway checkout
// session carrying the canonical cart as metadata.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (CheckoutSessionResult, error) {
	if s == nil || s.validator == nil || s.gateway == nil {
		return CheckoutSessionResult{}, ErrCheckoutUnavailable
	}

	cart, err := s.validator.Validate(ctx, ValidateCartCommand{Items: cmd.Items})
	if err != nil {
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if !cart.IsValid {
		return CheckoutSessionResult{Cart: cart}, ErrCheckoutInvalidCart
	}

	metadata, err := encodeCartMetadata(cart)
	if err != nil {
		return CheckoutSessionResult{Cart: cart}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	lineItems := make([]payments.CheckoutLineItem, len(cart.Items))
	for i, item := range cart.Items {
		lineItems[i] = payments.CheckoutLineItem{
			Name:       item.Title,
			SKU:        item.ProductID,
			Quantity:   int64(item.Quantity),
			UnitAmount: domain.Cents(item.UnitPrice),
		}
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = sessionIdempotencyKey(cart, s.now())
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Currency:         s.config.Currency,
		SuccessURL:       s.config.SuccessURL,
		CancelURL:        s.config.CancelURL,
		CustomerEmail:    strings.TrimSpace(cmd.CustomerEmail),
		ShippingAmount:   domain.Cents(cart.ShippingCost),
		AllowedCountries: s.config.AllowedCountries,
		Metadata:         metadata,
		IdempotencyKey:   key,
		Items:            lineItems,
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"error":     err.Error(),
			"itemCount": len(cart.Items),
		})
		return CheckoutSessionResult{Cart: cart}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId": session.ID,
		"total":     cart.Total,
		"itemCount": len(cart.Items),
	})

	return CheckoutSessionResult{
		SessionID: session.ID,
		URL:       session.RedirectURL,
		ExpiresAt: session.ExpiresAt,
		Cart:      cart,
	}, nil
}

func sessionIdempotencyKey(cart domain.ValidatedCart, now time.Time) string {
	builder := strings.Builder{}
	for _, item := range cart.Items {
		fmt.Fprintf(&builder, "%s:%d:%.2f|", item.ProductID, item.Quantity, item.UnitPrice)
	}
	fmt.Fprintf(&builder, "%d", now.UnixNano())
	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}
