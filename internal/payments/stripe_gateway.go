package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/oakmarket/api/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Sessions      stripeSessionAPI
}

// StripeGateway implements the Gateway interface using Stripe Checkout and webhooks.
type StripeGateway struct {
	sessions      stripeSessionAPI
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: secret,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for the validated cart.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if g == nil {
		return CheckoutSession{}, errors.New("stripe: gateway is nil")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}
	params.LineItems = lineItems

	// Tax and addresses are the gateway's concern. Checkout only asks for them.
	params.AutomaticTax = &stripe.CheckoutSessionAutomaticTaxParams{
		Enabled: stripe.Bool(true),
	}
	params.BillingAddressCollection = stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired))
	if len(req.AllowedCountries) > 0 {
		countries := make([]*string, 0, len(req.AllowedCountries))
		for _, country := range req.AllowedCountries {
			country = strings.ToUpper(strings.TrimSpace(country))
			if country == "" {
				continue
			}
			countries = append(countries, stripe.String(country))
		}
		if len(countries) > 0 {
			params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
				AllowedCountries: countries,
			}
		}
	}

	if req.ShippingAmount > 0 {
		params.ShippingOptions = []*stripe.CheckoutSessionShippingOptionParams{
			{
				ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
					DisplayName: stripe.String("Standard Shipping"),
					Type:        stripe.String("fixed_amount"),
					FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
						Amount:   stripe.Int64(req.ShippingAmount),
						Currency: stripe.String(currency),
					},
				},
			},
		}
	}

	// The same metadata rides on the session and on the payment intent,
	// so both webhook payload shapes can reconstruct the order.
	if metadata := textutil.NormalizeStringMap(req.Metadata); metadata != nil {
		params.Metadata = metadata
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		}
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if strings.TrimSpace(session.URL) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: session %s has no redirect url", ErrSessionCreation, session.ID)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	expiresAt := g.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		RedirectURL: session.URL,
		IntentID:    intentID,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyEvent checks the webhook signature and normalises the event payload.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (PaymentEvent, error) {
	if g == nil {
		return PaymentEvent{}, errors.New("stripe: gateway is nil")
	}

	// Accounts pinned to a different Stripe API version still deliver
	// signed events; bouncing them with 400 would only trigger redelivery.
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	normalised := PaymentEvent{
		ID:        event.ID,
		Type:      EventUnknown,
		RawType:   string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return PaymentEvent{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
		}
		normalised.Type = EventCheckoutCompleted
		normalised.CheckoutSessionID = session.ID
		normalised.AmountTotal = session.AmountTotal
		normalised.Currency = string(session.Currency)
		normalised.Metadata = session.Metadata
		if session.PaymentIntent != nil {
			normalised.PaymentReference = session.PaymentIntent.ID
		}
		if normalised.PaymentReference == "" {
			// Sessions completed with deferred intents carry no intent id.
			// The session id is unique per payment too.
			normalised.PaymentReference = session.ID
		}
		if details := session.CustomerDetails; details != nil {
			normalised.CustomerName = details.Name
			normalised.CustomerEmail = details.Email
		}
		if shipping := session.ShippingDetails; shipping != nil {
			if normalised.CustomerName == "" {
				normalised.CustomerName = shipping.Name
			}
			normalised.ShippingAddress = eventAddress(shipping.Address)
		}
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return PaymentEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		normalised.Type = EventPaymentFailed
		normalised.PaymentReference = intent.ID
		normalised.AmountTotal = intent.Amount
		normalised.Currency = string(intent.Currency)
		normalised.Metadata = intent.Metadata
		if intent.LastPaymentError != nil {
			normalised.FailureMessage = intent.LastPaymentError.Msg
		}
	}

	return normalised, nil
}

func eventAddress(addr *stripe.Address) *EventAddress {
	if addr == nil {
		return nil
	}
	return &EventAddress{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
