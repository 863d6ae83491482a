package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessionAPI struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (s *stubSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func signPayload(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeGatewayCreateCheckoutSession(t *testing.T) {
	stub := &stubSessionAPI{
		session: &stripe.CheckoutSession{
			ID:            "cs_test_1",
			URL:           "https://checkout.stripe.com/pay/cs_test_1",
			Currency:      stripe.CurrencyUSD,
			ExpiresAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC).Unix(),
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_test_1"},
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: "whsec_test",
		Sessions:      stub,
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	req := CheckoutSessionRequest{
		Currency:         "USD",
		SuccessURL:       "https://shop.example.com/checkout/success",
		CancelURL:        "https://shop.example.com/checkout/cancel",
		CustomerEmail:    "buyer@example.com",
		ShippingAmount:   500,
		AllowedCountries: []string{"US", "CA"},
		IdempotencyKey:   "idem-42",
		Metadata: map[string]string{
			"cartHash": "abc123",
		},
		Items: []CheckoutLineItem{
			{Name: "Walnut Cutting Board", SKU: "prod-1", Quantity: 2, UnitAmount: 4500},
		},
	}

	session, err := gateway.CreateCheckoutSession(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "cs_test_1" || session.IntentID != "pi_test_1" {
		t.Fatalf("unexpected session %#v", session)
	}
	if session.RedirectURL != "https://checkout.stripe.com/pay/cs_test_1" {
		t.Fatalf("unexpected redirect url %q", session.RedirectURL)
	}

	params := stub.params
	if params == nil {
		t.Fatal("expected session params to be captured")
	}
	if got := stripe.StringValue(params.Mode); got != string(stripe.CheckoutSessionModePayment) {
		t.Fatalf("unexpected mode %q", got)
	}
	if len(params.LineItems) != 1 {
		t.Fatalf("expected a single line item, got %d", len(params.LineItems))
	}
	if got := stripe.Int64Value(params.LineItems[0].PriceData.UnitAmount); got != 4500 {
		t.Fatalf("unexpected unit amount %d", got)
	}
	if params.AutomaticTax == nil || !stripe.BoolValue(params.AutomaticTax.Enabled) {
		t.Fatal("expected automatic tax to be requested")
	}
	if params.ShippingAddressCollection == nil || len(params.ShippingAddressCollection.AllowedCountries) != 2 {
		t.Fatal("expected shipping address collection for allowed countries")
	}
	if len(params.ShippingOptions) != 1 {
		t.Fatalf("expected shipping option, got %d", len(params.ShippingOptions))
	}
	if got := stripe.Int64Value(params.ShippingOptions[0].ShippingRateData.FixedAmount.Amount); got != 500 {
		t.Fatalf("unexpected shipping amount %d", got)
	}
	if params.PaymentIntentData == nil || params.PaymentIntentData.Metadata["cartHash"] != "abc123" {
		t.Fatal("expected metadata to propagate to the payment intent")
	}
}

func TestStripeGatewayCreateCheckoutSessionError(t *testing.T) {
	stub := &stubSessionAPI{err: errors.New("card network unavailable")}
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: "whsec_test",
		Sessions:      stub,
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	_, err = gateway.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Currency: "usd"})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}

func TestStripeGatewayCreateCheckoutSessionMissingURL(t *testing.T) {
	stub := &stubSessionAPI{session: &stripe.CheckoutSession{ID: "cs_no_url"}}
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: "whsec_test",
		Sessions:      stub,
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	_, err = gateway.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Currency: "usd"})
	if !errors.Is(err, ErrSessionCreation) {
		t.Fatalf("expected ErrSessionCreation, got %v", err)
	}
}

func TestStripeGatewayVerifyEventCheckoutCompleted(t *testing.T) {
	const secret = "whsec_test"
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: secret,
		Sessions:      &stubSessionAPI{},
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1767225600,
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"amount_total": 10223,
				"currency": "usd",
				"payment_intent": "pi_test_1",
				"metadata": {"cartHash": "abc123"},
				"customer_details": {"name": "Ada Buyer", "email": "ada@example.com"},
				"shipping_details": {
					"name": "Ada Buyer",
					"address": {"line1": "1 Main St", "city": "Portland", "state": "OR", "postal_code": "97201", "country": "US"}
				}
			}
		}
	}`)

	event, err := gateway.VerifyEvent(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Type != EventCheckoutCompleted {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.PaymentReference != "pi_test_1" || event.CheckoutSessionID != "cs_test_1" {
		t.Fatalf("unexpected references %#v", event)
	}
	if event.AmountTotal != 10223 || event.Currency != "usd" {
		t.Fatalf("unexpected amount %d %s", event.AmountTotal, event.Currency)
	}
	if event.CustomerEmail != "ada@example.com" || event.CustomerName != "Ada Buyer" {
		t.Fatalf("unexpected customer details %#v", event)
	}
	if event.ShippingAddress == nil || event.ShippingAddress.City != "Portland" {
		t.Fatalf("expected shipping address, got %#v", event.ShippingAddress)
	}
	if event.Metadata["cartHash"] != "abc123" {
		t.Fatalf("expected metadata to survive, got %#v", event.Metadata)
	}
}

func TestStripeGatewayVerifyEventPaymentFailed(t *testing.T) {
	const secret = "whsec_test"
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: secret,
		Sessions:      &stubSessionAPI{},
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	payload := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"created": 1767225600,
		"data": {
			"object": {
				"id": "pi_test_2",
				"object": "payment_intent",
				"amount": 5000,
				"currency": "usd",
				"last_payment_error": {"message": "card declined"}
			}
		}
	}`)

	event, err := gateway.VerifyEvent(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Type != EventPaymentFailed {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.PaymentReference != "pi_test_2" || event.FailureMessage != "card declined" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestStripeGatewayVerifyEventUnknownType(t *testing.T) {
	const secret = "whsec_test"
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: secret,
		Sessions:      &stubSessionAPI{},
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	payload := []byte(`{"id": "evt_3", "type": "invoice.paid", "created": 1767225600, "data": {"object": {}}}`)
	event, err := gateway.VerifyEvent(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Type != EventUnknown || event.RawType != "invoice.paid" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestStripeGatewayVerifyEventOtherAPIVersion(t *testing.T) {
	const secret = "whsec_test"
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: secret,
		Sessions:      &stubSessionAPI{},
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	// Deliveries from accounts pinned to an older API version are still
	// signed and must verify; only the signature decides acceptance.
	payload := []byte(`{
		"id": "evt_5",
		"api_version": "2020-08-27",
		"type": "checkout.session.completed",
		"created": 1767225600,
		"data": {
			"object": {
				"id": "cs_test_5",
				"object": "checkout.session",
				"amount_total": 5000,
				"currency": "usd",
				"payment_intent": "pi_test_5"
			}
		}
	}`)

	event, err := gateway.VerifyEvent(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Type != EventCheckoutCompleted || event.PaymentReference != "pi_test_5" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestStripeGatewayVerifyEventBadSignature(t *testing.T) {
	gateway, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: "whsec_test",
		Sessions:      &stubSessionAPI{},
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	payload := []byte(`{"id": "evt_4", "type": "checkout.session.completed"}`)
	if _, err := gateway.VerifyEvent(payload, signPayload("whsec_other", payload, time.Now())); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := gateway.VerifyEvent(payload, "t=0,v1=junk"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for malformed header, got %v", err)
	}
}
