package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/services"
)

type stubCartValidator struct {
	cart domain.ValidatedCart
	err  error
	cmd  services.ValidateCartCommand
}

func (s *stubCartValidator) Validate(_ context.Context, cmd services.ValidateCartCommand) (domain.ValidatedCart, error) {
	s.cmd = cmd
	return s.cart, s.err
}

type stubCheckoutService struct {
	result services.CheckoutSessionResult
	err    error
	cmd    services.CreateSessionCommand
	calls  int
}

func (s *stubCheckoutService) CreateSession(_ context.Context, cmd services.CreateSessionCommand) (services.CheckoutSessionResult, error) {
	s.calls++
	s.cmd = cmd
	return s.result, s.err
}

func validCartFixture() domain.ValidatedCart {
	return domain.ValidatedCart{
		Items: []domain.ValidatedCartItem{
			{ProductID: "prod_board", Title: "Walnut Cutting Board", UnitPrice: 45.00, Quantity: 2},
		},
		Subtotal:     90.00,
		ShippingCost: 5.00,
		Total:        95.00,
		IsValid:      true,
	}
}

func newCheckoutRouter(validator services.CartValidator, checkout services.CheckoutService, opts ...CheckoutOption) http.Handler {
	handlers := NewCheckoutHandlers(validator, checkout, opts...)
	r := chi.NewRouter()
	r.Route("/checkout", func(group chi.Router) {
		handlers.Routes(group)
	})
	return r
}

func TestValidateCartReturnsCart(t *testing.T) {
	validator := &stubCartValidator{cart: validCartFixture()}
	router := newCheckoutRouter(validator, &stubCheckoutService{})

	body := `{"items":[{"itemId":"prod_board","declaredPrice":0.01,"quantity":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/validate", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Cart cartPayload `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Cart.IsValid || resp.Cart.Total != 95.00 {
		t.Fatalf("unexpected cart %+v", resp.Cart)
	}
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].LineSubtotal != 90.00 {
		t.Fatalf("unexpected items %+v", resp.Cart.Items)
	}

	if len(validator.cmd.Items) != 1 || validator.cmd.Items[0].ProductID != "prod_board" {
		t.Fatalf("unexpected command %+v", validator.cmd)
	}
}

func TestValidateCartInvalidIncludesCart(t *testing.T) {
	validator := &stubCartValidator{cart: domain.ValidatedCart{
		Errors:  []string{"Stoneware Mug is no longer available in that quantity"},
		IsValid: false,
	}}
	router := newCheckoutRouter(validator, &stubCheckoutService{})

	body := `{"items":[{"itemId":"prod_mug","quantity":99}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/validate", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp struct {
		Error string      `json:"error"`
		Cart  cartPayload `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error != "cart_invalid" {
		t.Fatalf("expected cart_invalid, got %q", resp.Error)
	}
	if len(resp.Cart.Errors) != 1 || !strings.Contains(resp.Cart.Errors[0], "Stoneware Mug") {
		t.Fatalf("expected itemized errors in cart, got %+v", resp.Cart)
	}
}

func TestValidateCartMalformedBody(t *testing.T) {
	router := newCheckoutRouter(&stubCartValidator{}, &stubCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/checkout/validate", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateSessionReturnsRedirectURL(t *testing.T) {
	checkout := &stubCheckoutService{result: services.CheckoutSessionResult{
		SessionID: "cs_test_1",
		URL:       "https://checkout.stripe.com/pay/cs_test_1",
		ExpiresAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Cart:      validCartFixture(),
	}}
	router := newCheckoutRouter(&stubCartValidator{}, checkout)

	body := `{"items":[{"itemId":"prod_board","quantity":2}],"customerEmail":"buyer@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "client-key-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp createSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.URL != "https://checkout.stripe.com/pay/cs_test_1" || resp.SessionID != "cs_test_1" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if checkout.cmd.CustomerEmail != "buyer@example.com" || checkout.cmd.IdempotencyKey != "client-key-1" {
		t.Fatalf("unexpected command %+v", checkout.cmd)
	}
}

func TestCreateSessionInvalidCart(t *testing.T) {
	checkout := &stubCheckoutService{
		result: services.CheckoutSessionResult{Cart: domain.ValidatedCart{
			Errors: []string{"prod_gone not found"},
		}},
		err: services.ErrCheckoutInvalidCart,
	}
	router := newCheckoutRouter(&stubCartValidator{}, checkout)

	body := `{"items":[{"itemId":"prod_gone","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp struct {
		Error   string      `json:"error"`
		Message string      `json:"message"`
		Cart    cartPayload `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error != "cart_invalid" || resp.Message != "prod_gone not found" {
		t.Fatalf("unexpected error payload %+v", resp)
	}
}

func TestCreateSessionGatewayFailure(t *testing.T) {
	checkout := &stubCheckoutService{err: services.ErrCheckoutPaymentFailed}
	router := newCheckoutRouter(&stubCartValidator{}, checkout)

	body := `{"items":[{"itemId":"prod_board","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestCheckoutRateLimit(t *testing.T) {
	validator := &stubCartValidator{cart: validCartFixture()}
	router := newCheckoutRouter(validator, &stubCheckoutService{}, WithCheckoutRateLimit(2, time.Minute))

	body := `{"items":[{"itemId":"prod_board","quantity":1}]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/checkout/validate", strings.NewReader(body))
		req.RemoteAddr = "203.0.113.7:4711"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/validate", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4711"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
