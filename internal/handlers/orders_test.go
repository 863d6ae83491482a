package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/services"
)

type stubOrderService struct {
	order domain.Order
	err   error
	query string
}

func (s *stubOrderService) GetByCheckoutSession(_ context.Context, sessionID string) (domain.Order, error) {
	s.query = sessionID
	return s.order, s.err
}

func (s *stubOrderService) GetByPaymentReference(_ context.Context, ref string) (domain.Order, error) {
	return s.order, s.err
}

func newOrderRouter(orders services.OrderService) http.Handler {
	handlers := NewOrderHandlers(orders)
	r := chi.NewRouter()
	r.Route("/checkout", func(group chi.Router) {
		handlers.Routes(group)
	})
	return r
}

func orderFixture() domain.Order {
	return domain.Order{
		ID:                "order_01",
		OrderNumber:       "20260314-0042",
		PaymentReference:  "pi_test_1",
		CheckoutSessionID: "cs_test_1",
		Customer:          domain.CustomerInfo{Name: "Ada Buyer", Email: "ada@example.com"},
		ShippingAddress:   &domain.Address{Line1: "500 SW Oak St", City: "Portland", State: "OR", PostalCode: "97204", Country: "US"},
		Currency:          "usd",
		Subtotal:          108.50,
		ShippingCost:      5.00,
		TaxAmount:         9.73,
		Total:             123.23,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPaid,
		Items: []domain.OrderItem{
			{ProductID: "prod_board", Title: "Walnut Cutting Board", Quantity: 2, PriceAtPurchase: 45.00, LineSubtotal: 90.00},
		},
		CreatedAt: time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC),
	}
}

func TestGetOrderBySession(t *testing.T) {
	svc := &stubOrderService{order: orderFixture()}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/checkout/session/cs_test_1", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.query != "cs_test_1" {
		t.Fatalf("expected session id forwarded, got %q", svc.query)
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "order_01" || resp.Order.OrderNumber != "20260314-0042" {
		t.Fatalf("unexpected order %+v", resp.Order)
	}
	if resp.Order.Total != 123.23 || resp.Order.PaymentStatus != "paid" {
		t.Fatalf("unexpected amounts %+v", resp.Order)
	}
	if resp.Order.ShippingAddress == nil || resp.Order.ShippingAddress.City != "Portland" {
		t.Fatalf("unexpected address %+v", resp.Order.ShippingAddress)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].PriceAtPurchase != 45.00 {
		t.Fatalf("unexpected items %+v", resp.Order.Items)
	}
}

func TestGetOrderBySessionNotMaterialized(t *testing.T) {
	svc := &stubOrderService{err: services.ErrOrderNotFound}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/checkout/session/cs_pending", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetOrderBySessionBackendFailure(t *testing.T) {
	svc := &stubOrderService{err: errors.New("firestore down")}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/checkout/session/cs_test_1", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
