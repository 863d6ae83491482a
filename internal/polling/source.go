package polling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/services"
)

// serviceSource polls the order service directly. Used when the poller
// runs in-process, e.g. server-rendered confirmation pages.
type serviceSource struct {
	orders services.OrderService
}

var _ Source = (*serviceSource)(nil)

// NewServiceSource adapts an OrderService into a polling Source.
func NewServiceSource(orders services.OrderService) (Source, error) {
	if orders == nil {
		return nil, errors.New("polling: order service is required")
	}
	return &serviceSource{orders: orders}, nil
}

func (s *serviceSource) FetchOrder(ctx context.Context, checkoutSessionID string) (domain.Order, error) {
	order, err := s.orders.GetByCheckoutSession(ctx, checkoutSessionID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderPending, checkoutSessionID)
		}
		return domain.Order{}, err
	}
	return order, nil
}

// httpSource polls the public order-lookup endpoint over HTTP. Used by
// out-of-process consumers of the API.
type httpSource struct {
	baseURL string
	client  *http.Client
}

var _ Source = (*httpSource)(nil)

// NewHTTPSource builds a Source that issues
// GET {baseURL}/checkout/session/{sessionId} requests.
func NewHTTPSource(baseURL string, client *http.Client) (Source, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("polling: base URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpSource{baseURL: baseURL, client: client}, nil
}

func (s *httpSource) FetchOrder(ctx context.Context, checkoutSessionID string) (domain.Order, error) {
	endpoint := s.baseURL + "/checkout/session/" + url.PathEscape(checkoutSessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("polling: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("polling: fetch order: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload struct {
			Order wireOrder `json:"order"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return domain.Order{}, fmt.Errorf("polling: decode order: %w", err)
		}
		return payload.Order.toDomain(), nil
	case http.StatusNotFound:
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderPending, checkoutSessionID)
	default:
		return domain.Order{}, fmt.Errorf("polling: unexpected status %d", resp.StatusCode)
	}
}

// wireOrder mirrors the order-lookup response body.
type wireOrder struct {
	ID                string          `json:"id"`
	OrderNumber       string          `json:"orderNumber"`
	PaymentReference  string          `json:"paymentReference"`
	CheckoutSessionID string          `json:"checkoutSessionId"`
	Customer          wireCustomer    `json:"customer"`
	ShippingAddress   *wireAddress    `json:"shippingAddress,omitempty"`
	Currency          string          `json:"currency"`
	Subtotal          float64         `json:"subtotal"`
	ShippingCost      float64         `json:"shippingCost"`
	TaxAmount         float64         `json:"taxAmount"`
	Total             float64         `json:"total"`
	Status            string          `json:"status"`
	PaymentStatus     string          `json:"paymentStatus"`
	Items             []wireOrderItem `json:"items"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type wireCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type wireAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type wireOrderItem struct {
	ProductID       string  `json:"productId"`
	Title           string  `json:"title"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"priceAtPurchase"`
	LineSubtotal    float64 `json:"lineSubtotal"`
}

func (w wireOrder) toDomain() domain.Order {
	items := make([]domain.OrderItem, len(w.Items))
	for i, item := range w.Items {
		items[i] = domain.OrderItem{
			ProductID:       item.ProductID,
			Title:           item.Title,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			LineSubtotal:    item.LineSubtotal,
		}
	}
	var shipping *domain.Address
	if w.ShippingAddress != nil {
		shipping = &domain.Address{
			Line1:      w.ShippingAddress.Line1,
			Line2:      w.ShippingAddress.Line2,
			City:       w.ShippingAddress.City,
			State:      w.ShippingAddress.State,
			PostalCode: w.ShippingAddress.PostalCode,
			Country:    w.ShippingAddress.Country,
		}
	}
	return domain.Order{
		ID:                w.ID,
		OrderNumber:       w.OrderNumber,
		PaymentReference:  w.PaymentReference,
		CheckoutSessionID: w.CheckoutSessionID,
		Customer:          domain.CustomerInfo{Name: w.Customer.Name, Email: w.Customer.Email},
		ShippingAddress:   shipping,
		Currency:          w.Currency,
		Subtotal:          w.Subtotal,
		ShippingCost:      w.ShippingCost,
		TaxAmount:         w.TaxAmount,
		Total:             w.Total,
		Status:            domain.OrderStatus(w.Status),
		PaymentStatus:     domain.PaymentStatus(w.PaymentStatus),
		Items:             items,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
	}
}
