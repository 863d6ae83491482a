package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/platform/httpx"
	"github.com/oakmarket/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the cart validation and payment session endpoints.
type CheckoutHandlers struct {
	validator services.CartValidator
	checkout  services.CheckoutService
	limiter   rateLimiter
}

// CheckoutOption customises checkout handler construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit throttles checkout requests per client address.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs the checkout endpoint handlers.
func NewCheckoutHandlers(validator services.CartValidator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		validator: validator,
		checkout:  checkout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/validate", h.validateCart)
	r.Post("/session", h.createSession)
}

type cartItemRequest struct {
	ItemID        string  `json:"itemId"`
	DeclaredPrice float64 `json:"declaredPrice"`
	Quantity      int     `json:"quantity"`
}

type validateCartRequest struct {
	Items []cartItemRequest `json:"items"`
}

type createSessionRequest struct {
	Items         []cartItemRequest `json:"items"`
	CustomerEmail string            `json:"customerEmail"`
}

type createSessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.validator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	if !h.allow(ctx, w, r) {
		return
	}

	var req validateCartRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.validator.Validate(ctx, services.ValidateCartCommand{Items: cartItemsFromRequest(req.Items)})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	if !cart.IsValid {
		// The cart travels with the error so the client can render the
		// itemized messages next to the offending lines.
		httpx.WriteError(ctx, w, httpx.NewError("cart_invalid", firstError(cart.Errors), http.StatusBadRequest).
			WithDetails(map[string]any{"cart": newCartPayload(cart)}))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": newCartPayload(cart)})
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	if !h.allow(ctx, w, r) {
		return
	}

	var req createSessionRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	result, err := h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		Items:          cartItemsFromRequest(req.Items),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		if errors.Is(err, services.ErrCheckoutInvalidCart) {
			httpx.WriteError(ctx, w, httpx.NewError("cart_invalid", firstError(result.Cart.Errors), http.StatusBadRequest).
				WithDetails(map[string]any{"cart": newCartPayload(result.Cart)}))
			return
		}
		h.writeCheckoutError(ctx, w, err)
		return
	}

	resp := createSessionResponse{
		URL:       result.URL,
		SessionID: result.SessionID,
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = formatTime(result.ExpiresAt)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// decodeBody reads and unmarshals the request, writing the error
// response itself when the body is unusable.
func (h *CheckoutHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *CheckoutHandlers) allow(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	if h.limiter.Allow(clientAddress(r)) {
		return true
	}
	httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout requests", http.StatusTooManyRequests))
	return false
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment session could not be created", http.StatusInternalServerError))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func cartItemsFromRequest(items []cartItemRequest) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	for i, item := range items {
		out[i] = domain.CartItem{
			ProductID:     strings.TrimSpace(item.ItemID),
			DeclaredPrice: item.DeclaredPrice,
			Quantity:      item.Quantity,
		}
	}
	return out
}

func firstError(errs []string) string {
	if len(errs) == 0 {
		return "cart failed validation"
	}
	return errs[0]
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
