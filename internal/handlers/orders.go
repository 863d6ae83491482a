package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oakmarket/api/internal/platform/httpx"
	"github.com/oakmarket/api/internal/services"
)

// OrderHandlers exposes read access to materialized orders. The
// confirmation-page poller hits the session lookup until the webhook
// has landed.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs the order lookup handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers order lookup endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/session/{sessionId}", h.getBySession)
}

func (h *OrderHandlers) getBySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByCheckoutSession(ctx, sessionID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": newOrderPayload(order)})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		// Not an anomaly: the webhook simply has not landed yet.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not materialized yet", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("orders_error", "failed to load order", http.StatusInternalServerError))
	}
}
