package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oakmarket/api/internal/platform/httpx"
	"github.com/oakmarket/api/internal/services"
)

// Gateway events carry the full session object; allow more headroom
// than the client-facing endpoints.
const maxWebhookBody = 256 * 1024

const signatureHeader = "Stripe-Signature"

// WebhookHandlers receives gateway payment notifications.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs the webhook endpoint handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhook", h.handleGatewayEvent)
}

// handleGatewayEvent acknowledges every verified delivery, including
// ones whose processing failed, so the gateway stops redelivering.
// Only a signature failure is rejected.
func (h *WebhookHandlers) handleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body exceeds the allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	signature := strings.TrimSpace(r.Header.Get(signatureHeader))

	result, err := h.webhooks.HandleEvent(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, services.ErrWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		return
	}

	_ = result // terminal outcome already logged by the service
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
