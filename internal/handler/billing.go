package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/service"
)

// Provider payloads are small; anything bigger is not a webhook we want.
const maxWebhookBytes = 64 << 10

type billingHandler struct {
	billingService *service.BillingService
}

func NewBillingHandler(billingService *service.BillingService) *billingHandler {
	return &billingHandler{billingService: billingService}
}

func (h *billingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	url, err := h.billingService.StartCheckout(r.Context(), ctxkeys.Account(r.Context()).Username)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Confirm is the checkout success redirect. It grants entitlement right away
// instead of waiting for the webhook.
func (h *billingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required", Kind: service.KindValidation.String()})
		return
	}

	paid, err := h.billingService.ConfirmCheckout(r.Context(), ctxkeys.Account(r.Context()).Username, sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paid": paid})
}

// Webhook receives provider events. Signature failures and unknown customers
// are answered with 400 so providers stop retrying them; internal failures
// get 500 and are retried.
func (h *billingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		slog.Warn("webhook body rejected", "error", err)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	err = h.billingService.HandleWebhook(r.Context(), payload, r.Header)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrPaymentsDisabled):
		WriteError(w, r, err)
	case service.KindOf(err) == service.KindInternal:
		slog.Error("webhook processing failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	default:
		slog.Warn("webhook rejected", "error", err)
		w.WriteHeader(http.StatusBadRequest)
	}
}
