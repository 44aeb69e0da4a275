package order_api

import (
	"fmt"
	"io"
	"net/http"

	"bar-orders/internal/utils"
)

const maxWebhookBody = 1 << 20

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	act, err := actorFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid order id", err.Error()))
		return
	}

	session, err := h.Service.CreatePayment(r.Context(), orderID, act.ID)
	if err != nil {
		h.writeError(w, "CreatePayment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment session created", session))
}

// PaymentStatus reports the gateway's view of the order's payment and
// settles the order locally when the gateway says it is already paid.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	act, err := actorFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid order id", err.Error()))
		return
	}

	o, status, err := h.Service.CheckPaymentStatus(r.Context(), orderID, act.ID)
	if err != nil {
		h.writeError(w, "PaymentStatus", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment status retrieved", map[string]any{
		"order":   o,
		"gateway": status,
	}))
}

// PaymentWebhook receives asynchronous payment notifications. The status
// code is the gateway's retry signal: 2xx stops retries, 4xx marks the
// delivery dead, 5xx asks for another attempt.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Unreadable body", err.Error()))
		return
	}

	outcome, err := h.Service.HandlePaymentWebhook(r.Context(), body)
	if err != nil {
		h.writeError(w, "PaymentWebhook", err)
		return
	}

	msg := "Webhook processed"
	if outcome.AlreadyProcessed {
		msg = "Webhook already processed"
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse(msg, outcome))
}

func (h *Handler) RefundWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Unreadable body", err.Error()))
		return
	}

	outcome, err := h.Service.HandleRefundWebhook(r.Context(), body)
	if err != nil {
		h.writeError(w, "RefundWebhook", err)
		return
	}

	msg := "Refund webhook processed"
	if outcome.AlreadyProcessed {
		msg = "Refund already processed"
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse(msg, outcome))
}

// RefundOrder is the operator-initiated refund. The service enforces the
// admin role; the handler only relays identity.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	act, err := actorFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid order id", err.Error()))
		return
	}

	reason := r.URL.Query().Get("reason")
	h.Logger.Info("API", fmt.Sprintf("RefundOrder: order=%d actor=%d", orderID, act.ID))

	o, err := h.Service.RefundOrder(r.Context(), orderID, act.Role, reason)
	if err != nil {
		h.writeError(w, "RefundOrder", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Order refunded", o))
}
