package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bar-orders/internal/logger"
	"bar-orders/internal/models"
	"bar-orders/internal/order"
	"bar-orders/internal/utils"
)

type Handler struct {
	Service *order.Service
	Logger  *logger.Logger
}

func NewHandler(service *order.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// Routes mounts the order and payment API. Identity arrives from the
// gateway in X-User-ID and X-User-Role headers.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListMyOrders)
		r.Get("/{orderId}", h.GetOrder)
		r.Put("/{orderId}/confirm-payment", h.ConfirmPayment)
		r.Delete("/{orderId}", h.CancelOrder)
	})
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/webhook", h.PaymentWebhook)
		r.Post("/webhook/refund", h.RefundWebhook)
		r.Post("/refund/{orderId}", h.RefundOrder)
		r.Get("/status/{orderId}", h.PaymentStatus)
		r.Post("/{orderId}", h.CreatePayment)
	})
}

type actor struct {
	ID   int64
	Role string
}

func actorFrom(r *http.Request) (actor, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return actor{}, errors.New("missing X-User-ID header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return actor{}, fmt.Errorf("invalid X-User-ID %q", raw)
	}
	role := r.Header.Get("X-User-Role")
	if role == "" {
		role = "user"
	}
	return actor{ID: id, Role: role}, nil
}

func orderIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "orderId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return id, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("encode response: %v", err))
	}
}

// writeError maps service errors onto HTTP statuses. The response body
// never carries internal detail for 5xx failures.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var (
		validation *order.ValidationError
		transition *order.InvalidTransitionError
		gateway    *order.GatewayError
		webhook    *order.WebhookError
	)

	switch {
	case errors.As(err, &webhook):
		if webhook.StatusCode >= http.StatusInternalServerError {
			h.Logger.Error("API", fmt.Sprintf("%s: %s", op, webhook.InternalError))
		} else {
			h.Logger.Warn("API", fmt.Sprintf("%s: %s", op, webhook.InternalError))
		}
		h.writeJSON(w, webhook.StatusCode, utils.ErrorResponse(webhook.PublicError, webhook.Category))
		return

	case errors.As(err, &validation):
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", validation.Error()))
		return

	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrUserNotFound),
		errors.Is(err, order.ErrEventNotFound):
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
		return

	case errors.Is(err, order.ErrNotOwner), errors.Is(err, order.ErrForbidden):
		h.writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", err.Error()))
		return

	case errors.Is(err, order.ErrEventEnded), errors.Is(err, order.ErrNoPaymentReference):
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", err.Error()))
		return

	case errors.Is(err, order.ErrAmountMismatch):
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
		h.writeJSON(w, http.StatusPaymentRequired, utils.ErrorResponse("Payment amount mismatch", err.Error()))
		return

	case errors.As(err, &transition),
		errors.Is(err, order.ErrDuplicatePendingOrder),
		errors.Is(err, order.ErrAlreadyParticipating),
		errors.Is(err, order.ErrEventFull),
		errors.Is(err, order.ErrOrderBusy):
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Conflict", err.Error()))
		return

	case errors.As(err, &gateway):
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.writeJSON(w, http.StatusBadGateway, utils.ErrorResponse("Payment gateway error", "gateway "+gateway.Op+" failed"))
		return

	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", ""))
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	act, err := actorFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	resp, err := h.Service.CreateOrder(r.Context(), act.ID, req.Items)
	if err != nil {
		h.writeError(w, "CreateOrder", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Order created", resp))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
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

	resp, err := h.Service.GetOrder(r.Context(), orderID, act.ID, act.Role)
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Order retrieved", resp))
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	act, err := actorFrom(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}

	resp, err := h.Service.ListUserOrders(r.Context(), act.ID)
	if err != nil {
		h.writeError(w, "ListMyOrders", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Orders retrieved", resp))
}

// ConfirmPayment settles a pending order after the buyer returns from the
// gateway. Already-settled orders answer 200 with the current state so a
// double-submitted confirm never errors.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
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

	var req models.ConfirmPaymentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
			return
		}
	}

	o, err := h.Service.ConfirmWithGateway(r.Context(), orderID, act.ID, req.PaymentID)
	if err != nil {
		h.writeError(w, "ConfirmPayment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment confirmed", o))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req models.CancelOrderRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
			return
		}
	}

	o, err := h.Service.CancelOrder(r.Context(), orderID, act.ID, req.Reason)
	if err != nil {
		h.writeError(w, "CancelOrder", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Order cancelled", o))
}
