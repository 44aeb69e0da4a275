package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bar-orders/internal/models"
)

// WebhookError classifies webhook failures for the gateway's retry loop:
// the HTTP status code is the only retry signal it understands. 4xx means
// terminal (do not retry), 5xx means retryable infrastructure trouble.
type WebhookError struct {
	Category      string // validation | processing | infrastructure
	StatusCode    int
	PublicError   string // safe to return to the gateway
	InternalError string // logged, never sent
	OriginalErr   error
}

func (e *WebhookError) Error() string { return e.InternalError }

func (e *WebhookError) Unwrap() error { return e.OriginalErr }

func invalidPayload(msg string) *WebhookError {
	return &WebhookError{
		Category:      "validation",
		StatusCode:    http.StatusBadRequest,
		PublicError:   "Invalid webhook payload",
		InternalError: msg,
	}
}

func retryable(msg string, err error) *WebhookError {
	return &WebhookError{
		Category:      "infrastructure",
		StatusCode:    http.StatusServiceUnavailable,
		PublicError:   "Temporary processing failure",
		InternalError: fmt.Sprintf("%s: %v", msg, err),
		OriginalErr:   err,
	}
}

// The gateway has shipped several payload revisions with different field
// names; each canonical field is coalesced from its known aliases.
var (
	orderIDKeys     = []string{"orderId", "order_id", "merchantOrderId"}
	transactionKeys = []string{"transactionId", "transaction_id", "paymentId"}
	statusKeys      = []string{"status", "payment_status", "transactionStatus"}
	amountKeys      = []string{"amount", "total_amount", "paymentAmount"}
	paidAtKeys      = []string{"paidAt", "paid_at", "paymentTime"}
	refundIDKeys    = []string{"refundId", "refund_id", "refundTransactionId"}
	refundAmtKeys   = []string{"amount", "refund_amount"}
	refundStatKeys  = []string{"status", "refund_status"}
	refundAtKeys    = []string{"refundedAt", "refunded_at", "refundTime"}
)

// ParseWebhook normalizes a vendor payment notification into the canonical
// shape. Missing orderId or transactionId is a terminal validation error.
func ParseWebhook(raw []byte) (*models.PaymentWebhook, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}

	orderID := pickID(fields, orderIDKeys)
	transactionID := pickString(fields, transactionKeys)
	if orderID == 0 || transactionID == "" {
		return nil, invalidPayload(fmt.Sprintf(
			"webhook missing identifiers: orderId=%d transactionId=%q", orderID, transactionID))
	}

	wh := &models.PaymentWebhook{
		OrderID:       orderID,
		TransactionID: transactionID,
		Status:        strings.ToLower(pickString(fields, statusKeys)),
		Amount:        pickAmount(fields, amountKeys),
		Currency:      pickString(fields, []string{"currency"}),
		PaidAt:        pickTime(fields, paidAtKeys),
	}
	if wh.Currency == "" {
		wh.Currency = "TWD"
	}
	return wh, nil
}

// ParseRefundWebhook normalizes a vendor refund notification.
func ParseRefundWebhook(raw []byte) (*models.RefundWebhook, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}

	orderID := pickID(fields, orderIDKeys)
	refundID := pickString(fields, refundIDKeys)
	if orderID == 0 || refundID == "" {
		return nil, invalidPayload(fmt.Sprintf(
			"refund webhook missing identifiers: orderId=%d refundId=%q", orderID, refundID))
	}

	return &models.RefundWebhook{
		OrderID:    orderID,
		RefundID:   refundID,
		Status:     strings.ToLower(pickString(fields, refundStatKeys)),
		Amount:     pickAmount(fields, refundAmtKeys),
		RefundedAt: pickTime(fields, refundAtKeys),
	}, nil
}

// HandlePaymentWebhook drives one payment notification through the state
// machine. Webhooks arrive late, duplicated and out of order: anything
// already settled answers "already processed" with 200 so the gateway
// stops retrying.
func (s *Service) HandlePaymentWebhook(ctx context.Context, raw []byte) (*models.WebhookOutcome, error) {
	wh, err := ParseWebhook(raw)
	if err != nil {
		return nil, err
	}
	s.Logger.LogWebhook("PAYMENT", fmt.Sprintf("order=%d txn=%s status=%s amount=%d",
		wh.OrderID, wh.TransactionID, wh.Status, wh.Amount))

	if fresh, err := s.Locker.MarkTransactionSeen(ctx, wh.TransactionID, 24*time.Hour); err == nil && !fresh {
		s.Logger.LogWebhook("PAYMENT", "duplicate delivery for txn "+wh.TransactionID)
	}

	o, err := s.DB.GetOrderByID(ctx, wh.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusNotFound,
				PublicError:   "Order not found",
				InternalError: fmt.Sprintf("webhook for unknown order %d", wh.OrderID),
			}
		}
		return nil, retryable("order lookup failed", err)
	}

	if o.Status != models.StatusPending {
		return &models.WebhookOutcome{
			OrderID:          o.ID,
			OrderStatus:      o.Status,
			AlreadyProcessed: true,
			Applied:          "acknowledged",
		}, nil
	}

	switch wh.Status {
	case "success", "paid", "completed":
		amount := wh.Amount
		if amount == 0 {
			amount = o.TotalAmount
		}
		if amount != o.TotalAmount {
			s.Logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf(
				"webhook order=%d expected=%d got=%d", o.ID, o.TotalAmount, amount))
			return nil, &WebhookError{
				Category:      "validation",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Amount mismatch",
				InternalError: fmt.Sprintf("webhook amount %d != order total %d", amount, o.TotalAmount),
			}
		}

		confirmed, _, err := s.ConfirmPayment(ctx, o.ID, wh.TransactionID, amount)
		if err != nil {
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				// Lost the race with another settle path; report settled.
				return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: o.Status, AlreadyProcessed: true, Applied: "acknowledged"}, nil
			}
			return nil, retryable("confirm failed", err)
		}
		return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: confirmed.Status, Applied: "confirmed"}, nil

	case "failed", "cancelled", "error":
		cancelled, err := s.DB.CancelOrder(ctx, o.ID, "payment failed")
		if err != nil {
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: o.Status, AlreadyProcessed: true, Applied: "acknowledged"}, nil
			}
			return nil, retryable("cancel failed", err)
		}
		s.Logger.LogOrder("CANCEL", o.ID, "payment failed at gateway")
		if err := s.Publisher.PublishOrderCancelled(cancelled); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish order cancelled: %v", err))
		}
		return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: cancelled.Status, Applied: "cancelled"}, nil

	case "pending", "processing":
		return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: o.Status, Applied: "acknowledged"}, nil

	default:
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("unknown payment status %q for order %d", wh.Status, o.ID))
		return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: o.Status, Applied: "acknowledged"}, nil
	}
}

// HandleRefundWebhook applies a gateway-initiated refund notification.
func (s *Service) HandleRefundWebhook(ctx context.Context, raw []byte) (*models.WebhookOutcome, error) {
	wh, err := ParseRefundWebhook(raw)
	if err != nil {
		return nil, err
	}
	s.Logger.LogWebhook("REFUND", fmt.Sprintf("order=%d refund=%s status=%s",
		wh.OrderID, wh.RefundID, wh.Status))

	o, err := s.DB.GetOrderByID(ctx, wh.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusNotFound,
				PublicError:   "Order not found",
				InternalError: fmt.Sprintf("refund webhook for unknown order %d", wh.OrderID),
			}
		}
		return nil, retryable("order lookup failed", err)
	}

	switch wh.Status {
	case "refunded", "success", "completed":
		refunded, applied, err := s.ApplyRefundNotification(ctx, o.ID, wh.RefundID)
		if err != nil {
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				return nil, &WebhookError{
					Category:      "processing",
					StatusCode:    http.StatusBadRequest,
					PublicError:   "Order not refundable",
					InternalError: err.Error(),
				}
			}
			return nil, retryable("refund apply failed", err)
		}
		outcome := "refunded"
		if !applied {
			outcome = "acknowledged"
		}
		return &models.WebhookOutcome{
			OrderID:          refunded.ID,
			OrderStatus:      refunded.Status,
			AlreadyProcessed: !applied,
			Applied:          outcome,
		}, nil

	default:
		return &models.WebhookOutcome{OrderID: o.ID, OrderStatus: o.Status, Applied: "acknowledged"}, nil
	}
}

// ---------------- field coalescing ----------------

func decodeFields(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalidPayload(fmt.Sprintf("malformed webhook JSON: %v", err))
	}
	return fields, nil
}

func pickString(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			return n.String()
		}
	}
	return ""
}

func pickID(fields map[string]json.RawMessage, keys []string) int64 {
	s := pickString(fields, keys)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func pickAmount(fields map[string]json.RawMessage, keys []string) int64 {
	s := pickString(fields, keys)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

func pickTime(fields map[string]json.RawMessage, keys []string) *time.Time {
	s := pickString(fields, keys)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
