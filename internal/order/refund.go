package order

import (
	"context"
	"fmt"

	"bar-orders/internal/models"
	"bar-orders/internal/utils"
)

// RefundOrder reverses a paid or confirmed order. The gateway refund runs
// first: if it fails, nothing changes locally, so the books never show a
// refund without money actually moving. On gateway success the transition,
// the refund reference and the participation removal commit as one unit.
// Admin only.
func (s *Service) RefundOrder(ctx context.Context, orderID int64, actorRole, reason string) (*models.Order, error) {
	if actorRole != "admin" {
		return nil, ErrForbidden
	}

	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(o.Status, models.StatusRefunded); err != nil {
		return nil, err
	}

	transactionID := o.TransactionID
	if transactionID == "" {
		transactionID = o.PaymentID
	}
	if transactionID == "" {
		return nil, ErrNoPaymentReference
	}

	token := utils.GenerateLockToken()
	locked, err := s.Locker.AcquireOrderLock(ctx, orderID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrOrderBusy
	}
	defer func() {
		if err := s.Locker.ReleaseOrderLock(context.Background(), orderID, token); err != nil {
			s.Logger.Error("REDIS", fmt.Sprintf("release order lock %d: %v", orderID, err))
		}
	}()

	gwCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()
	refund, err := s.Gateway.Refund(gwCtx, transactionID, o.TotalAmount)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "refunded by admin"
	}
	refunded, applied, err := s.DB.RefundOrder(ctx, orderID, refund.RefundID, reason)
	if err != nil {
		return nil, err
	}

	if applied {
		s.Logger.LogOrder("REFUND", orderID,
			fmt.Sprintf("refund_id=%s amount=%d reason=%s", refund.RefundID, o.TotalAmount, reason))
		if err := s.Publisher.PublishOrderRefunded(refunded); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish order refunded: %v", err))
		}
	}
	return refunded, nil
}

// ApplyRefundNotification applies a gateway-initiated refund (the money
// already moved on the gateway side, so no refund call is made here).
// Idempotent like ConfirmPayment.
func (s *Service) ApplyRefundNotification(ctx context.Context, orderID int64, refundID string) (*models.Order, bool, error) {
	o, applied, err := s.DB.RefundOrder(ctx, orderID, refundID, "gateway refund")
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.Logger.LogOrder("REFUND", orderID, "gateway-initiated, refund_id="+refundID)
		if err := s.Publisher.PublishOrderRefunded(o); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish order refunded: %v", err))
		}
	}
	return o, applied, nil
}
