package order

import (
	"context"
	"errors"
	"fmt"

	"bar-orders/internal/models"
	"bar-orders/internal/utils"
)

// ConfirmPayment applies a successful external payment to an order. It is
// idempotent: the store short-circuits when the order already left pending,
// so calling this N times with the same transaction produces one paid_at
// timestamp and one participation row per event. An amount mismatch is a
// hard failure that leaves the order untouched.
func (s *Service) ConfirmPayment(ctx context.Context, orderID int64, transactionID string, amount int64) (*models.Order, bool, error) {
	o, applied, err := s.DB.ConfirmOrder(ctx, orderID, transactionID, amount)
	if err != nil {
		if errors.Is(err, ErrAmountMismatch) {
			s.Logger.LogSecurity("AMOUNT_MISMATCH",
				fmt.Sprintf("order=%d txn=%s got=%d", orderID, transactionID, amount))
		}
		return nil, false, err
	}

	if applied {
		s.Logger.LogOrder("CONFIRM", orderID, "payment applied, txn="+transactionID)
		if err := s.Publisher.PublishOrderConfirmed(o); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish order confirmed: %v", err))
		}
	} else {
		s.Logger.LogOrder("CONFIRM", orderID, fmt.Sprintf("already processed, status=%s", o.Status))
	}
	return o, applied, nil
}

// ConfirmWithGateway handles the owner's confirm call: it captures the
// payment at the gateway first, under the per-order lock, and only applies
// the local transition after the gateway reports success. A gateway timeout
// changes nothing locally; the client or the webhook channel retries.
func (s *Service) ConfirmWithGateway(ctx context.Context, orderID, actorID int64, paymentID string) (*models.Order, error) {
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actorID {
		return nil, ErrNotOwner
	}
	if o.Status != models.StatusPending {
		// Re-delivered confirm on a settled order is success, not an error.
		return o, nil
	}

	transactionID := paymentID
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
	result, err := s.Gateway.ConfirmPayment(gwCtx, transactionID, o.TotalAmount, s.opts.Currency)
	if err != nil {
		return nil, err
	}

	confirmed, _, err := s.ConfirmPayment(ctx, orderID, result.TransactionID, result.Amount)
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// CreatePayment opens a gateway payment session for a pending order. When
// the order already has an unfinished gateway transaction, that session is
// reused instead of opening a second one.
func (s *Service) CreatePayment(ctx context.Context, orderID, actorID int64) (*models.PaymentSession, error) {
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actorID {
		return nil, ErrNotOwner
	}
	if err := ValidateTransition(o.Status, models.StatusPaid); err != nil {
		return nil, err
	}

	if o.PaymentID != "" && o.PaymentMethod == s.Gateway.Name() {
		gwCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
		status, err := s.Gateway.QueryStatus(gwCtx, o.PaymentID)
		cancel()
		if err == nil && !status.Paid {
			s.Logger.LogPayment("REUSE", o.PaymentID, fmt.Sprintf("order=%d", orderID))
			return &models.PaymentSession{TransactionID: o.PaymentID}, nil
		}
	}

	items, err := s.DB.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	products := make([]models.PaymentProduct, 0, len(items))
	for _, item := range items {
		products = append(products, models.PaymentProduct{
			ID:       fmt.Sprintf("product_%d", item.ID),
			Name:     fmt.Sprintf("%s - %s", item.EventName, item.BarName),
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()
	session, err := s.Gateway.CreatePayment(gwCtx, models.PaymentRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Amount:      o.TotalAmount,
		Currency:    s.opts.Currency,
		Description: fmt.Sprintf("event tickets - %d events", len(items)),
		Products:    products,
		ConfirmURL:  fmt.Sprintf("%s?orderId=%d", s.opts.ConfirmURL, o.ID),
		CancelURL:   fmt.Sprintf("%s?orderId=%d", s.opts.CancelURL, o.ID),
	})
	if err != nil {
		return nil, err
	}

	if err := s.DB.SetPaymentInfo(ctx, orderID, s.Gateway.Name(), session.TransactionID); err != nil {
		return nil, err
	}

	s.Logger.LogPayment("CREATE", session.TransactionID,
		fmt.Sprintf("order=%d amount=%d", orderID, o.TotalAmount))
	return session, nil
}

// CheckPaymentStatus reports the order plus the gateway's live view. When
// the gateway says paid but the order is still pending (missed webhook),
// the normal idempotent confirmation runs here to synchronize.
func (s *Service) CheckPaymentStatus(ctx context.Context, orderID, actorID int64) (*models.Order, *models.PaymentStatusInfo, error) {
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.UserID != actorID {
		return nil, nil, ErrNotOwner
	}

	transactionID := o.TransactionID
	if transactionID == "" {
		transactionID = o.PaymentID
	}
	if transactionID == "" {
		return o, nil, nil
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()
	status, err := s.Gateway.QueryStatus(gwCtx, transactionID)
	if err != nil {
		// Local state still answers; the live gateway view is best effort.
		s.Logger.Warn("PAYMENT", fmt.Sprintf("status query failed for order %d: %v", orderID, err))
		return o, nil, nil
	}

	if status.Paid && o.Status == models.StatusPending {
		s.Logger.LogPayment("SYNC", transactionID, fmt.Sprintf("order=%d confirmed on status read", orderID))
		if synced, _, err := s.ConfirmPayment(ctx, orderID, transactionID, o.TotalAmount); err == nil {
			o = synced
		}
	}
	return o, status, nil
}
