package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"bar-orders/internal/models"
	"bar-orders/internal/order"
)

func refundedOrder(id int64, refundID string) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:            id,
		UserID:        7,
		TotalAmount:   350,
		Status:        models.StatusRefunded,
		TransactionID: "txn-1",
		RefundID:      refundID,
		RefundedAt:    &now,
	}
}

func TestRefundOrder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	stored := confirmedOrder(55, 7, 350, "txn-1")
	refunded := refundedOrder(55, "rf-1")

	env.db.On("GetOrderByID", ctx, int64(55)).Return(stored, nil)
	env.locker.On("AcquireOrderLock", ctx, int64(55), mock.Anything).Return(true, nil)
	env.locker.On("ReleaseOrderLock", mock.Anything, int64(55), mock.Anything).Return(nil)
	env.gateway.On("Refund", mock.Anything, "txn-1", int64(350)).
		Return(&models.RefundResult{RefundID: "rf-1", Amount: 350}, nil)
	env.db.On("RefundOrder", ctx, int64(55), "rf-1", "duplicate charge").Return(refunded, true, nil)
	env.publisher.On("PublishOrderRefunded", refunded).Return(nil)

	result, err := env.svc.RefundOrder(ctx, 55, "admin", "duplicate charge")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, result.Status)
	assert.Equal(t, "rf-1", result.RefundID)
	env.gateway.AssertExpectations(t)
	env.db.AssertExpectations(t)
}

func TestRefundOrderAdminOnly(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.RefundOrder(context.Background(), 55, "user", "please")
	assert.ErrorIs(t, err, order.ErrForbidden)
	env.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundOrderInvalidState(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.db.On("GetOrderByID", ctx, int64(55)).
		Return(&models.Order{ID: 55, UserID: 7, Status: models.StatusPending}, nil)

	_, err := env.svc.RefundOrder(ctx, 55, "admin", "")
	var ite *order.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
	env.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundOrderGatewayFailureChangesNothing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	stored := confirmedOrder(55, 7, 350, "txn-1")
	env.db.On("GetOrderByID", ctx, int64(55)).Return(stored, nil)
	env.locker.On("AcquireOrderLock", ctx, int64(55), mock.Anything).Return(true, nil)
	env.locker.On("ReleaseOrderLock", mock.Anything, int64(55), mock.Anything).Return(nil)
	env.gateway.On("Refund", mock.Anything, "txn-1", int64(350)).
		Return(nil, &order.GatewayError{Op: "refund", Err: context.DeadlineExceeded})

	_, err := env.svc.RefundOrder(ctx, 55, "admin", "")

	var gwErr *order.GatewayError
	assert.ErrorAs(t, err, &gwErr)
	env.db.AssertNotCalled(t, "RefundOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.publisher.AssertNotCalled(t, "PublishOrderRefunded", mock.Anything)
}

func TestRefundOrderNoReference(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	stored := confirmedOrder(55, 7, 350, "")
	stored.TransactionID = ""
	env.db.On("GetOrderByID", ctx, int64(55)).Return(stored, nil)

	_, err := env.svc.RefundOrder(ctx, 55, "admin", "")
	assert.ErrorIs(t, err, order.ErrNoPaymentReference)
}

func TestApplyRefundNotification(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	refunded := refundedOrder(55, "rf-9")
	env.db.On("RefundOrder", ctx, int64(55), "rf-9", "gateway refund").Return(refunded, true, nil)
	env.publisher.On("PublishOrderRefunded", refunded).Return(nil)

	o, applied, err := env.svc.ApplyRefundNotification(ctx, 55, "rf-9")
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StatusRefunded, o.Status)

	// No gateway call: the money already moved on the gateway side.
	env.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyRefundNotificationIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	refunded := refundedOrder(55, "rf-9")
	env.db.On("RefundOrder", ctx, int64(55), "rf-9", "gateway refund").Return(refunded, false, nil)

	_, applied, err := env.svc.ApplyRefundNotification(ctx, 55, "rf-9")
	assert.NoError(t, err)
	assert.False(t, applied)
	env.publisher.AssertNotCalled(t, "PublishOrderRefunded", mock.Anything)
}
