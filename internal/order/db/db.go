package db

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"bar-orders/internal/events"
	"bar-orders/internal/models"
	"bar-orders/internal/order"
	"bar-orders/internal/participation"
)

// DB is the order store. Every multi-step mutation runs in a single
// transaction with the order (or user) row locked, so concurrent requests
// against the same order serialize here and no partial write is ever
// observable.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// ---------------- READS ----------------

func (d *DB) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := d.Bun.NewSelect().
		Model(&o).
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (d *DB) GetItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("oi.order_id = ?", orderID).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GetPendingOrderByUser returns the user's outstanding pending order, or
// nil when there is none.
func (d *DB) GetPendingOrderByUser(ctx context.Context, userID int64) (*models.Order, error) {
	var o models.Order
	err := d.Bun.NewSelect().
		Model(&o).
		Where("o.user_id = ?", userID).
		Where("o.status = ?", models.StatusPending).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (d *DB) GetActiveUser(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	err := d.Bun.NewSelect().
		Model(&u).
		Where("u.id = ?", userID).
		Where("u.status = ?", models.UserStatusActive).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DB) GetOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("o.user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ---------------- CREATION ----------------

// CreateOrderWithItems inserts the order and its items after re-running
// every precondition inside one transaction: user active, no other pending
// order, no existing participation, events live and under capacity. The
// user row is locked first so two concurrent creations by the same user
// serialize; event rows are locked for the capacity check, always in
// ascending event id order so two multi-event orders cannot deadlock on
// each other's locks. Any failure rolls the whole transaction back.
func (d *DB) CreateOrderWithItems(ctx context.Context, o *models.Order, items []models.OrderItem) error {
	sort.Slice(items, func(i, j int) bool { return items[i].EventID < items[j].EventID })

	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var user models.User
		q := tx.NewSelect().
			Model(&user).
			Where("u.id = ?", o.UserID).
			Where("u.status = ?", models.UserStatusActive).
			Limit(1)
		if d.rowLocks() {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order.ErrUserNotFound
			}
			return err
		}

		exists, err := tx.NewSelect().
			Model((*models.Order)(nil)).
			Where("o.user_id = ?", o.UserID).
			Where("o.status = ?", models.StatusPending).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return order.ErrDuplicatePendingOrder
		}

		now := time.Now()
		for i := range items {
			snap, err := events.SnapshotTx(ctx, tx, items[i].EventID)
			if err != nil {
				if errors.Is(err, events.ErrNotFound) {
					return order.ErrEventNotFound
				}
				return err
			}
			if snap.EndAt.Before(now) {
				return order.ErrEventEnded
			}
			if snap.Full() {
				return order.ErrEventFull
			}

			joined, err := tx.NewSelect().
				Model((*models.ParticipationRecord)(nil)).
				Where("p.user_id = ?", o.UserID).
				Where("p.event_id = ?", items[i].EventID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if joined {
				return order.ErrAlreadyParticipating
			}
		}

		if _, err := tx.NewInsert().Model(o).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

// ---------------- PAYMENT ----------------

// SetPaymentInfo stamps the gateway transaction opened for a pending order.
// Zero rows means the order is either gone or no longer pending; the two
// get distinct errors so callers can answer 404 vs 409.
func (d *DB) SetPaymentInfo(ctx context.Context, orderID int64, method, paymentID string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_method = ?", method).
		Set("payment_id = ?", paymentID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Where("status = ?", models.StatusPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		o, err := d.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		return &order.InvalidTransitionError{From: o.Status, To: models.StatusPaid}
	}
	return nil
}

// ConfirmOrder applies a successful gateway payment: pending -> paid ->
// confirmed in one transaction, stamping paid_at and confirmed_at and
// creating one participation row per item. The returned bool reports
// whether anything was applied: a non-pending order short-circuits as
// already processed, which makes re-delivered webhooks and double confirm
// calls no-ops. An amount mismatch fails hard and changes nothing.
func (d *DB) ConfirmOrder(ctx context.Context, orderID int64, transactionID string, amount int64) (*models.Order, bool, error) {
	var o models.Order
	applied := false

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := d.lockOrder(ctx, tx, orderID, &o); err != nil {
			return err
		}
		if o.Status != models.StatusPending {
			return nil
		}
		if amount != o.TotalAmount {
			return order.ErrAmountMismatch
		}
		if err := order.ValidateTransition(o.Status, models.StatusPaid); err != nil {
			return err
		}
		if err := order.ValidateTransition(models.StatusPaid, models.StatusConfirmed); err != nil {
			return err
		}

		now := time.Now()
		o.Status = models.StatusConfirmed
		o.PaidAt = &now
		o.ConfirmedAt = &now
		o.TransactionID = transactionID
		o.UpdatedAt = now

		_, err := tx.NewUpdate().
			Model(&o).
			Column("status", "paid_at", "confirmed_at", "transaction_id", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}

		var items []models.OrderItem
		if err := tx.NewSelect().Model(&items).Where("oi.order_id = ?", orderID).Scan(ctx); err != nil {
			return err
		}
		eventIDs := make([]int64, 0, len(items))
		for _, item := range items {
			eventIDs = append(eventIDs, item.EventID)
		}
		if err := participation.Add(ctx, tx, o.UserID, eventIDs, now); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &o, applied, nil
}

// ---------------- CANCELLATION / REFUND / EXPIRY ----------------

// CancelOrder moves a pending order to cancelled. No participation rows
// exist yet at this point, so there is nothing to clean up.
func (d *DB) CancelOrder(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	var o models.Order
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := d.lockOrder(ctx, tx, orderID, &o); err != nil {
			return err
		}
		if err := order.ValidateTransition(o.Status, models.StatusCancelled); err != nil {
			return err
		}

		now := time.Now()
		o.Status = models.StatusCancelled
		o.CancelledAt = &now
		o.CancellationReason = reason
		o.UpdatedAt = now

		_, err := tx.NewUpdate().
			Model(&o).
			Column("status", "cancelled_at", "cancellation_reason", "updated_at").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// RefundOrder moves a paid or confirmed order to refunded and removes the
// participation rows its confirmation created. The gateway refund must have
// succeeded before this is called. An already-refunded order is reported as
// applied=false so refund webhooks can be re-delivered safely.
func (d *DB) RefundOrder(ctx context.Context, orderID int64, refundID, reason string) (*models.Order, bool, error) {
	var o models.Order
	applied := false

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := d.lockOrder(ctx, tx, orderID, &o); err != nil {
			return err
		}
		if o.Status == models.StatusRefunded {
			return nil
		}
		if err := order.ValidateTransition(o.Status, models.StatusRefunded); err != nil {
			return err
		}

		now := time.Now()
		o.Status = models.StatusRefunded
		o.RefundedAt = &now
		o.RefundID = refundID
		o.CancellationReason = reason
		o.UpdatedAt = now

		_, err := tx.NewUpdate().
			Model(&o).
			Column("status", "refunded_at", "refund_id", "cancellation_reason", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}

		var items []models.OrderItem
		if err := tx.NewSelect().Model(&items).Where("oi.order_id = ?", orderID).Scan(ctx); err != nil {
			return err
		}
		eventIDs := make([]int64, 0, len(items))
		for _, item := range items {
			eventIDs = append(eventIDs, item.EventID)
		}
		if err := participation.Remove(ctx, tx, o.UserID, eventIDs); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &o, applied, nil
}

// GetStalePendingOrders lists pending orders created before the cutoff.
func (d *DB) GetStalePendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("o.status = ?", models.StatusPending).
		Where("o.created_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ExpireOrder moves a pending order to expired. Returns nil without error
// when another request already moved the order on.
func (d *DB) ExpireOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var o models.Order
	expired := false

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := d.lockOrder(ctx, tx, orderID, &o); err != nil {
			return err
		}
		if o.Status != models.StatusPending {
			return nil
		}
		if err := order.ValidateTransition(o.Status, models.StatusExpired); err != nil {
			return err
		}

		now := time.Now()
		o.Status = models.StatusExpired
		o.ExpiredAt = &now
		o.UpdatedAt = now

		_, err := tx.NewUpdate().
			Model(&o).
			Column("status", "expired_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !expired {
		return nil, nil
	}
	return &o, nil
}

// ---------------- HELPERS ----------------

func (d *DB) lockOrder(ctx context.Context, tx bun.Tx, orderID int64, o *models.Order) error {
	q := tx.NewSelect().
		Model(o).
		Where("o.id = ?", orderID).
		Limit(1)
	if d.rowLocks() {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return order.ErrOrderNotFound
	}
	return err
}

// SQLite (tests) rejects FOR UPDATE; its single-writer lock serializes the
// transaction instead.
func (d *DB) rowLocks() bool {
	return d.Bun.Dialect().Name() == dialect.PG
}
