package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"bar-orders/internal/models"
	"bar-orders/internal/order"
	"bar-orders/internal/order/db"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	db.Migrate(bunDB)
	return db.New(bunDB), bunDB
}

func seedUser(t *testing.T, bunDB *bun.DB, id int64) {
	t.Helper()
	u := models.User{ID: id, Name: "tester", Role: "user", Status: models.UserStatusActive, CreatedAt: time.Now()}
	_, err := bunDB.NewInsert().Model(&u).Exec(context.Background())
	assert.NoError(t, err)
}

func seedEvent(t *testing.T, bunDB *bun.DB, id int64, price int64, maxPeople int) {
	t.Helper()
	e := models.Event{
		ID:         id,
		Name:       "Friday Jazz Night",
		BarName:    "The Copper Still",
		Location:   "Taipei",
		StartAt:    time.Now().Add(24 * time.Hour),
		EndAt:      time.Now().Add(30 * time.Hour),
		MaxPeople:  maxPeople,
		Price:      price,
		HostUserID: 900,
		Status:     models.EventStatusActive,
		CreatedAt:  time.Now(),
	}
	_, err := bunDB.NewInsert().Model(&e).Exec(context.Background())
	assert.NoError(t, err)
}

func pendingOrder(id, userID int64, total int64) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:          id,
		OrderNumber: "ORD-20260829-000001",
		UserID:      userID,
		TotalAmount: total,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func itemsFor(orderID, eventID int64, price int64) []models.OrderItem {
	return []models.OrderItem{{
		ID:        orderID + 1,
		OrderID:   orderID,
		EventID:   eventID,
		EventName: "Friday Jazz Night",
		Price:     price,
		Quantity:  1,
		CreatedAt: time.Now(),
	}}
}

func TestCreateOrderWithItems(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)

	err := store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350))
	assert.NoError(t, err)

	got, err := store.GetOrderByID(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(350), got.TotalAmount)

	items, err := store.GetItemsByOrder(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(101), items[0].EventID)
}

func TestCreateOrderWithItemsAnyEventOrder(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	seedEvent(t, bunDB, 102, 450, 20)

	// Items arrive in descending event order; creation normalizes the
	// event visit order, so every item still lands.
	items := []models.OrderItem{
		{ID: 2, OrderID: 1, EventID: 102, EventName: "Friday Jazz Night", Price: 450, Quantity: 1, CreatedAt: time.Now()},
		{ID: 3, OrderID: 1, EventID: 101, EventName: "Friday Jazz Night", Price: 350, Quantity: 1, CreatedAt: time.Now()},
	}
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 800), items))

	got, err := store.GetItemsByOrder(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCreateOrderWithItemsPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		store, bunDB := setupTestDB(t)
		defer bunDB.Close()
		seedEvent(t, bunDB, 101, 350, 20)

		err := store.CreateOrderWithItems(ctx, pendingOrder(1, 99, 350), itemsFor(1, 101, 350))
		assert.ErrorIs(t, err, order.ErrUserNotFound)
	})

	t.Run("duplicate pending order", func(t *testing.T) {
		store, bunDB := setupTestDB(t)
		defer bunDB.Close()
		seedUser(t, bunDB, 7)
		seedEvent(t, bunDB, 101, 350, 20)
		seedEvent(t, bunDB, 102, 350, 20)

		assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

		err := store.CreateOrderWithItems(ctx, pendingOrder(10, 7, 350), itemsFor(10, 102, 350))
		assert.ErrorIs(t, err, order.ErrDuplicatePendingOrder)
	})

	t.Run("deleted event", func(t *testing.T) {
		store, bunDB := setupTestDB(t)
		defer bunDB.Close()
		seedUser(t, bunDB, 7)
		e := models.Event{ID: 101, Name: "gone", StartAt: time.Now(), EndAt: time.Now().Add(time.Hour), Status: models.EventStatusDeleted, CreatedAt: time.Now()}
		_, err := bunDB.NewInsert().Model(&e).Exec(ctx)
		assert.NoError(t, err)

		err = store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350))
		assert.ErrorIs(t, err, order.ErrEventNotFound)
	})

	t.Run("event at capacity", func(t *testing.T) {
		store, bunDB := setupTestDB(t)
		defer bunDB.Close()
		seedUser(t, bunDB, 7)
		seedEvent(t, bunDB, 101, 350, 1)

		taken := models.ParticipationRecord{UserID: 8, EventID: 101, JoinedAt: time.Now()}
		_, err := bunDB.NewInsert().Model(&taken).Exec(ctx)
		assert.NoError(t, err)

		err = store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350))
		assert.ErrorIs(t, err, order.ErrEventFull)
	})

	t.Run("already participating", func(t *testing.T) {
		store, bunDB := setupTestDB(t)
		defer bunDB.Close()
		seedUser(t, bunDB, 7)
		seedEvent(t, bunDB, 101, 350, 20)

		mine := models.ParticipationRecord{UserID: 7, EventID: 101, JoinedAt: time.Now()}
		_, err := bunDB.NewInsert().Model(&mine).Exec(ctx)
		assert.NoError(t, err)

		err = store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350))
		assert.ErrorIs(t, err, order.ErrAlreadyParticipating)
	})

	t.Run("rollback leaves nothing behind", func(t *testing.T) {
		store, bunDB := setupTestDB(t)
		defer bunDB.Close()
		seedUser(t, bunDB, 7)
		seedEvent(t, bunDB, 101, 350, 20)

		missing := itemsFor(1, 404, 350)
		missing[0].ID = 3
		items := append(itemsFor(1, 101, 350), missing...)
		err := store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 700), items)
		assert.ErrorIs(t, err, order.ErrEventNotFound)

		_, err = store.GetOrderByID(ctx, 1)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})
}

func TestConfirmOrder(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	o, applied, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StatusConfirmed, o.Status)
	assert.Equal(t, "txn-1", o.TransactionID)
	assert.NotNil(t, o.PaidAt)
	assert.NotNil(t, o.ConfirmedAt)

	// Confirmation grants participation.
	joined, err := bunDB.NewSelect().
		Model((*models.ParticipationRecord)(nil)).
		Where("p.user_id = ?", 7).
		Where("p.event_id = ?", 101).
		Exists(ctx)
	assert.NoError(t, err)
	assert.True(t, joined)
}

func TestConfirmOrderIdempotent(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	first, applied, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)
	assert.True(t, applied)

	second, applied, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first.PaidAt.Unix(), second.PaidAt.Unix())
	assert.Equal(t, "txn-1", second.TransactionID)

	count, err := bunDB.NewSelect().
		Model((*models.ParticipationRecord)(nil)).
		Where("p.user_id = ?", 7).
		Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfirmOrderAmountMismatch(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	_, _, err := store.ConfirmOrder(ctx, 1, "txn-1", 100)
	assert.ErrorIs(t, err, order.ErrAmountMismatch)

	// Nothing changed.
	o, err := store.GetOrderByID(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Empty(t, o.TransactionID)
}

func TestCancelOrder(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	o, err := store.CancelOrder(ctx, 1, "changed my mind")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, o.Status)
	assert.Equal(t, "changed my mind", o.CancellationReason)
	assert.NotNil(t, o.CancelledAt)

	// Cancelled is terminal.
	_, _, err = store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err) // short-circuits as already processed
	got, err := store.GetOrderByID(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestCancelOrderInvalidFromConfirmed(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))
	_, _, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)

	_, err = store.CancelOrder(ctx, 1, "too late")
	var ite *order.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestRefundOrder(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))
	_, _, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)

	o, applied, err := store.RefundOrder(ctx, 1, "rf-1", "duplicate charge")
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StatusRefunded, o.Status)
	assert.Equal(t, "rf-1", o.RefundID)
	assert.NotNil(t, o.RefundedAt)

	// Refund revokes participation.
	joined, err := bunDB.NewSelect().
		Model((*models.ParticipationRecord)(nil)).
		Where("p.user_id = ?", 7).
		Where("p.event_id = ?", 101).
		Exists(ctx)
	assert.NoError(t, err)
	assert.False(t, joined)
}

func TestRefundOrderIdempotent(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))
	_, _, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)

	_, applied, err := store.RefundOrder(ctx, 1, "rf-1", "duplicate charge")
	assert.NoError(t, err)
	assert.True(t, applied)

	second, applied, err := store.RefundOrder(ctx, 1, "rf-2", "duplicate delivery")
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "rf-1", second.RefundID, "original refund reference survives re-delivery")
}

func TestRefundOrderFromPendingRejected(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	_, _, err := store.RefundOrder(ctx, 1, "rf-1", "nope")
	var ite *order.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestExpireOrder(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)

	stale := pendingOrder(1, 7, 350)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	assert.NoError(t, store.CreateOrderWithItems(ctx, stale, itemsFor(1, 101, 350)))

	found, err := store.GetStalePendingOrders(ctx, time.Now().Add(-15*time.Minute))
	assert.NoError(t, err)
	assert.Len(t, found, 1)

	o, err := store.ExpireOrder(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusExpired, o.Status)
	assert.NotNil(t, o.ExpiredAt)

	// Already expired: the sweeper gets nil, not an error.
	again, err := store.ExpireOrder(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, again)
}

func TestExpireOrderSkipsSettled(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))
	_, _, err := store.ConfirmOrder(ctx, 1, "txn-1", 350)
	assert.NoError(t, err)

	o, err := store.ExpireOrder(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, o)

	got, err := store.GetOrderByID(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestSetPaymentInfo(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	assert.NoError(t, store.SetPaymentInfo(ctx, 1, "linepay", "txn-9"))

	o, err := store.GetOrderByID(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, "linepay", o.PaymentMethod)
	assert.Equal(t, "txn-9", o.PaymentID)

	// Settled orders refuse new payment references with a transition
	// error; a missing order stays a not-found.
	_, _, err = store.ConfirmOrder(ctx, 1, "txn-9", 350)
	assert.NoError(t, err)
	err = store.SetPaymentInfo(ctx, 1, "linepay", "txn-10")
	var ite *order.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
	assert.Equal(t, models.StatusConfirmed, ite.From)

	err = store.SetPaymentInfo(ctx, 999, "linepay", "txn-10")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestGetPendingOrderByUser(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	found, err := store.GetPendingOrderByUser(ctx, 7)
	assert.NoError(t, err)
	assert.Nil(t, found)

	seedUser(t, bunDB, 7)
	seedEvent(t, bunDB, 101, 350, 20)
	assert.NoError(t, store.CreateOrderWithItems(ctx, pendingOrder(1, 7, 350), itemsFor(1, 101, 350)))

	found, err = store.GetPendingOrderByUser(ctx, 7)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, int64(1), found.ID)
}
