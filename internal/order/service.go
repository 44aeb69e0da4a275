package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bar-orders/internal/events"
	"bar-orders/internal/logger"
	"bar-orders/internal/models"
	"bar-orders/internal/utils"
)

// DBLayer is the transactional order store. Implementations guarantee that
// each method is atomic: either all of its writes commit or none do.
type DBLayer interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetPendingOrderByUser(ctx context.Context, userID int64) (*models.Order, error)
	GetActiveUser(ctx context.Context, userID int64) (*models.User, error)
	CreateOrderWithItems(ctx context.Context, o *models.Order, items []models.OrderItem) error
	SetPaymentInfo(ctx context.Context, orderID int64, method, paymentID string) error
	ConfirmOrder(ctx context.Context, orderID int64, transactionID string, amount int64) (*models.Order, bool, error)
	CancelOrder(ctx context.Context, orderID int64, reason string) (*models.Order, error)
	RefundOrder(ctx context.Context, orderID int64, refundID, reason string) (*models.Order, bool, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetStalePendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	ExpireOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

// SnapshotReader reads event capacity and price as of call time.
type SnapshotReader interface {
	Snapshot(ctx context.Context, eventID int64) (*models.EventSnapshot, error)
}

// Gateway is the narrow payment-provider contract. Calls are blocking I/O
// with caller-bounded timeouts; Refund is idempotent keyed by transaction id.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error)
	ConfirmPayment(ctx context.Context, transactionID string, amount int64, currency string) (*models.PaymentResult, error)
	QueryStatus(ctx context.Context, transactionID string) (*models.PaymentStatusInfo, error)
	Refund(ctx context.Context, transactionID string, amount int64) (*models.RefundResult, error)
}

// Locker serializes payment processing per order across server instances.
type Locker interface {
	AcquireOrderLock(ctx context.Context, orderID int64, token string) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderID int64, token string) error
	MarkTransactionSeen(ctx context.Context, transactionID string, ttl time.Duration) (bool, error)
}

// Publisher streams lifecycle events; failures are logged, never fatal.
type Publisher interface {
	PublishOrderCreated(order *models.Order) error
	PublishOrderConfirmed(order *models.Order) error
	PublishOrderCancelled(order *models.Order) error
	PublishOrderRefunded(order *models.Order) error
	PublishOrderExpired(order *models.Order) error
}

type Options struct {
	Currency       string
	GatewayTimeout time.Duration
	PendingTTL     time.Duration
	ConfirmURL     string
	CancelURL      string
}

type Service struct {
	DB        DBLayer
	Events    SnapshotReader
	Gateway   Gateway
	Locker    Locker
	Publisher Publisher
	Logger    *logger.Logger

	opts Options
}

func NewService(db DBLayer, events SnapshotReader, gateway Gateway, locker Locker, publisher Publisher, log *logger.Logger, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "TWD"
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 30 * time.Second
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 15 * time.Minute
	}
	return &Service{
		DB:        db,
		Events:    events,
		Gateway:   gateway,
		Locker:    locker,
		Publisher: publisher,
		Logger:    log,
		opts:      opts,
	}
}

const maxItemsPerOrder = 10

// CreateOrder validates the request, snapshots live event prices into a new
// pending order and persists it atomically. Participation is not granted
// here: an unpaid order holds the user's single-outstanding-order slot but
// never counts as a confirmed participant.
func (s *Service) CreateOrder(ctx context.Context, userID int64, itemReqs []models.OrderItemRequest) (*models.OrderResponse, error) {
	if err := validateCreateInput(userID, itemReqs); err != nil {
		return nil, err
	}

	if _, err := s.DB.GetActiveUser(ctx, userID); err != nil {
		return nil, err
	}

	if pending, err := s.DB.GetPendingOrderByUser(ctx, userID); err != nil {
		return nil, err
	} else if pending != nil {
		return nil, ErrDuplicatePendingOrder
	}

	now := time.Now()
	orderID := utils.GenerateOrderID()
	var total int64
	items := make([]models.OrderItem, 0, len(itemReqs))

	for _, req := range itemReqs {
		snap, err := s.Events.Snapshot(ctx, req.EventID)
		if err != nil {
			if errors.Is(err, events.ErrNotFound) {
				return nil, ErrEventNotFound
			}
			return nil, err
		}
		if snap.EndAt.Before(now) {
			return nil, ErrEventEnded
		}
		if snap.Full() {
			return nil, ErrEventFull
		}

		total += snap.Price
		items = append(items, models.OrderItem{
			ID:         utils.GenerateOrderID(),
			OrderID:    orderID,
			EventID:    snap.ID,
			EventName:  snap.Name,
			BarName:    snap.BarName,
			Location:   snap.Location,
			StartAt:    snap.StartAt,
			EndAt:      snap.EndAt,
			HostUserID: snap.HostUserID,
			Price:      snap.Price,
			Quantity:   1,
			CreatedAt:  now,
		})
	}

	o := &models.Order{
		ID:          orderID,
		OrderNumber: utils.GenerateOrderNumber(),
		UserID:      userID,
		TotalAmount: total,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The store re-runs every precondition under row locks; the reads above
	// only give callers fast failures outside the transaction.
	if err := s.DB.CreateOrderWithItems(ctx, o, items); err != nil {
		return nil, err
	}

	s.Logger.LogOrder("CREATE", o.ID, fmt.Sprintf("user=%d total=%d items=%d", userID, total, len(items)))
	if err := s.Publisher.PublishOrderCreated(o); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish order created: %v", err))
	}

	return s.buildResponse(o, items), nil
}

func validateCreateInput(userID int64, items []models.OrderItemRequest) error {
	if userID <= 0 {
		return Validationf("user_id is required")
	}
	if len(items) == 0 {
		return Validationf("items must not be empty")
	}
	if len(items) > maxItemsPerOrder {
		return Validationf("at most %d items per order", maxItemsPerOrder)
	}
	seen := make(map[int64]bool, len(items))
	for i, item := range items {
		if item.EventID <= 0 {
			return Validationf("item %d: event_id is required", i+1)
		}
		if item.Quantity != 1 {
			return Validationf("item %d: one ticket per event per order", i+1)
		}
		if seen[item.EventID] {
			return Validationf("item %d: duplicate event %d", i+1, item.EventID)
		}
		seen[item.EventID] = true
	}
	return nil
}

// GetOrder returns the order with its items and the caller's allowed next
// states. Owners and admins only.
func (s *Service) GetOrder(ctx context.Context, orderID, actorID int64, actorRole string) (*models.OrderResponse, error) {
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actorID && actorRole != "admin" {
		return nil, ErrNotOwner
	}
	items, err := s.DB.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.buildResponse(o, items), nil
}

// ListUserOrders returns the caller's orders, newest first, each with its
// items and allowed next states.
func (s *Service) ListUserOrders(ctx context.Context, userID int64) ([]*models.OrderResponse, error) {
	orders, err := s.DB.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	responses := make([]*models.OrderResponse, 0, len(orders))
	for i := range orders {
		items, err := s.DB.GetItemsByOrder(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, s.buildResponse(&orders[i], items))
	}
	return responses, nil
}

// CancelOrder is the user-initiated, pre-payment cancellation. Only the
// owner may cancel and only from pending; no participation rows exist yet
// and the gateway is never involved.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64, reason string) (*models.Order, error) {
	o, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actorID {
		return nil, ErrNotOwner
	}
	if reason == "" {
		reason = "user requested"
	}

	cancelled, err := s.DB.CancelOrder(ctx, orderID, reason)
	if err != nil {
		return nil, err
	}

	s.Logger.LogOrder("CANCEL", orderID, "reason: "+reason)
	if err := s.Publisher.PublishOrderCancelled(cancelled); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish order cancelled: %v", err))
	}
	return cancelled, nil
}

func (s *Service) buildResponse(o *models.Order, items []models.OrderItem) *models.OrderResponse {
	return &models.OrderResponse{
		Order:             o,
		Items:             items,
		AllowedNextStates: AllowedTransitions(o.Status),
		Actions:           ActionsFor(o.Status),
	}
}
