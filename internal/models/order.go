package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusConfirmed OrderStatus = "confirmed"
	StatusCancelled OrderStatus = "cancelled"
	StatusRefunded  OrderStatus = "refunded"
	StatusExpired   OrderStatus = "expired"
)

// Order carries an immutable price snapshot: TotalAmount is fixed at
// creation and only status, gateway references and timestamps mutate
// afterwards. Amounts are integer minor currency units (TWD has no subunit).
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID            int64       `bun:"id,pk" json:"id,string"`
	OrderNumber   string      `bun:"order_number,notnull" json:"order_number"`
	UserID        int64       `bun:"user_id,notnull" json:"user_id,string"`
	TotalAmount   int64       `bun:"total_amount,notnull" json:"total_amount"`
	Status        OrderStatus `bun:"status,notnull" json:"status"`
	PaymentMethod string      `bun:"payment_method,nullzero" json:"payment_method,omitempty"`

	// PaymentID is the gateway transaction opened at payment-request time,
	// TransactionID the one reported back on capture, RefundID on refund.
	PaymentID     string `bun:"payment_id,nullzero" json:"payment_id,omitempty"`
	TransactionID string `bun:"transaction_id,nullzero" json:"transaction_id,omitempty"`
	RefundID      string `bun:"refund_id,nullzero" json:"refund_id,omitempty"`

	CancellationReason string `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	PaidAt      *time.Time `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	ConfirmedAt *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `bun:"refunded_at,nullzero" json:"refunded_at,omitempty"`
	ExpiredAt   *time.Time `bun:"expired_at,nullzero" json:"expired_at,omitempty"`
}

// OrderItem is one event ticket inside an order, with the event details
// denormalized at purchase time. Items are write-once: never added to or
// removed from an order after creation. Quantity is always 1.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID         int64     `bun:"id,pk" json:"id,string"`
	OrderID    int64     `bun:"order_id,notnull" json:"order_id,string"`
	EventID    int64     `bun:"event_id,notnull" json:"event_id,string"`
	EventName  string    `bun:"event_name,notnull" json:"event_name"`
	BarName    string    `bun:"bar_name" json:"bar_name"`
	Location   string    `bun:"location" json:"location"`
	StartAt    time.Time `bun:"start_at" json:"start_at"`
	EndAt      time.Time `bun:"end_at" json:"end_at"`
	HostUserID int64     `bun:"host_user_id" json:"host_user_id,string"`
	Price      int64     `bun:"price,notnull" json:"price"`
	Quantity   int       `bun:"quantity,notnull" json:"quantity"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}

type OrderItemRequest struct {
	EventID  int64 `json:"event_id,string"`
	Quantity int   `json:"quantity"`
}

// CreateOrderRequest carries only the items; the buyer's identity comes
// from the authenticated request headers and a user_id in the body is
// ignored.
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ConfirmPaymentRequest optionally names the gateway transaction to
// capture. The charged amount is taken from the gateway's answer, never
// from the client.
type ConfirmPaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

type OrderResponse struct {
	Order             *Order        `json:"order"`
	Items             []OrderItem   `json:"items,omitempty"`
	AllowedNextStates []OrderStatus `json:"allowed_next_states"`
	Actions           OrderActions  `json:"actions"`
}

// OrderActions are capability flags derived from the allowed transitions,
// so clients never hardcode the state machine.
type OrderActions struct {
	CanPay     bool `json:"can_pay"`
	CanCancel  bool `json:"can_cancel"`
	CanConfirm bool `json:"can_confirm"`
	CanRefund  bool `json:"can_refund"`
}
