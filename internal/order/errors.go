package order

import (
	"errors"
	"fmt"

	"bar-orders/internal/models"
)

// Sentinel errors shared by the services and the storage layer. Handlers map
// them to HTTP statuses in one place.
var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrUserNotFound          = errors.New("user not found or inactive")
	ErrEventNotFound         = errors.New("event not found or deleted")
	ErrEventEnded            = errors.New("event has already ended")
	ErrEventFull             = errors.New("event is full")
	ErrDuplicatePendingOrder = errors.New("user already has a pending order")
	ErrAlreadyParticipating  = errors.New("user already participates in this event")
	ErrAmountMismatch        = errors.New("payment amount does not match order total")
	ErrNotOwner              = errors.New("order does not belong to this user")
	ErrForbidden             = errors.New("operation not permitted for this role")
	ErrOrderBusy             = errors.New("order is being processed by another request")
	ErrNoPaymentReference    = errors.New("order has no gateway payment reference")
)

// ValidationError marks malformed input; always a 400 with no side effects.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports an illegal state-machine move.
type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

// GatewayError wraps a payment-provider failure. Retryable distinguishes
// transport problems (client may retry) from gateway rejections.
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
