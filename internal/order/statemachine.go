package order

import "bar-orders/internal/models"

// The order lifecycle is a fixed state machine. pending is initial;
// cancelled, refunded and expired are terminal. paid and confirmed are kept
// separate so that money changing hands (paid) and the merchant-side grant
// of participation (confirmed) remain distinct facts: settlement side
// effects are gated on confirmed only.
//
//	pending   -> paid | cancelled | expired
//	paid      -> confirmed | refunded
//	confirmed -> refunded
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:   {models.StatusPaid, models.StatusCancelled, models.StatusExpired},
	models.StatusPaid:      {models.StatusConfirmed, models.StatusRefunded},
	models.StatusConfirmed: {models.StatusRefunded},
	models.StatusCancelled: {},
	models.StatusRefunded:  {},
	models.StatusExpired:   {},
}

// ValidateTransition reports whether current -> target is a legal move.
// It is pure: every entry point (confirm call, webhook, refund, cancel,
// expiry sweep) consults this one function instead of re-implementing the
// rules per call site.
func ValidateTransition(current, target models.OrderStatus) error {
	allowed, ok := transitions[current]
	if !ok {
		return &InvalidTransitionError{From: current, To: target}
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return &InvalidTransitionError{From: current, To: target}
}

// AllowedTransitions returns the legal next states for a status. The slice
// is a copy; callers may not mutate the machine.
func AllowedTransitions(current models.OrderStatus) []models.OrderStatus {
	allowed := transitions[current]
	out := make([]models.OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s models.OrderStatus) bool {
	return len(transitions[s]) == 0
}

// ActionsFor derives client capability flags from the allowed transitions.
func ActionsFor(current models.OrderStatus) models.OrderActions {
	var a models.OrderActions
	for _, s := range AllowedTransitions(current) {
		switch s {
		case models.StatusPaid:
			a.CanPay = true
		case models.StatusCancelled:
			a.CanCancel = true
		case models.StatusConfirmed:
			a.CanConfirm = true
		case models.StatusRefunded:
			a.CanRefund = true
		}
	}
	return a
}
