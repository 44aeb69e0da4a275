package models

import "time"

// PaymentWebhook is the canonical shape every vendor payload is normalized
// into before any order state is touched.
type PaymentWebhook struct {
	OrderID       int64
	TransactionID string
	Status        string // lowercased vendor status
	Amount        int64
	Currency      string
	PaidAt        *time.Time
}

// RefundWebhook is the canonical shape of a gateway refund notification.
type RefundWebhook struct {
	OrderID    int64
	RefundID   string
	Status     string
	Amount     int64
	RefundedAt *time.Time
}

// WebhookOutcome is returned to the webhook endpoint; the gateway only looks
// at the HTTP status, the body is for operators.
type WebhookOutcome struct {
	OrderID          int64       `json:"order_id,string"`
	OrderStatus      OrderStatus `json:"order_status"`
	AlreadyProcessed bool        `json:"already_processed"`
	Applied          string      `json:"applied"` // confirmed | cancelled | refunded | acknowledged
}
