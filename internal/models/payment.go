package models

import "time"

// PaymentRequest is what the engine hands to a gateway to open a payment.
type PaymentRequest struct {
	OrderID     int64
	OrderNumber string
	Amount      int64
	Currency    string
	Description string
	Products    []PaymentProduct
	ConfirmURL  string
	CancelURL   string
}

type PaymentProduct struct {
	ID       string
	Name     string
	Quantity int
	Price    int64
}

// PaymentSession is the gateway's handle for an opened payment. The user is
// sent to PaymentURL (redirect gateways) or given ClientSecret (embedded
// gateways) to complete it.
type PaymentSession struct {
	TransactionID string
	PaymentURL    string
	ClientSecret  string
	ExpiresAt     time.Time
}

type PaymentResult struct {
	TransactionID string
	Amount        int64
	Currency      string
}

type PaymentStatusInfo struct {
	TransactionID string
	Status        string
	Paid          bool
	Amount        int64
	Currency      string
}

type RefundResult struct {
	RefundID string
	Amount   int64
}
