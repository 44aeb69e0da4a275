package stripegw

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"bar-orders/internal/config"
	"bar-orders/internal/logger"
	"bar-orders/internal/models"
	"bar-orders/internal/order"
)

var ErrNotConfigured = errors.New("stripe secret key not configured")

// Client adapts Stripe payment intents to the engine's gateway contract.
// Amounts are passed through unscaled; TWD is a zero-decimal currency.
type Client struct {
	api *client.API
	log *logger.Logger
}

func New(cfg config.StripeConfig, log *logger.Logger) (*Client, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrNotConfigured
	}
	api := client.New(cfg.SecretKey, nil)
	log.Info("STRIPE", "client initialized")
	return &Client{api: api, log: log}, nil
}

func (c *Client) Name() string { return "stripe" }

func wrap(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		retryable := stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI
		return &order.GatewayError{Op: op, Retryable: retryable, Err: err}
	}
	// Non-API errors from the SDK are transport failures.
	return &order.GatewayError{Op: op, Retryable: true, Err: err}
}

// CreatePayment opens a payment intent; the client secret drives the
// embedded checkout on the frontend.
func (c *Client) CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		Description:        stripe.String(req.Description),
		PaymentMethodTypes: []*string{stripe.String("card")},
		Metadata: map[string]string{
			"order_id":     strconv.FormatInt(req.OrderID, 10),
			"order_number": req.OrderNumber,
		},
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		c.log.Error("STRIPE", fmt.Sprintf("create payment intent for order %d: %v", req.OrderID, err))
		return nil, wrap("create", err)
	}
	c.log.LogPayment("CREATE", pi.ID, fmt.Sprintf("intent opened for order %d", req.OrderID))

	return &models.PaymentSession{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		ExpiresAt:     time.Now().Add(15 * time.Minute),
	}, nil
}

// ConfirmPayment verifies that the intent actually captured. Stripe
// confirms on the client side, so this is a settlement check rather
// than a capture call.
func (c *Client) ConfirmPayment(ctx context.Context, transactionID string, amount int64, currency string) (*models.PaymentResult, error) {
	pi, err := c.api.PaymentIntents.Get(transactionID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, wrap("confirm", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, &order.GatewayError{
			Op:  "confirm",
			Err: fmt.Errorf("payment intent %s in state %s", pi.ID, pi.Status),
		}
	}
	c.log.LogPayment("CONFIRM", pi.ID, "intent settled")

	return &models.PaymentResult{
		TransactionID: pi.ID,
		Amount:        pi.Amount,
		Currency:      string(pi.Currency),
	}, nil
}

func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*models.PaymentStatusInfo, error) {
	pi, err := c.api.PaymentIntents.Get(transactionID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, wrap("status", err)
	}

	return &models.PaymentStatusInfo{
		TransactionID: pi.ID,
		Status:        string(pi.Status),
		Paid:          pi.Status == stripe.PaymentIntentStatusSucceeded,
		Amount:        pi.Amount,
		Currency:      string(pi.Currency),
	}, nil
}

func (c *Client) Refund(ctx context.Context, transactionID string, amount int64) (*models.RefundResult, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(amount),
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		c.log.Error("STRIPE", fmt.Sprintf("refund intent %s: %v", transactionID, err))
		return nil, wrap("refund", err)
	}
	c.log.LogPayment("REFUND", transactionID, "refund "+r.ID+" issued")

	return &models.RefundResult{RefundID: r.ID, Amount: r.Amount}, nil
}
