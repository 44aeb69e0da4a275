package linepay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bar-orders/internal/config"
	"bar-orders/internal/logger"
	"bar-orders/internal/models"
	"bar-orders/internal/order"
	"bar-orders/internal/utils"
)

const returnCodeOK = "0000"

var ErrNotConfigured = errors.New("LINE Pay credentials not configured")

// Client talks to the LINE Pay v3 REST API. Requests are signed with
// HMAC-SHA256 over channelSecret + uri + body + nonce, Base64 encoded
// into the X-LINE-Authorization header.
type Client struct {
	apiURL        string
	channelID     string
	channelSecret string
	http          *http.Client
	log           *logger.Logger
}

func New(cfg config.LinePayConfig, log *logger.Logger) (*Client, error) {
	if cfg.ChannelID == "" || cfg.ChannelSecret == "" {
		log.Error("LINEPAY", "LINEPAY_CHANNEL_ID or LINEPAY_CHANNEL_SECRET not set")
		return nil, ErrNotConfigured
	}
	log.Info("LINEPAY", "client initialized for "+cfg.APIURL)
	return &Client{
		apiURL:        cfg.APIURL,
		channelID:     cfg.ChannelID,
		channelSecret: cfg.ChannelSecret,
		http:          &http.Client{Timeout: 30 * time.Second},
		log:           log,
	}, nil
}

func (c *Client) Name() string { return "linepay" }

// apiResponse is the envelope every LINE Pay endpoint returns; info
// stays raw because its shape differs per endpoint.
type apiResponse struct {
	ReturnCode    string          `json:"returnCode"`
	ReturnMessage string          `json:"returnMessage"`
	Info          json.RawMessage `json:"info"`
}

func (c *Client) sign(uri, body, nonce string) string {
	mac := hmac.New(sha256.New, []byte(c.channelSecret))
	mac.Write([]byte(c.channelSecret + uri + body + nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, op, method, uri string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &order.GatewayError{Op: op, Err: err}
	}

	var reqBody io.Reader
	if method != http.MethodGet {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+uri, reqBody)
	if err != nil {
		return nil, &order.GatewayError{Op: op, Err: err}
	}

	nonce := utils.GenerateNonce()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-LINE-ChannelId", c.channelID)
	req.Header.Set("X-LINE-Authorization-Nonce", nonce)
	req.Header.Set("X-LINE-Authorization", c.sign(uri, string(body), nonce))

	c.log.Info("LINEPAY", fmt.Sprintf("%s %s", method, uri))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &order.GatewayError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &order.GatewayError{Op: op, Retryable: true, Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &order.GatewayError{
			Op:        op,
			Retryable: true,
			Err:       fmt.Errorf("http %d: %s", resp.StatusCode, raw),
		}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &order.GatewayError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	c.log.Info("LINEPAY", fmt.Sprintf("%s returned %s %s", uri, out.ReturnCode, out.ReturnMessage))

	if out.ReturnCode != returnCodeOK {
		return nil, &order.GatewayError{
			Op:  op,
			Err: fmt.Errorf("returnCode %s: %s", out.ReturnCode, out.ReturnMessage),
		}
	}
	return &out, nil
}

type requestPackage struct {
	ID       string           `json:"id"`
	Amount   int64            `json:"amount"`
	Name     string           `json:"name"`
	Products []requestProduct `json:"products"`
}

type requestProduct struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

func buildPackages(req models.PaymentRequest) []requestPackage {
	name := req.Description
	if name == "" {
		name = "order " + req.OrderNumber
	}
	pkg := requestPackage{
		ID:     fmt.Sprintf("package_%d", req.OrderID),
		Amount: req.Amount,
		Name:   name,
	}
	if len(req.Products) == 0 {
		pkg.Products = []requestProduct{{
			ID:       fmt.Sprintf("product_%d", req.OrderID),
			Name:     name,
			Quantity: 1,
			Price:    req.Amount,
		}}
		return []requestPackage{pkg}
	}
	for _, p := range req.Products {
		pkg.Products = append(pkg.Products, requestProduct{
			ID:       p.ID,
			Name:     p.Name,
			Quantity: p.Quantity,
			Price:    p.Price,
		})
	}
	return []requestPackage{pkg}
}

// CreatePayment opens a payment request; the buyer finishes it at the
// returned web payment URL.
func (c *Client) CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = req.ConfirmURL
	}
	body := map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"orderId":  req.OrderNumber,
		"packages": buildPackages(req),
		"redirectUrls": map[string]any{
			"confirmUrl": req.ConfirmURL,
			"cancelUrl":  cancelURL,
		},
		"options": map[string]any{
			"payment": map[string]any{
				"capture": true,
				"payType": "NORMAL",
			},
			"display": map[string]any{
				"locale":                 "zh_TW",
				"checkConfirmUrlBrowser": true,
			},
		},
	}

	resp, err := c.do(ctx, "create", http.MethodPost, "/v3/payments/request", body)
	if err != nil {
		return nil, err
	}

	var info struct {
		TransactionID json.Number `json:"transactionId"`
		PaymentURL    struct {
			Web string `json:"web"`
			App string `json:"app"`
		} `json:"paymentUrl"`
		PaymentAccessToken string `json:"paymentAccessToken"`
	}
	if err := json.Unmarshal(resp.Info, &info); err != nil {
		return nil, &order.GatewayError{Op: "create", Err: fmt.Errorf("malformed info: %w", err)}
	}

	return &models.PaymentSession{
		TransactionID: info.TransactionID.String(),
		PaymentURL:    info.PaymentURL.Web,
		ExpiresAt:     time.Now().Add(15 * time.Minute),
	}, nil
}

// ConfirmPayment captures an authorized transaction.
func (c *Client) ConfirmPayment(ctx context.Context, transactionID string, amount int64, currency string) (*models.PaymentResult, error) {
	if currency == "" {
		currency = "TWD"
	}
	body := map[string]any{"amount": amount, "currency": currency}

	resp, err := c.do(ctx, "confirm", http.MethodPost, "/v3/payments/"+transactionID+"/confirm", body)
	if err != nil {
		return nil, err
	}

	var info struct {
		OrderID string `json:"orderId"`
		PayInfo []struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Method   string `json:"method"`
		} `json:"payInfo"`
	}
	if err := json.Unmarshal(resp.Info, &info); err != nil {
		return nil, &order.GatewayError{Op: "confirm", Err: fmt.Errorf("malformed info: %w", err)}
	}

	result := &models.PaymentResult{TransactionID: transactionID, Amount: amount, Currency: currency}
	if len(info.PayInfo) > 0 {
		result.Amount = info.PayInfo[0].Amount
		if info.PayInfo[0].Currency != "" {
			result.Currency = info.PayInfo[0].Currency
		}
	}
	return result, nil
}

// QueryStatus looks up a payment request; transactionType PAYMENT means
// the buyer completed it.
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*models.PaymentStatusInfo, error) {
	resp, err := c.do(ctx, "status", http.MethodGet, "/v3/payments/requests/"+transactionID, map[string]any{})
	if err != nil {
		return nil, err
	}

	var info struct {
		TransactionType string      `json:"transactionType"`
		Amount          json.Number `json:"amount"`
		Currency        string      `json:"currency"`
		OrderID         string      `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Info, &info); err != nil {
		return nil, &order.GatewayError{Op: "status", Err: fmt.Errorf("malformed info: %w", err)}
	}

	amount, _ := strconv.ParseInt(info.Amount.String(), 10, 64)
	return &models.PaymentStatusInfo{
		TransactionID: transactionID,
		Status:        info.TransactionType,
		Paid:          info.TransactionType == "PAYMENT",
		Amount:        amount,
		Currency:      info.Currency,
	}, nil
}

// Refund reverses a captured transaction, in full.
func (c *Client) Refund(ctx context.Context, transactionID string, amount int64) (*models.RefundResult, error) {
	body := map[string]any{"refundAmount": amount}

	resp, err := c.do(ctx, "refund", http.MethodPost, "/v3/payments/"+transactionID+"/refund", body)
	if err != nil {
		return nil, err
	}

	var info struct {
		RefundTransactionID json.Number `json:"refundTransactionId"`
	}
	if err := json.Unmarshal(resp.Info, &info); err != nil {
		return nil, &order.GatewayError{Op: "refund", Err: fmt.Errorf("malformed info: %w", err)}
	}

	return &models.RefundResult{
		RefundID: info.RefundTransactionID.String(),
		Amount:   amount,
	}, nil
}
