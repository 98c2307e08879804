package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sports-marketplace-backend/internal/models"
)

var (
	// ErrInvalidSignature means the webhook signature did not verify.
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	// ErrUnparsable means the webhook body is not a recognizable event.
	ErrUnparsable = errors.New("gateway: unparsable webhook payload")
)

// Outcome is the normalized result reported by a gateway webhook.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeRefunded  Outcome = "refunded"
)

// Event is a verified, normalized gateway notification.
type Event struct {
	GatewayRef string
	Outcome    Outcome
	ReceiptURL string
	Raw        json.RawMessage
}

// CreatePaymentResult carries the gateway handoff data for a new invoice.
type CreatePaymentResult struct {
	PaymentURL string
	GatewayRef string
}

// Client is a minimal payment gateway API client.
type Client struct {
	httpClient *http.Client
	merchantID string
	secret     string
	returnURL  string
	baseURL    string
}

// NewClient constructs a gateway client.
func NewClient(httpClient *http.Client, baseURL, merchantID, secret, returnURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		merchantID: merchantID,
		secret:     secret,
		returnURL:  returnURL,
		baseURL:    baseURL,
	}
}

// Secret returns the configured webhook secret.
func (c *Client) Secret() string { return c.secret }

// CreatePayment registers the invoice with the gateway and returns the
// redirect URL plus the gateway's transaction reference.
func (c *Client) CreatePayment(ctx context.Context, inv *models.Invoice) (CreatePaymentResult, error) {
	payload := map[string]interface{}{
		"merchant_id":  c.merchantID,
		"order_number": inv.OrderNumber,
		"amount":       inv.Amount,
		"currency":     inv.Currency,
		"return_url":   c.returnURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CreatePaymentResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment", bytes.NewReader(body))
	if err != nil {
		return CreatePaymentResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", Sign(body, c.secret))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CreatePaymentResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return CreatePaymentResult{}, fmt.Errorf("gateway: unexpected status %s", resp.Status)
	}

	var apiResp struct {
		Success    bool   `json:"success"`
		PaymentURL string `json:"payment_url"`
		GatewayRef string `json:"gateway_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return CreatePaymentResult{}, err
	}
	if !apiResp.Success || apiResp.PaymentURL == "" || apiResp.GatewayRef == "" {
		return CreatePaymentResult{}, fmt.Errorf("gateway: unsuccessful response")
	}
	return CreatePaymentResult{PaymentURL: apiResp.PaymentURL, GatewayRef: apiResp.GatewayRef}, nil
}

// ParseWebhook verifies the signature and normalizes the raw webhook
// payload. Verification runs before any decoding; nothing unverified
// reaches the reconciliation engine.
func (c *Client) ParseWebhook(body []byte, signature string) (Event, error) {
	if !VerifyHMAC(body, signature, c.secret) {
		return Event{}, ErrInvalidSignature
	}

	var payload struct {
		GatewayRef string `json:"gateway_ref"`
		Outcome    string `json:"outcome"`
		ReceiptURL string `json:"receipt_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, ErrUnparsable
	}
	if payload.GatewayRef == "" {
		return Event{}, ErrUnparsable
	}

	outcome, ok := normalizeOutcome(payload.Outcome)
	if !ok {
		return Event{}, ErrUnparsable
	}

	return Event{
		GatewayRef: payload.GatewayRef,
		Outcome:    outcome,
		ReceiptURL: payload.ReceiptURL,
		Raw:        json.RawMessage(body),
	}, nil
}

func normalizeOutcome(s string) (Outcome, bool) {
	switch s {
	case "confirmed", "success", "paid":
		return OutcomeConfirmed, true
	case "cancelled", "canceled":
		return OutcomeCancelled, true
	case "failed", "declined":
		return OutcomeFailed, true
	case "refunded":
		return OutcomeRefunded, true
	}
	return "", false
}
