// Package gateway talks to the external payment gateway. Calls happen
// outside any DB transaction so network latency never extends row locks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// PaymentRequest is the charge request forwarded to the gateway.
type PaymentRequest struct {
	OrderID        int64  `json:"orderId"`
	Amount         int64  `json:"amount"`
	Provider       string `json:"provider,omitempty"`
	CardType       string `json:"cardType,omitempty"`
	CardNumber     string `json:"cardNumber,omitempty"`
	IdempotencyKey string `json:"-"`
}

// PaymentResult is the gateway's answer to a charge request.
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	ErrorCode     string `json:"errorCode,omitempty"`
}

// CancelResult is the gateway's answer to a cancellation.
type CancelResult struct {
	Success bool `json:"success"`
}

// Client is the saga's view of the gateway.
type Client interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	CancelPayment(ctx context.Context, transactionID string) (*CancelResult, error)
}

// HTTPClient implements Client against the gateway's REST API with a hard
// request timeout (default 30s).
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a gateway client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// RequestPayment charges the gateway amount. The idempotency key makes
// retried requests safe on the gateway side.
func (c *HTTPClient) RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var result PaymentResult
	if err := c.post(ctx, "/api/payments", req.IdempotencyKey, req, &result); err != nil {
		return nil, err
	}
	log.Info().
		Int64("order_id", req.OrderID).
		Int64("amount", req.Amount).
		Bool("success", result.Success).
		Str("txn_id", result.TransactionID).
		Msg("gateway payment request finished")
	return &result, nil
}

// CancelPayment reverses a settled transaction (saga compensation).
func (c *HTTPClient) CancelPayment(ctx context.Context, transactionID string) (*CancelResult, error) {
	var result CancelResult
	body := map[string]string{"transactionId": transactionID}
	if err := c.post(ctx, "/api/payments/cancel", transactionID, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s returned status %d: %s", path, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
