package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
)

const idempotencyHeader = "Idempotency-Key"

type wireRequest struct {
	PaymentID         uuid.UUID            `json:"payment_id"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty"`
	Amount            int64                `json:"amount,omitempty"`
	Currency          domain.Currency      `json:"currency,omitempty"`
	Method            domain.PaymentMethod `json:"method,omitempty"`
	SourceToken       string               `json:"source_token,omitempty"`
}

// HTTPClient talks to a remote processor speaking the JSON protocol served by
// NewHandler.
type HTTPClient struct {
	baseURL    string
	caps       Capabilities
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, caps Capabilities, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		caps:    caps,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Name() string {
	return c.caps.Name
}

func (c *HTTPClient) Supports(currency domain.Currency, method domain.PaymentMethod) error {
	return c.caps.Supports(currency, method)
}

func (c *HTTPClient) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	res, err := c.call(ctx, "/v1/authorize", req.IdempotencyKey, wireRequest{
		PaymentID:   req.PaymentID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		SourceToken: req.SourceToken,
	})
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}
	return res, nil
}

func (c *HTTPClient) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	res, err := c.call(ctx, "/v1/capture", req.IdempotencyKey, wireRequest{
		PaymentID:         req.PaymentID,
		ProviderPaymentID: req.ProviderPaymentID,
		Amount:            req.Amount,
		Currency:          req.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}
	return res, nil
}

func (c *HTTPClient) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	res, err := c.call(ctx, "/v1/refund", req.IdempotencyKey, wireRequest{
		PaymentID:         req.PaymentID,
		ProviderPaymentID: req.ProviderPaymentID,
		Amount:            req.Amount,
		Currency:          req.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	return res, nil
}

func (c *HTTPClient) Release(ctx context.Context, req ReleaseRequest) error {
	_, err := c.call(ctx, "/v1/release", "", wireRequest{
		PaymentID:         req.PaymentID,
		ProviderPaymentID: req.ProviderPaymentID,
	})
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func (c *HTTPClient) call(ctx context.Context, path, idempotencyKey string, payload wireRequest) (*Result, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	log.Info("provider request sent", "provider", c.caps.Name, "path", path, "payment_id", payload.PaymentID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("provider response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusNoContent {
		return &Result{Success: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &res, nil
}
