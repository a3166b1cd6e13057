// Package provider is the boundary to external payment processors. The
// payment service only sees the Provider interface; which processor sits
// behind it is chosen in cmd/api.
package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

// Failure reasons reported by adapters when the processor declines.
const (
	ReasonDeclined        = "declined"
	ReasonInsufficient    = "insufficient_funds"
	ReasonCaptureRejected = "capture_rejected"
	ReasonRefundRejected  = "refund_rejected"
	ReasonUnknownPayment  = "unknown_provider_payment"
	ReasonTimeout         = "provider_timeout"
	ReasonUnavailable     = "provider_unavailable"
)

type AuthorizeRequest struct {
	PaymentID      uuid.UUID
	Amount         int64
	Currency       domain.Currency
	Method         domain.PaymentMethod
	SourceToken    string
	IdempotencyKey string
}

type CaptureRequest struct {
	PaymentID         uuid.UUID
	ProviderPaymentID string
	Amount            int64
	Currency          domain.Currency
	IdempotencyKey    string
}

type RefundRequest struct {
	PaymentID         uuid.UUID
	ProviderPaymentID string
	Amount            int64
	Currency          domain.Currency
	IdempotencyKey    string
}

type ReleaseRequest struct {
	PaymentID         uuid.UUID
	ProviderPaymentID string
}

// Result is the processor's business answer. A decline is a Result with
// Success false, not an error; errors mean the call itself did not complete.
type Result struct {
	Success           bool   `json:"success"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

type Provider interface {
	Name() string
	// Supports returns ErrUnsupportedCurrency or ErrUnsupportedMethod when
	// the processor cannot handle the pair.
	Supports(currency domain.Currency, method domain.PaymentMethod) error
	Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error)
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	Release(ctx context.Context, req ReleaseRequest) error
}
