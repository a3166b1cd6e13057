package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

// PaymentPayload is the body of every payment.* event.
type PaymentPayload struct {
	PaymentID         uuid.UUID            `json:"payment_id"`
	Amount            int64                `json:"amount"`
	Currency          domain.Currency      `json:"currency"`
	Method            domain.PaymentMethod `json:"method"`
	Status            domain.PaymentStatus `json:"status"`
	Provider          string               `json:"provider"`
	ProviderPaymentID *string              `json:"provider_payment_id,omitempty"`
	AuthorizedAmount  *int64               `json:"authorized_amount,omitempty"`
	CapturedAmount    *int64               `json:"captured_amount,omitempty"`
	RefundedAmount    *int64               `json:"refunded_amount,omitempty"`
	FailureReason     *string              `json:"failure_reason,omitempty"`
	Metadata          json.RawMessage      `json:"metadata,omitempty"`
	Version           int64                `json:"version"`
	// RefundDelta is the amount moved by this refund; set on payment.refunded only.
	RefundDelta int64 `json:"refund_delta,omitempty"`
}

func NewPaymentPayload(p *domain.Payment) PaymentPayload {
	return PaymentPayload{
		PaymentID:         p.ID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            p.Method,
		Status:            p.Status,
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		AuthorizedAmount:  p.AuthorizedAmount,
		CapturedAmount:    p.CapturedAmount,
		RefundedAmount:    p.RefundedAmount,
		FailureReason:     p.FailureReason,
		Metadata:          p.Metadata,
		Version:           p.Version,
	}
}

// MetadataString reads a string key from the payload metadata.
func (p PaymentPayload) MetadataString(key string) string {
	return (&domain.Payment{Metadata: p.Metadata}).MetadataString(key)
}

type TransactionPayload struct {
	TransactionID   uuid.UUID         `json:"transaction_id"`
	SourceEventType string            `json:"source_event_type"`
	PaymentID       *uuid.UUID        `json:"payment_id,omitempty"`
	AmountMinor     int64             `json:"amount_minor"`
	Currency        domain.Currency   `json:"currency"`
	Direction       domain.Direction  `json:"direction"`
	EntityType      domain.EntityType `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	BalanceMinor    int64             `json:"balance_minor"`
	Timestamp       time.Time         `json:"timestamp"`
}

type BalancePayload struct {
	EntityID     string          `json:"entity_id"`
	Currency     domain.Currency `json:"currency"`
	BalanceMinor int64           `json:"balance_minor"`
}
