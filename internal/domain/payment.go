package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Currency string

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodBank   PaymentMethod = "bank"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBank, PaymentMethodWallet, PaymentMethodCrypto:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusInitialized PaymentStatus = "initialized"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusCaptured    PaymentStatus = "captured"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusFailed      PaymentStatus = "failed"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusInitialized: {PaymentStatusAuthorized, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusAuthorized:  {PaymentStatusCaptured, PaymentStatusFailed},
	PaymentStatusCaptured:    {PaymentStatusRefunded},
}

// CanTransitionTo reports whether s may move to next. Transitions are one-way
// and no status can be re-entered.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusRefunded, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID                uuid.UUID
	Amount            int64
	Currency          Currency
	Method            PaymentMethod
	Status            PaymentStatus
	Provider          string
	ProviderPaymentID *string
	AuthorizedAmount  *int64
	CapturedAmount    *int64
	RefundedAmount    *int64
	FailureReason     *string
	Metadata          json.RawMessage
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RefundableAmount is the captured amount not yet refunded.
func (p *Payment) RefundableAmount() int64 {
	return Int64Val(p.CapturedAmount) - Int64Val(p.RefundedAmount)
}

// MetadataString returns a string value from the metadata bag, or "" if the
// key is missing or not a string.
func (p *Payment) MetadataString(key string) string {
	if len(p.Metadata) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(p.Metadata, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func Int64Val(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func StringPtr(s string) *string {
	return &s
}
