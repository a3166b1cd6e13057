package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	all := []PaymentStatus{
		PaymentStatusInitialized, PaymentStatusAuthorized, PaymentStatusCaptured,
		PaymentStatusRefunded, PaymentStatusFailed, PaymentStatusCancelled,
	}
	allowed := map[[2]PaymentStatus]bool{
		{PaymentStatusInitialized, PaymentStatusAuthorized}: true,
		{PaymentStatusInitialized, PaymentStatusFailed}:     true,
		{PaymentStatusInitialized, PaymentStatusCancelled}:  true,
		{PaymentStatusAuthorized, PaymentStatusCaptured}:    true,
		{PaymentStatusAuthorized, PaymentStatusFailed}:      true,
		{PaymentStatusCaptured, PaymentStatusRefunded}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]PaymentStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	assert.False(t, PaymentStatusInitialized.IsTerminal())
	assert.False(t, PaymentStatusAuthorized.IsTerminal())
	assert.False(t, PaymentStatusCaptured.IsTerminal())
	assert.True(t, PaymentStatusRefunded.IsTerminal())
	assert.True(t, PaymentStatusFailed.IsTerminal())
	assert.True(t, PaymentStatusCancelled.IsTerminal())
}

func TestPayment_RefundableAmount(t *testing.T) {
	p := &Payment{CapturedAmount: Int64Ptr(1000)}
	assert.Equal(t, int64(1000), p.RefundableAmount())

	p.RefundedAmount = Int64Ptr(300)
	assert.Equal(t, int64(700), p.RefundableAmount())

	assert.Zero(t, (&Payment{}).RefundableAmount())
}

func TestPayment_MetadataString(t *testing.T) {
	p := &Payment{Metadata: json.RawMessage(`{"payer_id":"u-1","count":3}`)}
	assert.Equal(t, "u-1", p.MetadataString("payer_id"))
	assert.Equal(t, "", p.MetadataString("count"))
	assert.Equal(t, "", p.MetadataString("missing"))
	assert.Equal(t, "", (&Payment{Metadata: json.RawMessage("not-json")}).MetadataString("payer_id"))
}

func TestDirection_Signed(t *testing.T) {
	assert.Equal(t, int64(50), DirectionCredit.Signed(50))
	assert.Equal(t, int64(-50), DirectionDebit.Signed(50))
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{{Field: "currency", Message: "required"}}}
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "currency: required")
}
