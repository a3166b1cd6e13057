package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrUnsupportedCurrency     = errors.New("currency not supported by provider")
	ErrUnsupportedMethod       = errors.New("payment method not supported by provider")
	ErrInvalidState            = errors.New("invalid payment state for operation")
	ErrAmountExceedsAuthorized = errors.New("amount exceeds authorized amount")
	ErrAmountExceedsCaptured   = errors.New("amount exceeds refundable captured amount")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrIdempotencyConflict     = errors.New("idempotency key already used with a different request")
	ErrValidation              = errors.New("validation failed")
	ErrBalanceOverflow         = errors.New("calculated balance overflows int64")
	ErrEntityTypeMismatch      = errors.New("entity already recorded with a different entity type")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field failures and matches ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
