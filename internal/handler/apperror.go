package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
	ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Request signature is invalid"}

	ErrInvalidAmount           = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrUnsupportedCurrency     = &AppError{http.StatusUnprocessableEntity, "UNSUPPORTED_CURRENCY", "Currency is not supported by the provider"}
	ErrUnsupportedMethod       = &AppError{http.StatusUnprocessableEntity, "UNSUPPORTED_METHOD", "Payment method is not supported by the provider"}
	ErrPaymentNotFound         = &AppError{http.StatusNotFound, "PAYMENT_NOT_FOUND", "Payment not found"}
	ErrInvalidState            = &AppError{http.StatusConflict, "INVALID_STATE", "Payment is not in a state that allows this operation"}
	ErrAmountExceedsAuthorized = &AppError{http.StatusUnprocessableEntity, "AMOUNT_EXCEEDS_AUTHORIZED", "Amount exceeds the authorized amount"}
	ErrAmountExceedsCaptured   = &AppError{http.StatusUnprocessableEntity, "AMOUNT_EXCEEDS_CAPTURED", "Amount exceeds the refundable captured amount"}
	ErrConcurrentModification  = &AppError{http.StatusConflict, "CONCURRENT_MODIFICATION", "Resource was modified concurrently, please retry"}
	ErrIdempotencyConflict     = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrEntityTypeMismatch      = &AppError{http.StatusConflict, "ENTITY_TYPE_MISMATCH", "Entity is already recorded with a different entity type"}
)
