package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentEventType string

const (
	PaymentEventTypeInitialized PaymentEventType = "payment.initialized"
	PaymentEventTypeAuthorized  PaymentEventType = "payment.authorized"
	PaymentEventTypeCaptured    PaymentEventType = "payment.captured"
	PaymentEventTypeRefunded    PaymentEventType = "payment.refunded"
	PaymentEventTypeFailed      PaymentEventType = "payment.failed"
	PaymentEventTypeCancelled   PaymentEventType = "payment.cancelled"
	// PaymentEventTypeRefundFailed records a declined refund; the payment
	// stays captured.
	PaymentEventTypeRefundFailed PaymentEventType = "payment.refund_failed"
)

// PaymentEvent is one row of the append-only payment audit trail.
type PaymentEvent struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	EventType PaymentEventType
	Payload   json.RawMessage
	CreatedAt time.Time
}
