package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxEventStatus string

const (
	OutboxEventStatusPending    OutboxEventStatus = "pending"
	OutboxEventStatusDispatched OutboxEventStatus = "dispatched"
	OutboxEventStatusFailed     OutboxEventStatus = "failed"
)

type OutboxEvent struct {
	ID          uuid.UUID
	EventType   string
	TraceID     string
	Payload     json.RawMessage
	Status      OutboxEventStatus
	Attempts    int
	LastAttempt *time.Time
	CreatedAt   time.Time
}
