package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Signed returns amount with the sign the direction applies to a balance.
func (d Direction) Signed(amount int64) int64 {
	if d == DirectionDebit {
		return -amount
	}
	return amount
}

type EntityType string

const (
	EntityTypeUser     EntityType = "user"
	EntityTypeSystem   EntityType = "system"
	EntityTypeMerchant EntityType = "merchant"
)

type LedgerTransaction struct {
	ID              uuid.UUID
	SourceEventType string
	PaymentID       *uuid.UUID
	AmountMinor     int64
	Currency        Currency
	Direction       Direction
	EntityType      EntityType
	EntityID        string
	CorrelationID   *string
	Metadata        json.RawMessage
	Timestamp       time.Time
}

type LedgerBalance struct {
	EntityType   EntityType
	EntityID     string
	Currency     Currency
	BalanceMinor int64
	UpdatedAt    time.Time
}

type TransactionSortField string

const (
	SortByTimestamp TransactionSortField = "timestamp"
	SortByAmount    TransactionSortField = "amount"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)
