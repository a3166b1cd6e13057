package testutil

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

// NewPayment returns an unsaved payment in the given status with the stage
// amounts that status implies.
func NewPayment(status domain.PaymentStatus, amount int64, metadata map[string]string) *domain.Payment {
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:        uuid.New(),
		Amount:    amount,
		Currency:  "USD",
		Method:    domain.PaymentMethodCard,
		Status:    status,
		Provider:  "mock",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if metadata != nil {
		p.Metadata, _ = json.Marshal(metadata)
	}
	switch status {
	case domain.PaymentStatusAuthorized:
		p.AuthorizedAmount = domain.Int64Ptr(amount)
	case domain.PaymentStatusCaptured:
		p.AuthorizedAmount = domain.Int64Ptr(amount)
		p.CapturedAmount = domain.Int64Ptr(amount)
	}
	if status != domain.PaymentStatusInitialized {
		p.ProviderPaymentID = domain.StringPtr("mock_" + p.ID.String())
	}
	return p
}

func GetBalance(t *testing.T, db *sql.DB, entityID, currency string) int64 {
	t.Helper()
	var balance int64
	err := db.QueryRow(
		`SELECT balance_minor FROM ledger_balances WHERE entity_id = $1 AND currency = $2`,
		entityID, currency,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0
	}
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func CountTransactions(t *testing.T, db *sql.DB, entityID string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ledger_transactions WHERE entity_id = $1`, entityID).Scan(&count); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func CountPaymentTransactions(t *testing.T, db *sql.DB, paymentID uuid.UUID) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ledger_transactions WHERE payment_id = $1`, paymentID).Scan(&count); err != nil {
		t.Fatalf("count payment transactions: %v", err)
	}
	return count
}

// CorruptBalance writes a stored balance directly, bypassing the ledger, to
// simulate drift.
func CorruptBalance(t *testing.T, db *sql.DB, entityType, entityID, currency string, value int64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO ledger_balances (entity_id, currency, entity_type, balance_minor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id, currency) DO UPDATE SET balance_minor = EXCLUDED.balance_minor`,
		entityID, currency, entityType, value,
	)
	if err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}
}

func CountOutbox(t *testing.T, db *sql.DB, status domain.OutboxEventStatus) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbox_events WHERE status = $1`, status).Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return count
}
