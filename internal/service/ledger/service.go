// Package ledger records immutable ledger transactions and keeps the derived
// per-entity balances in step with them.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
	"github.com/josh-kwaku/settlement-ledger/internal/validation"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type ledgerRepo interface {
	InsertTransaction(ctx context.Context, tx *sql.Tx, t *domain.LedgerTransaction) (bool, error)
	GetByNaturalKey(ctx context.Context, tx *sql.Tx, sourceEventType string, paymentID *uuid.UUID, entityID string) (*domain.LedgerTransaction, error)
	AdjustBalance(ctx context.Context, tx *sql.Tx, entityType domain.EntityType, entityID string, currency domain.Currency, delta int64) (int64, error)
	GetBalance(ctx context.Context, entityID string, currency domain.Currency) (*domain.LedgerBalance, error)
	ListForEntity(ctx context.Context, f repository.TransactionFilter) ([]domain.LedgerTransaction, int, error)
}

type Service struct {
	db            *sql.DB
	ledger        ledgerRepo
	publisher     events.Publisher
	readPublisher events.Publisher
	now           func() time.Time
}

type Option func(*Service)

// WithReadPublisher routes events raised by reads, such as
// ledger.balance.retrieved, to p instead of the main publisher.
func WithReadPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.readPublisher = p
		}
	}
}

func NewService(db *sql.DB, ledger ledgerRepo, publisher events.Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.Nop
	}
	s := &Service{db: db, ledger: ledger, publisher: publisher, readPublisher: publisher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RecordInput struct {
	SourceEventType string            `json:"source_event_type" validate:"required,max=64"`
	PaymentID       *uuid.UUID        `json:"payment_id"`
	AmountMinor     int64             `json:"amount_minor" validate:"gte=0"`
	Currency        domain.Currency   `json:"currency" validate:"required,iso4217"`
	Direction       domain.Direction  `json:"direction" validate:"required,oneof=credit debit"`
	EntityType      domain.EntityType `json:"entity_type" validate:"required,oneof=user system merchant"`
	EntityID        string            `json:"entity_id" validate:"required,max=128"`
	CorrelationID   *string           `json:"correlation_id" validate:"omitempty,max=128"`
	Metadata        json.RawMessage   `json:"metadata" validate:"omitempty,json"`
	Timestamp       *time.Time        `json:"timestamp"`
}

type RecordResult struct {
	Transaction *domain.LedgerTransaction
	// Duplicate is true when the natural key already existed; Transaction is
	// then the stored row and no balance changed.
	Duplicate    bool
	BalanceMinor int64
}

// RecordTransaction stores one posting and applies it to the balance in the
// same database transaction. Re-recording the same natural key returns the
// original row unchanged.
func (s *Service) RecordTransaction(ctx context.Context, in RecordInput) (*RecordResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("RecordTransaction: %w", err)
	}

	ts := s.now().UTC()
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}
	t := &domain.LedgerTransaction{
		ID:              uuid.New(),
		SourceEventType: in.SourceEventType,
		PaymentID:       in.PaymentID,
		AmountMinor:     in.AmountMinor,
		Currency:        in.Currency,
		Direction:       in.Direction,
		EntityType:      in.EntityType,
		EntityID:        in.EntityID,
		CorrelationID:   in.CorrelationID,
		Metadata:        in.Metadata,
		Timestamp:       ts,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("RecordTransaction: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := repository.LockLedgerShared(ctx, tx); err != nil {
		return nil, fmt.Errorf("RecordTransaction: %w", err)
	}

	inserted, err := s.ledger.InsertTransaction(ctx, tx, t)
	if err != nil {
		return nil, fmt.Errorf("RecordTransaction: %w", err)
	}

	if !inserted {
		existing, err := s.ledger.GetByNaturalKey(ctx, tx, t.SourceEventType, t.PaymentID, t.EntityID)
		if err != nil {
			return nil, fmt.Errorf("RecordTransaction: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("RecordTransaction: commit: %w", err)
		}
		metrics.LedgerPostings.WithLabelValues(string(t.Direction), "duplicate").Inc()
		logging.FromContext(ctx).Info("duplicate ledger transaction ignored",
			"transaction_id", existing.ID,
			"source_event_type", existing.SourceEventType,
			"entity_id", existing.EntityID,
		)
		return &RecordResult{Transaction: existing, Duplicate: true}, nil
	}

	balance, err := s.ledger.AdjustBalance(ctx, tx, t.EntityType, t.EntityID, t.Currency, t.Direction.Signed(t.AmountMinor))
	if err != nil {
		return nil, fmt.Errorf("RecordTransaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("RecordTransaction: commit: %w", err)
	}

	metrics.LedgerPostings.WithLabelValues(string(t.Direction), "recorded").Inc()
	logging.FromContext(ctx).Info("ledger transaction recorded",
		"transaction_id", t.ID,
		"source_event_type", t.SourceEventType,
		"entity_id", t.EntityID,
		"currency", t.Currency,
		"direction", t.Direction,
		"amount_minor", t.AmountMinor,
		"balance_minor", balance,
	)

	s.publish(ctx, events.TypeTransactionRecorded, events.TransactionPayload{
		TransactionID:   t.ID,
		SourceEventType: t.SourceEventType,
		PaymentID:       t.PaymentID,
		AmountMinor:     t.AmountMinor,
		Currency:        t.Currency,
		Direction:       t.Direction,
		EntityType:      t.EntityType,
		EntityID:        t.EntityID,
		BalanceMinor:    balance,
		Timestamp:       t.Timestamp,
	})

	return &RecordResult{Transaction: t, BalanceMinor: balance}, nil
}

type balanceQuery struct {
	EntityID string          `json:"entity_id" validate:"required,max=128"`
	Currency domain.Currency `json:"currency" validate:"required,iso4217"`
}

// GetBalance returns the stored balance, or a zero balance when the entity
// has never been posted to in that currency.
func (s *Service) GetBalance(ctx context.Context, entityID string, currency domain.Currency) (*domain.LedgerBalance, error) {
	if err := validation.Struct(balanceQuery{EntityID: entityID, Currency: currency}); err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}

	b, err := s.ledger.GetBalance(ctx, entityID, currency)
	if errors.Is(err, domain.ErrNotFound) {
		b = &domain.LedgerBalance{EntityID: entityID, Currency: currency}
	} else if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}

	s.publishTo(ctx, s.readPublisher, events.TypeBalanceRetrieved, events.BalancePayload{
		EntityID:     b.EntityID,
		Currency:     b.Currency,
		BalanceMinor: b.BalanceMinor,
	})
	return b, nil
}

type ListQuery struct {
	EntityID  string                      `json:"entity_id" validate:"required,max=128"`
	Limit     int                         `json:"limit" validate:"gte=0,lte=500"`
	Offset    int                         `json:"offset" validate:"gte=0"`
	SortBy    domain.TransactionSortField `json:"sort_by" validate:"omitempty,oneof=timestamp amount"`
	SortOrder domain.SortOrder            `json:"sort_order" validate:"omitempty,oneof=asc desc"`
}

type TransactionPage struct {
	Transactions []domain.LedgerTransaction
	Total        int
	Limit        int
	Offset       int
}

func (s *Service) ListTransactionsForEntity(ctx context.Context, q ListQuery) (*TransactionPage, error) {
	if err := validation.Struct(q); err != nil {
		return nil, fmt.Errorf("ListTransactionsForEntity: %w", err)
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.SortBy == "" {
		q.SortBy = domain.SortByTimestamp
	}
	if q.SortOrder == "" {
		q.SortOrder = domain.SortDesc
	}

	txns, total, err := s.ledger.ListForEntity(ctx, repository.TransactionFilter{
		EntityID:  q.EntityID,
		Limit:     q.Limit,
		Offset:    q.Offset,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("ListTransactionsForEntity: %w", err)
	}
	if txns == nil {
		txns = []domain.LedgerTransaction{}
	}
	return &TransactionPage{Transactions: txns, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// publish runs after commit. Sink failures are logged, not returned.
func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	s.publishTo(ctx, s.publisher, eventType, payload)
}

func (s *Service) publishTo(ctx context.Context, p events.Publisher, eventType string, payload any) {
	evt, err := events.New(ctx, eventType, payload)
	if err == nil {
		err = p.Publish(ctx, evt)
	}
	if err != nil {
		logging.FromContext(ctx).Error("failed to publish event", "event_type", eventType, "error", err)
	}
}
