package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

const paymentColumns = `id, amount, currency, method, status, provider, provider_payment_id,
	authorized_amount, captured_amount, refunded_amount, failure_reason, metadata,
	version, created_at, updated_at`

const paymentEventColumns = `id, payment_id, event_type, payload, created_at`

// PaymentRepository persists payments together with their audit events. Each
// write is one transaction covering the payment row and its event.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment, evt *domain.PaymentEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Create: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, amount, currency, method, status, provider, provider_payment_id,
			authorized_amount, captured_amount, refunded_amount, failure_reason, metadata,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.Amount, p.Currency, p.Method, p.Status, p.Provider, p.ProviderPaymentID,
		p.AuthorizedAmount, p.CapturedAmount, p.RefundedAmount, p.FailureReason, nullableJSON(p.Metadata),
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	if err := insertPaymentEvent(ctx, tx, evt); err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Create: commit: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// Update writes p only if the stored version still equals expectedVersion,
// then bumps p.Version. A lost race yields ErrConcurrentModification.
func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment, expectedVersion int64, evt *domain.PaymentEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Update: begin: %w", err)
	}
	defer tx.Rollback()

	var updatedAt = p.UpdatedAt
	err = tx.QueryRowContext(ctx,
		`UPDATE payments SET
			status = $1, provider_payment_id = $2, authorized_amount = $3, captured_amount = $4,
			refunded_amount = $5, failure_reason = $6, metadata = $7,
			version = version + 1, updated_at = now()
		WHERE id = $8 AND version = $9
		RETURNING updated_at`,
		p.Status, p.ProviderPaymentID, p.AuthorizedAmount, p.CapturedAmount,
		p.RefundedAmount, p.FailureReason, nullableJSON(p.Metadata),
		p.ID, expectedVersion,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("Update: exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("Update: %w", domain.ErrPaymentNotFound)
		}
		return fmt.Errorf("Update: expected version %d: %w", expectedVersion, domain.ErrConcurrentModification)
	}
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	if err := insertPaymentEvent(ctx, tx, evt); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Update: commit: %w", err)
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = updatedAt
	return nil
}

func (r *PaymentRepository) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentEventColumns+` FROM payment_events
		WHERE payment_id = $1 ORDER BY created_at, id`, paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var events []domain.PaymentEvent
	for rows.Next() {
		var e domain.PaymentEvent
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListEvents: scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEvents: rows: %w", err)
	}
	return events, nil
}

func insertPaymentEvent(ctx context.Context, tx *sql.Tx, evt *domain.PaymentEvent) error {
	if evt == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (`+paymentEventColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.PaymentID, evt.EventType, evt.Payload, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var metadata []byte

	err := s.Scan(
		&p.ID, &p.Amount, &p.Currency, &p.Method, &p.Status, &p.Provider, &p.ProviderPaymentID,
		&p.AuthorizedAmount, &p.CapturedAmount, &p.RefundedAmount, &p.FailureReason, &metadata,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		p.Metadata = metadata
	}
	return &p, nil
}

// nullableJSON maps an empty document to SQL NULL so JSONB columns never
// receive an empty string.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
