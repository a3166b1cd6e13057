package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

const ledgerColumns = `id, source_event_type, payment_id, amount_minor, currency, direction,
	entity_type, entity_id, correlation_id, metadata, timestamp`

const balanceColumns = `entity_type, entity_id, currency, balance_minor, updated_at`

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertTransaction inserts t unless a row with the same natural key exists.
// It reports whether the row was inserted.
func (r *LedgerRepository) InsertTransaction(ctx context.Context, tx *sql.Tx, t *domain.LedgerTransaction) (bool, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx,
		`INSERT INTO ledger_transactions (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT ledger_transactions_natural_key DO NOTHING
		RETURNING id`,
		t.ID, t.SourceEventType, t.PaymentID, t.AmountMinor, t.Currency, t.Direction,
		t.EntityType, t.EntityID, t.CorrelationID, nullableJSON(t.Metadata), t.Timestamp,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("InsertTransaction: %w", err)
	}
	return true, nil
}

func (r *LedgerRepository) GetByNaturalKey(ctx context.Context, tx *sql.Tx, sourceEventType string, paymentID *uuid.UUID, entityID string) (*domain.LedgerTransaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE source_event_type = $1 AND payment_id IS NOT DISTINCT FROM $2 AND entity_id = $3`,
		sourceEventType, paymentID, entityID,
	)
	t, err := scanLedgerTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByNaturalKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByNaturalKey: %w", err)
	}
	return t, nil
}

// AdjustBalance adds delta to the (entity, currency) balance, creating the
// row on first use. The upsert holds the row lock until tx ends. An entity id
// keeps the type of its first balance in every currency; a posting under
// another type fails with ErrEntityTypeMismatch.
func (r *LedgerRepository) AdjustBalance(ctx context.Context, tx *sql.Tx, entityType domain.EntityType, entityID string, currency domain.Currency, delta int64) (int64, error) {
	var existing domain.EntityType
	err := tx.QueryRowContext(ctx,
		`SELECT entity_type FROM ledger_balances WHERE entity_id = $1 AND entity_type <> $2 LIMIT 1`,
		entityID, entityType,
	).Scan(&existing)
	if err == nil {
		return 0, fmt.Errorf("AdjustBalance: %s is %s, not %s: %w", entityID, existing, entityType, domain.ErrEntityTypeMismatch)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("AdjustBalance: entity type: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO ledger_balances (entity_id, currency, entity_type, balance_minor, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (entity_id, currency) DO UPDATE
		SET balance_minor = ledger_balances.balance_minor + EXCLUDED.balance_minor, updated_at = now()
		WHERE ledger_balances.entity_type = EXCLUDED.entity_type
		RETURNING balance_minor`,
		entityID, currency, entityType, delta,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("AdjustBalance: %s is not %s: %w", entityID, entityType, domain.ErrEntityTypeMismatch)
	}
	if err != nil {
		return 0, fmt.Errorf("AdjustBalance: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites a balance row. Only replay uses it.
func (r *LedgerRepository) SetBalance(ctx context.Context, tx *sql.Tx, entityType domain.EntityType, entityID string, currency domain.Currency, value int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_balances (entity_id, currency, entity_type, balance_minor, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (entity_id, currency) DO UPDATE
		SET balance_minor = EXCLUDED.balance_minor, updated_at = now()`,
		entityID, currency, entityType, value,
	)
	if err != nil {
		return fmt.Errorf("SetBalance: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetBalance(ctx context.Context, entityID string, currency domain.Currency) (*domain.LedgerBalance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM ledger_balances WHERE entity_id = $1 AND currency = $2`,
		entityID, currency,
	)
	b, err := scanLedgerBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetBalance: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return b, nil
}

type TransactionFilter struct {
	EntityID  string
	Limit     int
	Offset    int
	SortBy    domain.TransactionSortField
	SortOrder domain.SortOrder
}

var sortColumns = map[domain.TransactionSortField]string{
	domain.SortByTimestamp: "timestamp",
	domain.SortByAmount:    "amount_minor",
}

func (r *LedgerRepository) ListForEntity(ctx context.Context, f TransactionFilter) ([]domain.LedgerTransaction, int, error) {
	column, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("ListForEntity: unknown sort field %q", f.SortBy)
	}
	order := "DESC"
	if f.SortOrder == domain.SortAsc {
		order = "ASC"
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE entity_id = $1`, f.EntityID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForEntity: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE entity_id = $1 ORDER BY `+column+` `+order+`, id `+order+` LIMIT $2 OFFSET $3`,
		f.EntityID, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForEntity: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForEntity: %w", err)
	}
	return txns, total, nil
}

// Cursor marks the last row of a StreamBatch page.
type Cursor struct {
	EntityID  string
	Currency  domain.Currency
	Timestamp time.Time
	ID        uuid.UUID
}

// StreamBatch returns up to limit transactions ordered by entity, currency,
// timestamp and id, starting after the cursor. A nil cursor starts at the
// beginning.
func (r *LedgerRepository) StreamBatch(ctx context.Context, q Querier, after *Cursor, limit int) ([]domain.LedgerTransaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = q.QueryContext(ctx,
			`SELECT `+ledgerColumns+` FROM ledger_transactions
			ORDER BY entity_id, currency, timestamp, id LIMIT $1`, limit,
		)
	} else {
		rows, err = q.QueryContext(ctx,
			`SELECT `+ledgerColumns+` FROM ledger_transactions
			WHERE (entity_id, currency, timestamp, id) > ($1, $2, $3, $4)
			ORDER BY entity_id, currency, timestamp, id LIMIT $5`,
			after.EntityID, after.Currency, after.Timestamp, after.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("StreamBatch: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("StreamBatch: %w", err)
	}
	return txns, nil
}

func (r *LedgerRepository) ListBalances(ctx context.Context, q Querier) ([]domain.LedgerBalance, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM ledger_balances ORDER BY entity_id, currency`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListBalances: %w", err)
	}
	defer rows.Close()

	var balances []domain.LedgerBalance
	for rows.Next() {
		b, err := scanLedgerBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("ListBalances: scan: %w", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListBalances: rows: %w", err)
	}
	return balances, nil
}

type CurrencyTotals struct {
	Currency domain.Currency
	Credits  decimal.Decimal
	Debits   decimal.Decimal
	Count    int64
}

// TotalsByCurrency sums amounts in numeric so the totals cannot overflow.
func (r *LedgerRepository) TotalsByCurrency(ctx context.Context, q Querier) ([]CurrencyTotals, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT currency,
			COALESCE(SUM(amount_minor) FILTER (WHERE direction = 'credit'), 0),
			COALESCE(SUM(amount_minor) FILTER (WHERE direction = 'debit'), 0),
			COUNT(*)
		FROM ledger_transactions GROUP BY currency ORDER BY currency`,
	)
	if err != nil {
		return nil, fmt.Errorf("TotalsByCurrency: %w", err)
	}
	defer rows.Close()

	var totals []CurrencyTotals
	for rows.Next() {
		var t CurrencyTotals
		if err := rows.Scan(&t.Currency, &t.Credits, &t.Debits, &t.Count); err != nil {
			return nil, fmt.Errorf("TotalsByCurrency: scan: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TotalsByCurrency: rows: %w", err)
	}
	return totals, nil
}

func (r *LedgerRepository) CountEntities(ctx context.Context, q Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM ledger_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountEntities: %w", err)
	}
	return n, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.LedgerTransaction, error) {
	defer rows.Close()

	var txns []domain.LedgerTransaction
	for rows.Next() {
		t, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return txns, nil
}

func scanLedgerTransaction(s scanner) (*domain.LedgerTransaction, error) {
	var t domain.LedgerTransaction
	var paymentID uuid.NullUUID
	var metadata []byte

	err := s.Scan(
		&t.ID, &t.SourceEventType, &paymentID, &t.AmountMinor, &t.Currency, &t.Direction,
		&t.EntityType, &t.EntityID, &t.CorrelationID, &metadata, &t.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		t.PaymentID = &paymentID.UUID
	}
	if metadata != nil {
		t.Metadata = metadata
	}
	return &t, nil
}

func scanLedgerBalance(s scanner) (*domain.LedgerBalance, error) {
	var b domain.LedgerBalance
	if err := s.Scan(&b.EntityType, &b.EntityID, &b.Currency, &b.BalanceMinor, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
