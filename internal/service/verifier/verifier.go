// Package verifier recomputes every balance from the full transaction history
// and reports, or repairs, stored balances that have drifted.
package verifier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
)

const DefaultBatchSize = 1000

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

type ledgerReader interface {
	StreamBatch(ctx context.Context, q repository.Querier, after *repository.Cursor, limit int) ([]domain.LedgerTransaction, error)
	ListBalances(ctx context.Context, q repository.Querier) ([]domain.LedgerBalance, error)
	SetBalance(ctx context.Context, tx *sql.Tx, entityType domain.EntityType, entityID string, currency domain.Currency, value int64) error
	TotalsByCurrency(ctx context.Context, q repository.Querier) ([]repository.CurrencyTotals, error)
	CountEntities(ctx context.Context, q repository.Querier) (int64, error)
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	BeginSnapshot(ctx context.Context) (*sql.Tx, error)
}

type Inconsistency struct {
	EntityType        domain.EntityType `json:"entity_type"`
	EntityID          string            `json:"entity_id"`
	Currency          domain.Currency   `json:"currency"`
	StoredBalance     int64             `json:"stored_balance"`
	StoredMissing     bool              `json:"stored_missing,omitempty"`
	CalculatedBalance decimal.Decimal   `json:"calculated_balance"`
	Difference        decimal.Decimal   `json:"difference"`
}

type Report struct {
	Status              Status          `json:"status"`
	TransactionsScanned int64           `json:"transactions_scanned"`
	BalancesChecked     int             `json:"balances_checked"`
	Inconsistencies     []Inconsistency `json:"inconsistencies"`
	CheckedAt           time.Time       `json:"checked_at"`
}

type BalanceChange struct {
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Currency   domain.Currency   `json:"currency"`
	From       int64             `json:"from"`
	To         int64             `json:"to"`
}

type ReplayReport struct {
	Report
	Applied bool            `json:"applied"`
	Changes []BalanceChange `json:"changes"`
}

type Verifier struct {
	db        txBeginner
	ledger    ledgerReader
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func New(db txBeginner, ledger ledgerReader, logger *slog.Logger, batchSize int) *Verifier {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Verifier{db: db, ledger: ledger, logger: logger, batchSize: batchSize, now: time.Now}
}

// VerifyBalances compares every stored balance with the signed sum of its
// transactions, reading one consistent snapshot.
func (v *Verifier) VerifyBalances(ctx context.Context) (*Report, error) {
	tx, err := v.db.BeginSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("VerifyBalances: %w", err)
	}
	defer tx.Rollback()

	report, err := v.check(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("VerifyBalances: %w", err)
	}

	v.logger.Info("balance verification finished",
		"status", report.Status,
		"transactions", report.TransactionsScanned,
		"balances", report.BalancesChecked,
		"inconsistencies", len(report.Inconsistencies),
	)
	return report, nil
}

// Replay recomputes balances from history. Without execute it only reports
// what would change. With execute it holds the ledger exclusively, so live
// postings wait, and overwrites every diverging balance.
func (v *Verifier) Replay(ctx context.Context, execute bool) (*ReplayReport, error) {
	var (
		tx  *sql.Tx
		err error
	)
	if execute {
		tx, err = v.db.BeginTx(ctx, nil)
	} else {
		tx, err = v.db.BeginSnapshot(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}
	defer tx.Rollback()

	if execute {
		if err := repository.LockLedgerExclusive(ctx, tx); err != nil {
			return nil, fmt.Errorf("Replay: %w", err)
		}
	}

	report, err := v.check(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("Replay: %w", err)
	}

	out := &ReplayReport{Report: *report, Changes: []BalanceChange{}}
	for _, inc := range report.Inconsistencies {
		if !fitsInt64(inc.CalculatedBalance) {
			return nil, fmt.Errorf("Replay: %s/%s: %w", inc.EntityID, inc.Currency, domain.ErrBalanceOverflow)
		}
		out.Changes = append(out.Changes, BalanceChange{
			EntityType: inc.EntityType,
			EntityID:   inc.EntityID,
			Currency:   inc.Currency,
			From:       inc.StoredBalance,
			To:         inc.CalculatedBalance.IntPart(),
		})
	}

	if !execute {
		v.logger.Info("replay dry run finished", "changes", len(out.Changes))
		return out, nil
	}

	for _, c := range out.Changes {
		if err := v.ledger.SetBalance(ctx, tx, c.EntityType, c.EntityID, c.Currency, c.To); err != nil {
			return nil, fmt.Errorf("Replay: %w", err)
		}
		v.logger.Warn("balance corrected",
			"entity_id", c.EntityID,
			"currency", c.Currency,
			"from", c.From,
			"to", c.To,
		)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Replay: commit: %w", err)
	}

	out.Applied = true
	metrics.DriftInconsistencies.Set(0)
	v.logger.Info("replay applied", "changes", len(out.Changes))
	return out, nil
}

type balanceKey struct {
	entityID string
	currency domain.Currency
}

type running struct {
	entityType domain.EntityType
	sum        decimal.Decimal
}

// check folds the full history in keyset batches and diffs it with the stored
// balances visible through q.
func (v *Verifier) check(ctx context.Context, q repository.Querier) (*Report, error) {
	calculated := make(map[balanceKey]*running)
	var (
		cursor  *repository.Cursor
		scanned int64
	)
	for {
		batch, err := v.ledger.StreamBatch(ctx, q, cursor, v.batchSize)
		if err != nil {
			return nil, err
		}
		for _, t := range batch {
			k := balanceKey{entityID: t.EntityID, currency: t.Currency}
			r, ok := calculated[k]
			if !ok {
				r = &running{entityType: t.EntityType}
				calculated[k] = r
			}
			r.sum = r.sum.Add(decimal.NewFromInt(t.Direction.Signed(t.AmountMinor)))
		}
		scanned += int64(len(batch))
		if len(batch) < v.batchSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = &repository.Cursor{EntityID: last.EntityID, Currency: last.Currency, Timestamp: last.Timestamp, ID: last.ID}
	}

	stored, err := v.ledger.ListBalances(ctx, q)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Status:              StatusPass,
		TransactionsScanned: scanned,
		BalancesChecked:     len(stored),
		Inconsistencies:     []Inconsistency{},
		CheckedAt:           v.now().UTC(),
	}

	seen := make(map[balanceKey]bool, len(stored))
	for _, b := range stored {
		k := balanceKey{entityID: b.EntityID, currency: b.Currency}
		seen[k] = true
		calc := decimal.Zero
		if r, ok := calculated[k]; ok {
			calc = r.sum
		}
		storedDec := decimal.NewFromInt(b.BalanceMinor)
		if !calc.Equal(storedDec) {
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				EntityType:        b.EntityType,
				EntityID:          b.EntityID,
				Currency:          b.Currency,
				StoredBalance:     b.BalanceMinor,
				CalculatedBalance: calc,
				Difference:        calc.Sub(storedDec),
			})
		}
	}
	for k, r := range calculated {
		if seen[k] || r.sum.IsZero() {
			continue
		}
		report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
			EntityType:        r.entityType,
			EntityID:          k.entityID,
			Currency:          k.currency,
			StoredMissing:     true,
			CalculatedBalance: r.sum,
			Difference:        r.sum,
		})
	}

	sort.Slice(report.Inconsistencies, func(i, j int) bool {
		a, b := report.Inconsistencies[i], report.Inconsistencies[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.Currency < b.Currency
	})

	if len(report.Inconsistencies) > 0 {
		report.Status = StatusFail
	}
	metrics.DriftInconsistencies.Set(float64(len(report.Inconsistencies)))
	return report, nil
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

func fitsInt64(d decimal.Decimal) bool {
	return d.LessThanOrEqual(maxInt64) && d.GreaterThanOrEqual(minInt64)
}
