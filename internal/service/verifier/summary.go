package verifier

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

type CurrencySummary struct {
	Currency     domain.Currency `json:"currency"`
	Transactions int64           `json:"transactions"`
	Credits      decimal.Decimal `json:"credits"`
	Debits       decimal.Decimal `json:"debits"`
	Net          decimal.Decimal `json:"net"`
}

type SummaryReport struct {
	Status          Status            `json:"status"`
	Transactions    int64             `json:"transactions"`
	Entities        int64             `json:"entities"`
	BalanceRows     int               `json:"balance_rows"`
	Inconsistencies int               `json:"inconsistencies"`
	Currencies      []CurrencySummary `json:"currencies"`
}

// Summary aggregates the ledger and verifies it within one snapshot.
func (v *Verifier) Summary(ctx context.Context) (*SummaryReport, error) {
	tx, err := v.db.BeginSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	defer tx.Rollback()

	totals, err := v.ledger.TotalsByCurrency(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	entities, err := v.ledger.CountEntities(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	report, err := v.check(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}

	out := &SummaryReport{
		Status:          report.Status,
		Transactions:    report.TransactionsScanned,
		Entities:        entities,
		BalanceRows:     report.BalancesChecked,
		Inconsistencies: len(report.Inconsistencies),
		Currencies:      make([]CurrencySummary, 0, len(totals)),
	}
	for _, t := range totals {
		out.Currencies = append(out.Currencies, CurrencySummary{
			Currency:     t.Currency,
			Transactions: t.Count,
			Credits:      t.Credits,
			Debits:       t.Debits,
			Net:          t.Credits.Sub(t.Debits),
		})
	}
	return out, nil
}
