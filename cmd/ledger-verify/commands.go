package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/settlement-ledger/internal/config"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
	"github.com/josh-kwaku/settlement-ledger/internal/service/verifier"
)

// errDriftDetected makes the process exit 1 without an error line; the
// report has already been printed.
var errDriftDetected = errors.New("ledger drift detected")

type ledgerVerifier interface {
	VerifyBalances(ctx context.Context) (*verifier.Report, error)
	Replay(ctx context.Context, execute bool) (*verifier.ReplayReport, error)
	Summary(ctx context.Context) (*verifier.SummaryReport, error)
}

type openFunc func(ctx context.Context, batchSize int) (ledgerVerifier, func(), error)

type options struct {
	jsonOutput bool
	batchSize  int
	out        io.Writer
	open       openFunc
}

func newRootCmd(out io.Writer, open openFunc) *cobra.Command {
	o := &options{out: out, open: open}

	root := &cobra.Command{
		Use:           "ledger-verify",
		Short:         "Check stored ledger balances against the transaction history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&o.jsonOutput, "json", false, "print the report as JSON")
	root.PersistentFlags().IntVar(&o.batchSize, "batch-size", 0, "transactions per streamed batch (default REPLAY_BATCH_SIZE)")

	root.AddCommand(newVerifyCmd(o), newReplayCmd(o), newSummaryCmd(o))
	return root
}

func newVerifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every balance and report drift (exit 1 on FAIL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, closeFn, err := o.open(cmd.Context(), o.batchSize)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := v.VerifyBalances(cmd.Context())
			if err != nil {
				return err
			}
			if err := o.print(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
				return err
			}
			if report.Status != verifier.StatusPass {
				return errDriftDetected
			}
			return nil
		},
	}
}

func newReplayCmd(o *options) *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild balances from history (dry run unless --execute)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, closeFn, err := o.open(cmd.Context(), o.batchSize)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := v.Replay(cmd.Context(), execute)
			if err != nil {
				return err
			}
			return o.print(report, func(w io.Writer) { writeReplay(w, report) })
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "overwrite diverging balances")
	return cmd
}

func newSummaryCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print per-currency totals and the verification status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, closeFn, err := o.open(cmd.Context(), o.batchSize)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := v.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return o.print(report, func(w io.Writer) { writeSummary(w, report) })
		},
	}
}

func openVerifier(ctx context.Context, batchSize int) (ledgerVerifier, func(), error) {
	cfg, err := config.LoadVerifier()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.InitStderr("ledger-verify", cfg.LogLevel)

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnectAttempts: 3,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	batch := cfg.ReplayBatchSize
	if batchSize > 0 {
		batch = batchSize
	}
	logger.Debug("verifier opened", "batch_size", batch)

	v := verifier.New(repository.NewDB(db), repository.NewLedgerRepository(db), logger, batch)
	return v, func() {
		if err := db.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
	}, nil
}

func (o *options) print(v any, text func(io.Writer)) error {
	if o.jsonOutput {
		enc := json.NewEncoder(o.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func writeReport(w io.Writer, r *verifier.Report) {
	fmt.Fprintf(w, "status:\t%s\n", r.Status)
	fmt.Fprintf(w, "transactions scanned:\t%d\n", r.TransactionsScanned)
	fmt.Fprintf(w, "balances checked:\t%d\n", r.BalancesChecked)
	if len(r.Inconsistencies) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ENTITY\tCURRENCY\tSTORED\tCALCULATED\tDIFFERENCE")
	for _, inc := range r.Inconsistencies {
		stored := fmt.Sprintf("%d", inc.StoredBalance)
		if inc.StoredMissing {
			stored = "missing"
		}
		fmt.Fprintf(w, "%s/%s\t%s\t%s\t%s\t%s\n",
			inc.EntityType, inc.EntityID, inc.Currency, stored,
			inc.CalculatedBalance.String(), inc.Difference.String())
	}
}

func writeReplay(w io.Writer, r *verifier.ReplayReport) {
	mode := "dry run"
	if r.Applied {
		mode = "applied"
	}
	fmt.Fprintf(w, "mode:\t%s\n", mode)
	writeReport(w, &r.Report)
	if len(r.Changes) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ENTITY\tCURRENCY\tFROM\tTO")
	for _, c := range r.Changes {
		fmt.Fprintf(w, "%s/%s\t%s\t%d\t%d\n", c.EntityType, c.EntityID, c.Currency, c.From, c.To)
	}
}

func writeSummary(w io.Writer, r *verifier.SummaryReport) {
	fmt.Fprintf(w, "status:\t%s\n", r.Status)
	fmt.Fprintf(w, "transactions:\t%d\n", r.Transactions)
	fmt.Fprintf(w, "entities:\t%d\n", r.Entities)
	fmt.Fprintf(w, "balance rows:\t%d\n", r.BalanceRows)
	fmt.Fprintf(w, "inconsistencies:\t%d\n", r.Inconsistencies)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CURRENCY\tTRANSACTIONS\tCREDITS\tDEBITS\tNET")
	for _, c := range r.Currencies {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", c.Currency, c.Transactions, c.Credits.String(), c.Debits.String(), c.Net.String())
	}
}
