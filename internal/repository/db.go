package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// ledgerLockKey is the advisory lock live postings hold shared and an
// executing replay holds exclusive.
const ledgerLockKey int64 = 0x6c6564676572

type scanner interface {
	Scan(dest ...any) error
}

type DB struct {
	pool *sql.DB
}

func NewDB(pool *sql.DB) *DB {
	return &DB{pool: pool}
}

func (d *DB) Conn() *sql.DB {
	return d.pool
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := d.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	return tx, nil
}

// BeginSnapshot opens a read-only REPEATABLE READ transaction so a long scan
// sees one consistent view.
func (d *DB) BeginSnapshot(ctx context.Context) (*sql.Tx, error) {
	return d.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (d *DB) Ping(ctx context.Context) error {
	return d.pool.PingContext(ctx)
}

// LockLedgerShared blocks while a replay holds the ledger exclusively. The
// lock is released when tx ends.
func LockLedgerShared(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock_shared($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("LockLedgerShared: %w", err)
	}
	return nil
}

func LockLedgerExclusive(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("LockLedgerExclusive: %w", err)
	}
	return nil
}
