package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get returns the record for (key, commandType), expired or not, or nil when
// there is none. A reservation comes back with a nil Result.
func (r *IdempotencyRepository) Get(ctx context.Context, key, commandType string) (*domain.IdempotencyRecord, error) {
	var (
		rec    domain.IdempotencyRecord
		result []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT key, command_type, request_hash, result, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1 AND command_type = $2`,
		key, commandType,
	).Scan(&rec.Key, &rec.CommandType, &rec.RequestHash, &result, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	rec.Result = result
	return &rec, nil
}

// Reserve inserts a result-less row for (key, command_type). It reports true
// when the row was inserted or an expired row was taken over, and false when
// a live row already holds the key.
func (r *IdempotencyRepository) Reserve(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	var key string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO idempotency_keys (key, command_type, request_hash, result, created_at, expires_at)
		VALUES ($1, $2, $3, NULL, $4, $5)
		ON CONFLICT (key, command_type) DO UPDATE
		SET request_hash = EXCLUDED.request_hash, result = NULL,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= now()
		RETURNING key`,
		rec.Key, rec.CommandType, rec.RequestHash, rec.CreatedAt, rec.ExpiresAt,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Reserve: %w", err)
	}
	return true, nil
}

// Set stores rec. It completes a pending reservation with the same request
// hash and replaces an expired row; any other live row wins.
func (r *IdempotencyRepository) Set(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, command_type, request_hash, result, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key, command_type) DO UPDATE
		SET request_hash = EXCLUDED.request_hash, result = EXCLUDED.result,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= now()
			OR (idempotency_keys.result IS NULL AND idempotency_keys.request_hash = EXCLUDED.request_hash)`,
		rec.Key, rec.CommandType, rec.RequestHash, rec.Result, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("Set: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Delete(ctx context.Context, key, commandType string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND command_type = $2`,
		key, commandType,
	)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: rows affected: %w", err)
	}
	return n, nil
}
