package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
)

const (
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 10
)

type claimStore interface {
	ClaimPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxEvent, error)
	RecordAttempt(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.OutboxEventStatus) error
}

type Dispatcher struct {
	db          *sql.DB
	store       claimStore
	sink        events.Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func NewDispatcher(db *sql.DB, store claimStore, sink events.Publisher, logger *slog.Logger, interval time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		db:          db,
		store:       store,
		sink:        sink,
		logger:      logger,
		interval:    interval,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("outbox dispatcher started", "interval", d.interval, "batch_size", d.batchSize)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.Error("outbox dispatch failed", "error", err)
			}
		}
	}
}

// DispatchOnce claims one batch of pending events and hands each to the
// sink. It returns how many were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("DispatchOnce: begin tx: %w", err)
	}
	defer tx.Rollback()

	pending, err := d.store.ClaimPending(ctx, tx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("DispatchOnce: %w", err)
	}

	delivered := 0
	for _, row := range pending {
		status := d.deliver(ctx, row)
		if err := d.store.RecordAttempt(ctx, tx, row.ID, status); err != nil {
			return 0, fmt.Errorf("DispatchOnce: %w", err)
		}
		metrics.OutboxDispatched.WithLabelValues(string(status)).Inc()
		if status == domain.OutboxEventStatusDispatched {
			delivered++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("DispatchOnce: commit: %w", err)
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, row domain.OutboxEvent) domain.OutboxEventStatus {
	var e events.Event
	if err := json.Unmarshal(row.Payload, &e); err != nil {
		d.logger.Error("malformed outbox payload", "outbox_event_id", row.ID, "error", err)
		return domain.OutboxEventStatusFailed
	}

	if err := d.sink.Publish(events.WithTraceID(ctx, row.TraceID), e); err != nil {
		if row.Attempts+1 >= d.maxAttempts {
			d.logger.Error("outbox event exhausted retries",
				"outbox_event_id", row.ID,
				"event_type", row.EventType,
				"attempts", row.Attempts+1,
				"error", err,
			)
			return domain.OutboxEventStatusFailed
		}
		d.logger.Warn("outbox delivery failed, will retry",
			"outbox_event_id", row.ID,
			"event_type", row.EventType,
			"attempts", row.Attempts+1,
			"error", err,
		)
		return domain.OutboxEventStatusPending
	}
	return domain.OutboxEventStatusDispatched
}
