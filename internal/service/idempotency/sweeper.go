package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
)

type expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper deletes expired records on a fixed interval.
type Sweeper struct {
	store    expirer
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(store expirer, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, logger: logger, interval: interval}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("idempotency sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idempotency sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("failed to sweep idempotency records", "error", err)
		return 0
	}
	if n > 0 {
		metrics.IdempotencySwept.Add(float64(n))
		s.logger.Info("swept expired idempotency records", "count", n)
	}
	return n
}
