package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
	"github.com/josh-kwaku/settlement-ledger/internal/service/idempotency"
)

// idempotent runs cmd at most once per (key, command). The key is reserved
// before cmd runs, so concurrent requests with the same key wait for the
// first one's result instead of executing again. A repeat with the same
// request returns the stored payment without side effects; a repeat with a
// different request fails with ErrIdempotencyConflict.
func (s *Service) idempotent(ctx context.Context, key, command string, req any, cmd func() (*domain.Payment, error)) (*domain.Payment, error) {
	if key == "" || s.cache == nil {
		return s.observe(command, cmd)
	}

	log := logging.FromContext(ctx).With("idempotency_key", key, "command", command)
	hash, err := idempotency.HashRequest(ctx, req)
	if err != nil {
		log.Warn("request not hashable, executing without idempotency", "error", err)
		return s.observe(command, cmd)
	}

	wait := time.NewTimer(s.pendingWait)
	defer wait.Stop()

	for {
		owned, err := s.cache.Reserve(ctx, key, command, hash)
		if err != nil {
			log.Warn("idempotency reservation failed, executing command", "error", err)
			return s.observe(command, cmd)
		}
		if owned {
			return s.runReserved(ctx, log, key, command, hash, cmd)
		}

		hit := s.cache.CheckKey(ctx, key, command)
		if hit.Exists && hit.RequestHash != hash {
			metrics.PaymentCommands.WithLabelValues(command, "conflict").Inc()
			return nil, fmt.Errorf("key %q: %w", key, domain.ErrIdempotencyConflict)
		}
		if hit.Exists && !hit.Pending {
			var p domain.Payment
			uerr := json.Unmarshal(hit.Result, &p)
			if uerr == nil {
				metrics.PaymentCommands.WithLabelValues(command, "replayed").Inc()
				log.Info("idempotent replay", "payment_id", p.ID)
				return &p, nil
			}
			log.Warn("unreadable idempotency result, discarding", "error", uerr)
			if err := s.cache.Remove(ctx, key, command); err != nil {
				log.Warn("failed to discard idempotency result", "error", err)
				return s.observe(command, cmd)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait.C:
			metrics.PaymentCommands.WithLabelValues(command, "conflict").Inc()
			return nil, fmt.Errorf("key %q still in progress: %w", key, domain.ErrIdempotencyConflict)
		case <-time.After(pendingPollInterval):
		}
	}
}

// runReserved executes cmd under a reservation the caller owns. A failed
// command releases the key so a retry can run it again.
func (s *Service) runReserved(ctx context.Context, log *slog.Logger, key, command, hash string, cmd func() (*domain.Payment, error)) (*domain.Payment, error) {
	p, err := s.observe(command, cmd)
	if err != nil {
		if rerr := s.cache.Remove(context.WithoutCancel(ctx), key, command); rerr != nil {
			log.Warn("failed to release idempotency reservation", "error", rerr)
		}
		return nil, err
	}

	if err := s.cache.StoreResult(context.WithoutCancel(ctx), key, command, hash, p, 0); err != nil {
		log.Warn("failed to store idempotency result", "error", err)
	}
	return p, nil
}

func (s *Service) observe(command string, cmd func() (*domain.Payment, error)) (*domain.Payment, error) {
	p, err := cmd()
	switch {
	case err != nil:
		metrics.PaymentCommands.WithLabelValues(command, "error").Inc()
	case p.FailureReason != nil && (p.Status == domain.PaymentStatusFailed || command == CommandRefund):
		metrics.PaymentCommands.WithLabelValues(command, "provider_failed").Inc()
	default:
		metrics.PaymentCommands.WithLabelValues(command, "ok").Inc()
	}
	return p, err
}
