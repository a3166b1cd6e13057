package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
)

type CancelRequest struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	ExpectedVersion *int64    `json:"expected_version,omitempty"`
	IdempotencyKey  string    `json:"-"`
}

// Cancel abandons a payment that was never authorized. Nothing reaches the
// provider.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*domain.Payment, error) {
	p, err := s.idempotent(ctx, req.IdempotencyKey, CommandCancel, req, func() (*domain.Payment, error) {
		p, err := s.load(ctx, req.PaymentID, req.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		if err := s.transition(ctx, p, domain.PaymentStatusCancelled, domain.PaymentEventTypeCancelled); err != nil {
			return nil, err
		}
		logging.FromContext(ctx).Info("payment cancelled", "payment_id", p.ID)
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}
	return p, nil
}
