package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
)

type RefundRequest struct {
	PaymentID uuid.UUID `json:"payment_id"`
	// Amount defaults to everything captured and not yet refunded.
	Amount          *int64 `json:"amount,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	IdempotencyKey  string `json:"-"`
}

// Refund returns captured funds. A partial refund leaves the payment
// captured; it becomes refunded once the whole captured amount is returned.
// A provider rejection keeps the payment captured with FailureReason set.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*domain.Payment, error) {
	p, err := s.idempotent(ctx, req.IdempotencyKey, CommandRefund, req, func() (*domain.Payment, error) {
		p, err := s.load(ctx, req.PaymentID, req.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		return s.refund(ctx, p, req.Amount)
	})
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	return p, nil
}

func (s *Service) refund(ctx context.Context, p *domain.Payment, requested *int64) (*domain.Payment, error) {
	if p.Status != domain.PaymentStatusCaptured {
		return nil, fmt.Errorf("refund from %s: %w", p.Status, domain.ErrInvalidState)
	}

	remaining := p.RefundableAmount()
	amount := remaining
	if requested != nil {
		amount = *requested
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if amount > remaining {
		return nil, fmt.Errorf("refund %d of %d remaining: %w", amount, remaining, domain.ErrAmountExceedsCaptured)
	}

	providerID := ""
	if p.ProviderPaymentID != nil {
		providerID = *p.ProviderPaymentID
	}
	res := s.callProvider(ctx, "refund", func(ctx context.Context) (*provider.Result, error) {
		return s.provider.Refund(ctx, provider.RefundRequest{
			PaymentID:         p.ID,
			ProviderPaymentID: providerID,
			Amount:            amount,
			Currency:          p.Currency,
			IdempotencyKey:    providerKey(p, CommandRefund),
		})
	})

	log := logging.FromContext(ctx)
	if !res.Success {
		p.FailureReason = domain.StringPtr(res.FailureReason)
		if err := s.persist(ctx, p, domain.PaymentEventTypeRefundFailed, 0); err != nil {
			return nil, err
		}
		log.Warn("payment refund failed", "payment_id", p.ID, "amount", amount, "failure_reason", res.FailureReason)
		return p, nil
	}

	refunded := domain.Int64Val(p.RefundedAmount) + amount
	p.RefundedAmount = domain.Int64Ptr(refunded)
	p.FailureReason = nil

	if refunded == domain.Int64Val(p.CapturedAmount) {
		p.Status = domain.PaymentStatusRefunded
	}
	if err := s.persist(ctx, p, domain.PaymentEventTypeRefunded, amount); err != nil {
		return nil, err
	}
	log.Info("payment refunded",
		"payment_id", p.ID,
		"amount", amount,
		"refunded_total", refunded,
		"status", p.Status,
	)
	return p, nil
}
