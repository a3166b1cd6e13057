package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
)

type CaptureRequest struct {
	PaymentID uuid.UUID `json:"payment_id"`
	// Amount defaults to the full authorized amount.
	Amount          *int64 `json:"amount,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	IdempotencyKey  string `json:"-"`
}

// Capture settles an authorized payment. If the provider rejects the capture
// the payment fails and its authorization is released.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*domain.Payment, error) {
	p, err := s.idempotent(ctx, req.IdempotencyKey, CommandCapture, req, func() (*domain.Payment, error) {
		p, err := s.load(ctx, req.PaymentID, req.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		return s.capture(ctx, p, req.Amount)
	})
	if err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}
	return p, nil
}

func (s *Service) capture(ctx context.Context, p *domain.Payment, requested *int64) (*domain.Payment, error) {
	if !p.Status.CanTransitionTo(domain.PaymentStatusCaptured) {
		return nil, fmt.Errorf("capture from %s: %w", p.Status, domain.ErrInvalidState)
	}

	authorized := domain.Int64Val(p.AuthorizedAmount)
	amount := authorized
	if requested != nil {
		amount = *requested
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if amount > authorized {
		return nil, fmt.Errorf("capture %d of %d: %w", amount, authorized, domain.ErrAmountExceedsAuthorized)
	}

	providerID := ""
	if p.ProviderPaymentID != nil {
		providerID = *p.ProviderPaymentID
	}
	res := s.callProvider(ctx, "capture", func(ctx context.Context) (*provider.Result, error) {
		return s.provider.Capture(ctx, provider.CaptureRequest{
			PaymentID:         p.ID,
			ProviderPaymentID: providerID,
			Amount:            amount,
			Currency:          p.Currency,
			IdempotencyKey:    providerKey(p, CommandCapture),
		})
	})

	log := logging.FromContext(ctx)
	if !res.Success {
		p.FailureReason = domain.StringPtr(res.FailureReason)
		if err := s.transition(ctx, p, domain.PaymentStatusFailed, domain.PaymentEventTypeFailed); err != nil {
			return nil, err
		}
		log.Warn("payment capture failed", "payment_id", p.ID, "failure_reason", res.FailureReason)
		s.release(ctx, p, providerID)
		return p, nil
	}

	p.CapturedAmount = domain.Int64Ptr(amount)
	if err := s.transition(ctx, p, domain.PaymentStatusCaptured, domain.PaymentEventTypeCaptured); err != nil {
		return nil, err
	}
	log.Info("payment captured", "payment_id", p.ID, "amount", amount, "authorized_amount", authorized)
	return p, nil
}

// release frees the authorization after a failed capture. It is best effort:
// the payment is already failed and errors are only logged.
func (s *Service) release(ctx context.Context, p *domain.Payment, providerID string) {
	if providerID == "" {
		return
	}
	res := s.callProvider(ctx, "release", func(ctx context.Context) (*provider.Result, error) {
		err := s.provider.Release(ctx, provider.ReleaseRequest{PaymentID: p.ID, ProviderPaymentID: providerID})
		if err != nil {
			return nil, err
		}
		return &provider.Result{Success: true}, nil
	})
	if !res.Success {
		logging.FromContext(ctx).Warn("failed to release authorization",
			"payment_id", p.ID,
			"provider_payment_id", providerID,
			"failure_reason", res.FailureReason,
		)
	}
}
