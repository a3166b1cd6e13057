package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
)

type AuthorizeRequest struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	SourceToken     string    `json:"source_token,omitempty"`
	ExpectedVersion *int64    `json:"expected_version,omitempty"`
	IdempotencyKey  string    `json:"-"`
}

// InlineAuthorizeRequest initializes and authorizes in one command.
type InlineAuthorizeRequest struct {
	Amount         int64                `json:"amount"`
	Currency       domain.Currency      `json:"currency"`
	Method         domain.PaymentMethod `json:"method"`
	SourceToken    string               `json:"source_token"`
	Metadata       json.RawMessage      `json:"metadata,omitempty"`
	IdempotencyKey string               `json:"-"`
}

// Authorize asks the provider to reserve funds. A provider decline moves the
// payment to failed and is returned as a result, not an error.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*domain.Payment, error) {
	p, err := s.idempotent(ctx, req.IdempotencyKey, CommandAuthorize, req, func() (*domain.Payment, error) {
		p, err := s.load(ctx, req.PaymentID, req.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		return s.authorize(ctx, p, req.SourceToken)
	})
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}
	return p, nil
}

func (s *Service) AuthorizeInline(ctx context.Context, req InlineAuthorizeRequest) (*domain.Payment, error) {
	p, err := s.idempotent(ctx, req.IdempotencyKey, CommandAuthorizeInline, req, func() (*domain.Payment, error) {
		p, err := s.initialize(ctx, InitializeRequest{
			Amount:   req.Amount,
			Currency: req.Currency,
			Method:   req.Method,
			Metadata: req.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return s.authorize(ctx, p, req.SourceToken)
	})
	if err != nil {
		return nil, fmt.Errorf("AuthorizeInline: %w", err)
	}
	return p, nil
}

func (s *Service) authorize(ctx context.Context, p *domain.Payment, sourceToken string) (*domain.Payment, error) {
	if !p.Status.CanTransitionTo(domain.PaymentStatusAuthorized) {
		return nil, fmt.Errorf("authorize from %s: %w", p.Status, domain.ErrInvalidState)
	}

	res := s.callProvider(ctx, "authorize", func(ctx context.Context) (*provider.Result, error) {
		return s.provider.Authorize(ctx, provider.AuthorizeRequest{
			PaymentID:      p.ID,
			Amount:         p.Amount,
			Currency:       p.Currency,
			Method:         p.Method,
			SourceToken:    sourceToken,
			IdempotencyKey: providerKey(p, CommandAuthorize),
		})
	})

	log := logging.FromContext(ctx)
	if !res.Success {
		p.FailureReason = domain.StringPtr(res.FailureReason)
		if err := s.transition(ctx, p, domain.PaymentStatusFailed, domain.PaymentEventTypeFailed); err != nil {
			return nil, err
		}
		log.Warn("payment authorization failed", "payment_id", p.ID, "failure_reason", res.FailureReason)
		return p, nil
	}

	p.AuthorizedAmount = domain.Int64Ptr(p.Amount)
	p.ProviderPaymentID = domain.StringPtr(res.ProviderPaymentID)
	if err := s.transition(ctx, p, domain.PaymentStatusAuthorized, domain.PaymentEventTypeAuthorized); err != nil {
		return nil, err
	}
	log.Info("payment authorized",
		"payment_id", p.ID,
		"provider_payment_id", res.ProviderPaymentID,
		"amount", p.Amount,
	)
	return p, nil
}
