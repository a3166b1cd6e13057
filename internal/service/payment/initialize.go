package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/validation"
)

type InitializeRequest struct {
	Amount         int64                `json:"amount"`
	Currency       domain.Currency      `json:"currency" validate:"required,iso4217"`
	Method         domain.PaymentMethod `json:"method" validate:"required"`
	Metadata       json.RawMessage      `json:"metadata,omitempty" validate:"omitempty,json"`
	IdempotencyKey string               `json:"-"`
}

func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*domain.Payment, error) {
	p, err := s.idempotent(ctx, req.IdempotencyKey, CommandInitialize, req, func() (*domain.Payment, error) {
		return s.initialize(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("Initialize: %w", err)
	}
	return p, nil
}

func (s *Service) initialize(ctx context.Context, req InitializeRequest) (*domain.Payment, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.provider.Supports(req.Currency, req.Method); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &domain.Payment{
		ID:        uuid.New(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    req.Method,
		Status:    domain.PaymentStatusInitialized,
		Provider:  s.provider.Name(),
		Metadata:  req.Metadata,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	payload := events.NewPaymentPayload(p)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	evt := &domain.PaymentEvent{
		ID:        uuid.New(),
		PaymentID: p.ID,
		EventType: domain.PaymentEventTypeInitialized,
		Payload:   body,
		CreatedAt: now,
	}
	if err := s.payments.Create(ctx, p, evt); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("payment initialized",
		"payment_id", p.ID,
		"amount", p.Amount,
		"currency", p.Currency,
		"method", p.Method,
	)
	s.publish(ctx, events.TypePaymentInitialized, payload)
	return p, nil
}
