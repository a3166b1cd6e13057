// Package payment drives payments through their lifecycle:
// initialized, authorized, captured, refunded, with failed and cancelled as
// side exits. Every transition is persisted with its audit event and then
// published.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
	"github.com/josh-kwaku/settlement-ledger/internal/service/idempotency"
)

const (
	DefaultProviderTimeout = 5 * time.Second
	// pendingPollInterval paces a caller waiting on a key another request
	// has reserved.
	pendingPollInterval = 20 * time.Millisecond
)

// Command types scope idempotency keys.
const (
	CommandInitialize      = "initialize"
	CommandAuthorize       = "authorize"
	CommandAuthorizeInline = "authorize_inline"
	CommandCapture         = "capture"
	CommandRefund          = "refund"
	CommandCancel          = "cancel"
)

type paymentStore interface {
	Create(ctx context.Context, p *domain.Payment, evt *domain.PaymentEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment, expectedVersion int64, evt *domain.PaymentEvent) error
	ListEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

type idempotencyCache interface {
	CheckKey(ctx context.Context, key, commandType string) idempotency.Lookup
	Reserve(ctx context.Context, key, commandType, requestHash string) (bool, error)
	StoreResult(ctx context.Context, key, commandType, requestHash string, result any, ttl time.Duration) error
	Remove(ctx context.Context, key, commandType string) error
}

type Service struct {
	payments        paymentStore
	provider        provider.Provider
	cache           idempotencyCache
	publisher       events.Publisher
	providerTimeout time.Duration
	pendingWait     time.Duration
	now             func() time.Time
}

func NewService(
	payments paymentStore,
	prov provider.Provider,
	cache idempotencyCache,
	publisher events.Publisher,
	providerTimeout time.Duration,
) *Service {
	if publisher == nil {
		publisher = events.Nop
	}
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	return &Service{
		payments:        payments,
		provider:        prov,
		cache:           cache,
		publisher:       publisher,
		providerTimeout: providerTimeout,
		pendingWait:     2 * providerTimeout,
		now:             time.Now,
	}
}

func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", err)
	}
	return p, nil
}

func (s *Service) ListPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	if _, err := s.payments.GetByID(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("ListPaymentEvents: %w", err)
	}
	evts, err := s.payments.ListEvents(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("ListPaymentEvents: %w", err)
	}
	if evts == nil {
		evts = []domain.PaymentEvent{}
	}
	return evts, nil
}

// load fetches the payment and enforces the caller's expected version.
func (s *Service) load(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != p.Version {
		return nil, fmt.Errorf("payment at version %d, expected %d: %w", p.Version, *expectedVersion, domain.ErrConcurrentModification)
	}
	return p, nil
}

// transition moves p to next and persists it.
func (s *Service) transition(ctx context.Context, p *domain.Payment, next domain.PaymentStatus, eventType domain.PaymentEventType) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s to %s: %w", p.Status, next, domain.ErrInvalidState)
	}
	p.Status = next
	return s.persist(ctx, p, eventType, 0)
}

// persist writes p with its audit event under a version check and publishes
// the event. refundDelta is carried only on refund events.
func (s *Service) persist(ctx context.Context, p *domain.Payment, eventType domain.PaymentEventType, refundDelta int64) error {
	expected := p.Version
	p.UpdatedAt = s.now().UTC()

	payload := events.NewPaymentPayload(p)
	payload.Version = expected + 1
	payload.RefundDelta = refundDelta
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	evt := &domain.PaymentEvent{
		ID:        uuid.New(),
		PaymentID: p.ID,
		EventType: eventType,
		Payload:   body,
		CreatedAt: p.UpdatedAt,
	}
	if err := s.payments.Update(ctx, p, expected, evt); err != nil {
		return err
	}

	s.publish(ctx, string(eventType), payload)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, payload events.PaymentPayload) {
	evt, err := events.New(ctx, eventType, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		logging.FromContext(ctx).Error("failed to publish payment event",
			"event_type", eventType,
			"payment_id", payload.PaymentID,
			"error", err,
		)
	}
}

// providerKey is the idempotency key sent to the processor. It is stable for
// a given payment version so a retried call is deduplicated downstream.
func providerKey(p *domain.Payment, command string) string {
	return fmt.Sprintf("%s:%s:v%d", p.ID, command, p.Version)
}
