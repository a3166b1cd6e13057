package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
)

type mockAuth struct {
	token      string
	authorized int64
	captured   int64
	refunded   int64
	released   bool
}

// Mock is an in-process processor driven by Capabilities rules. It remembers
// idempotency keys so a retried call returns the first answer.
type Mock struct {
	caps Capabilities

	mu      sync.Mutex
	auths   map[string]*mockAuth
	replies map[string]Result
	calls   map[string]int
}

func NewMock(caps Capabilities) *Mock {
	return &Mock{
		caps:    caps,
		auths:   make(map[string]*mockAuth),
		replies: make(map[string]Result),
		calls:   make(map[string]int),
	}
}

func (m *Mock) Name() string {
	return m.caps.Name
}

func (m *Mock) Supports(currency domain.Currency, method domain.PaymentMethod) error {
	return m.caps.Supports(currency, method)
}

// Calls returns how many times op reached the processor, retries answered
// from the idempotency memo excluded.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Mock) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.replay("authorize", req.IdempotencyKey); ok {
		return r, nil
	}
	m.calls["authorize"]++

	var res Result
	switch {
	case m.caps.Supports(req.Currency, req.Method) != nil:
		res = Result{FailureReason: ReasonDeclined}
	case slices.Contains(m.caps.Rules.DeclineTokens, req.SourceToken):
		res = Result{FailureReason: ReasonDeclined}
	case m.caps.Rules.DeclineAbove > 0 && req.Amount > m.caps.Rules.DeclineAbove:
		res = Result{FailureReason: ReasonInsufficient}
	default:
		id := "mock_" + uuid.NewString()
		m.auths[id] = &mockAuth{token: req.SourceToken, authorized: req.Amount}
		res = Result{Success: true, ProviderPaymentID: id}
	}

	logging.FromContext(ctx).Debug("mock provider authorize",
		"payment_id", req.PaymentID,
		"amount", req.Amount,
		"success", res.Success,
	)
	return m.remember("authorize", req.IdempotencyKey, res), nil
}

func (m *Mock) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.replay("capture", req.IdempotencyKey); ok {
		return r, nil
	}
	m.calls["capture"]++

	var res Result
	a, ok := m.auths[req.ProviderPaymentID]
	switch {
	case !ok || a.released:
		res = Result{FailureReason: ReasonUnknownPayment}
	case slices.Contains(m.caps.Rules.FailCaptureTokens, a.token):
		res = Result{FailureReason: ReasonCaptureRejected}
	case req.Amount > a.authorized-a.captured:
		res = Result{FailureReason: ReasonCaptureRejected}
	default:
		a.captured += req.Amount
		res = Result{Success: true, ProviderPaymentID: req.ProviderPaymentID}
	}
	return m.remember("capture", req.IdempotencyKey, res), nil
}

func (m *Mock) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.replay("refund", req.IdempotencyKey); ok {
		return r, nil
	}
	m.calls["refund"]++

	var res Result
	a, ok := m.auths[req.ProviderPaymentID]
	switch {
	case !ok:
		res = Result{FailureReason: ReasonUnknownPayment}
	case slices.Contains(m.caps.Rules.FailRefundTokens, a.token):
		res = Result{FailureReason: ReasonRefundRejected}
	case req.Amount > a.captured-a.refunded:
		res = Result{FailureReason: ReasonRefundRejected}
	default:
		a.refunded += req.Amount
		res = Result{Success: true, ProviderPaymentID: req.ProviderPaymentID}
	}
	return m.remember("refund", req.IdempotencyKey, res), nil
}

func (m *Mock) Release(ctx context.Context, req ReleaseRequest) error {
	if err := m.wait(ctx); err != nil {
		return fmt.Errorf("Release: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["release"]++

	a, ok := m.auths[req.ProviderPaymentID]
	if !ok {
		return fmt.Errorf("Release: %w: %s", domain.ErrNotFound, req.ProviderPaymentID)
	}
	a.released = true
	return nil
}

func (m *Mock) wait(ctx context.Context) error {
	if m.caps.Rules.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.caps.Rules.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// replay and remember must be called with mu held.
func (m *Mock) replay(op, key string) (*Result, bool) {
	if key == "" {
		return nil, false
	}
	r, ok := m.replies[op+":"+key]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (m *Mock) remember(op, key string, res Result) *Result {
	if key != "" {
		m.replies[op+":"+key] = res
	}
	return &res
}
