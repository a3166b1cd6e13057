// Package events defines the message-passing capability components use to
// announce state transitions.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	TypePaymentInitialized  = "payment.initialized"
	TypePaymentAuthorized   = "payment.authorized"
	TypePaymentCaptured     = "payment.captured"
	TypePaymentRefunded     = "payment.refunded"
	TypePaymentFailed       = "payment.failed"
	TypePaymentCancelled    = "payment.cancelled"
	TypePaymentRefundFailed = "payment.refund_failed"
	TypeTransactionRecorded = "ledger.transaction.recorded"
	TypeBalanceRetrieved    = "ledger.balance.retrieved"
)

type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	TraceID    string          `json:"trace_id"`
	Sequence   uint64          `json:"sequence"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

var sequence atomic.Uint64

// New builds an event stamped with a process-wide monotonic sequence number.
func New(ctx context.Context, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		TraceID:    TraceIDFromContext(ctx),
		Sequence:   sequence.Add(1),
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

type traceIDKey struct{}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

type nop struct{}

func (nop) Publish(context.Context, Event) error { return nil }

// Nop discards every event.
var Nop Publisher = nop{}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Publish(_ context.Context, e Event) error {
	l.log.Debug("event published",
		"event_id", e.ID,
		"event_type", e.Type,
		"trace_id", e.TraceID,
		"sequence", e.Sequence,
	)
	return nil
}

// Recorder keeps published events in memory. Useful in tests.
type Recorder struct {
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	return r.events
}

func (r *Recorder) Types() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
