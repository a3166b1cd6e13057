package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
)

type outboxStore interface {
	Create(ctx context.Context, e *domain.OutboxEvent) error
}

// Writer is an events.Publisher that parks events in the outbox table for
// the Dispatcher to deliver.
type Writer struct {
	store outboxStore
}

func NewWriter(store outboxStore) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Publish(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("Writer.Publish: marshal: %w", err)
	}
	row := &domain.OutboxEvent{
		ID:        e.ID,
		EventType: e.Type,
		TraceID:   e.TraceID,
		Payload:   body,
		Status:    domain.OutboxEventStatusPending,
		CreatedAt: e.OccurredAt,
	}
	if err := w.store.Create(ctx, row); err != nil {
		return fmt.Errorf("Writer.Publish: %w", err)
	}
	return nil
}
