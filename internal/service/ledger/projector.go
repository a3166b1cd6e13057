package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
)

const (
	// ClearingEntityID stands in for the payer when a payment names none.
	ClearingEntityID = "payments-clearing"
	// DefaultMerchantID receives funds when a payment names no merchant.
	DefaultMerchantID = "default-merchant"
)

type recorder interface {
	RecordTransaction(ctx context.Context, in RecordInput) (*RecordResult, error)
}

// Projector turns settled payment events into double-entry postings. It is
// safe to deliver the same event any number of times.
type Projector struct {
	ledger recorder
}

func NewProjector(ledger recorder) *Projector {
	return &Projector{ledger: ledger}
}

func (p *Projector) Publish(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.TypePaymentCaptured, events.TypePaymentRefunded:
	default:
		return nil
	}

	var payload events.PaymentPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("Projector.Publish: decode %s: %w", e.Type, err)
	}

	for _, in := range postingsFor(e.Type, payload) {
		if _, err := p.ledger.RecordTransaction(ctx, in); err != nil {
			return fmt.Errorf("Projector.Publish: %s for %s: %w", in.Direction, in.EntityID, err)
		}
	}

	logging.FromContext(ctx).Debug("payment event projected",
		"event_id", e.ID,
		"event_type", e.Type,
		"payment_id", payload.PaymentID,
	)
	return nil
}

func postingsFor(eventType string, p events.PaymentPayload) []RecordInput {
	payerType, payerID := domain.EntityTypeSystem, ClearingEntityID
	if id := p.MetadataString("payer_id"); id != "" {
		payerType, payerID = domain.EntityTypeUser, id
	}
	merchantID := DefaultMerchantID
	if id := p.MetadataString("merchant_id"); id != "" {
		merchantID = id
	}

	paymentID := p.PaymentID
	correlation := paymentID.String()

	var (
		source             string
		amount             int64
		payerDir, merchDir domain.Direction
	)
	switch eventType {
	case events.TypePaymentCaptured:
		source = events.TypePaymentCaptured
		amount = domain.Int64Val(p.CapturedAmount)
		payerDir, merchDir = domain.DirectionDebit, domain.DirectionCredit
	case events.TypePaymentRefunded:
		// Each refund bumps the payment version, so the version keeps partial
		// refunds distinct under the natural key.
		source = events.TypePaymentRefunded + "/v" + strconv.FormatInt(p.Version, 10)
		amount = p.RefundDelta
		payerDir, merchDir = domain.DirectionCredit, domain.DirectionDebit
	}
	if amount <= 0 || payerID == merchantID {
		return nil
	}

	return []RecordInput{
		{
			SourceEventType: source,
			PaymentID:       &paymentID,
			AmountMinor:     amount,
			Currency:        p.Currency,
			Direction:       payerDir,
			EntityType:      payerType,
			EntityID:        payerID,
			CorrelationID:   &correlation,
		},
		{
			SourceEventType: source,
			PaymentID:       &paymentID,
			AmountMinor:     amount,
			Currency:        p.Currency,
			Direction:       merchDir,
			EntityType:      domain.EntityTypeMerchant,
			EntityID:        merchantID,
			CorrelationID:   &correlation,
		},
	}
}
