package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
)

type fakeRecorder struct {
	inputs []RecordInput
}

func (f *fakeRecorder) RecordTransaction(_ context.Context, in RecordInput) (*RecordResult, error) {
	f.inputs = append(f.inputs, in)
	return &RecordResult{}, nil
}

func paymentEvent(t *testing.T, eventType string, p events.PaymentPayload) events.Event {
	t.Helper()
	e, err := events.New(context.Background(), eventType, p)
	require.NoError(t, err)
	return e
}

func TestProjector_CapturedPostsDebitAndCredit(t *testing.T) {
	rec := &fakeRecorder{}
	proj := NewProjector(rec)

	meta, _ := json.Marshal(map[string]string{"payer_id": "user-1", "merchant_id": "shop-9"})
	payload := events.PaymentPayload{
		PaymentID:      uuid.New(),
		Currency:       "EUR",
		CapturedAmount: domain.Int64Ptr(900),
		Metadata:       meta,
		Version:        3,
	}

	require.NoError(t, proj.Publish(context.Background(), paymentEvent(t, events.TypePaymentCaptured, payload)))
	require.Len(t, rec.inputs, 2)

	payer, merchant := rec.inputs[0], rec.inputs[1]
	assert.Equal(t, domain.DirectionDebit, payer.Direction)
	assert.Equal(t, domain.EntityTypeUser, payer.EntityType)
	assert.Equal(t, "user-1", payer.EntityID)
	assert.Equal(t, domain.DirectionCredit, merchant.Direction)
	assert.Equal(t, "shop-9", merchant.EntityID)
	assert.Equal(t, int64(900), merchant.AmountMinor)
	assert.Equal(t, events.TypePaymentCaptured, payer.SourceEventType)
	assert.Equal(t, payload.PaymentID.String(), *payer.CorrelationID)
}

func TestProjector_RefundUsesVersionedSourceAndDefaults(t *testing.T) {
	rec := &fakeRecorder{}
	proj := NewProjector(rec)

	payload := events.PaymentPayload{
		PaymentID:   uuid.New(),
		Currency:    "USD",
		Version:     5,
		RefundDelta: 120,
	}

	require.NoError(t, proj.Publish(context.Background(), paymentEvent(t, events.TypePaymentRefunded, payload)))
	require.Len(t, rec.inputs, 2)

	assert.Equal(t, "payment.refunded/v5", rec.inputs[0].SourceEventType)
	assert.Equal(t, ClearingEntityID, rec.inputs[0].EntityID)
	assert.Equal(t, domain.EntityTypeSystem, rec.inputs[0].EntityType)
	assert.Equal(t, domain.DirectionCredit, rec.inputs[0].Direction)
	assert.Equal(t, DefaultMerchantID, rec.inputs[1].EntityID)
	assert.Equal(t, domain.DirectionDebit, rec.inputs[1].Direction)
}

func TestProjector_IgnoresOtherEvents(t *testing.T) {
	rec := &fakeRecorder{}
	proj := NewProjector(rec)

	for _, typ := range []string{events.TypePaymentInitialized, events.TypePaymentAuthorized, events.TypeTransactionRecorded} {
		require.NoError(t, proj.Publish(context.Background(), paymentEvent(t, typ, events.PaymentPayload{})))
	}
	assert.Empty(t, rec.inputs)
}

func TestProjector_RejectsMalformedPayload(t *testing.T) {
	proj := NewProjector(&fakeRecorder{})
	e := events.Event{Type: events.TypePaymentCaptured, Payload: json.RawMessage(`{"payment_id": 12}`)}

	require.Error(t, proj.Publish(context.Background(), e))
}
