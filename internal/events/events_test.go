package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestNew_StampsTraceAndSequence(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")

	first, err := New(ctx, TypePaymentInitialized, map[string]int{"amount": 100})
	require.NoError(t, err)
	second, err := New(ctx, TypePaymentAuthorized, map[string]int{"amount": 100})
	require.NoError(t, err)

	assert.Equal(t, "trace-1", first.TraceID)
	assert.Greater(t, second.Sequence, first.Sequence)
	assert.JSONEq(t, `{"amount":100}`, string(first.Payload))
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("boom")
	f := Fanout{rec, failing{err: boom}, Nop}

	e, err := New(context.Background(), TypePaymentCaptured, struct{}{})
	require.NoError(t, err)

	err = f.Publish(context.Background(), e)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{TypePaymentCaptured}, rec.Types())
}
