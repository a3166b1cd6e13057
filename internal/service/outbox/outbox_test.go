package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
	"github.com/josh-kwaku/settlement-ledger/internal/service/outbox"
	"github.com/josh-kwaku/settlement-ledger/internal/testutil"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	got      []events.Event
}

func (s *flakySink) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, e)
	return nil
}

func newEvent(t *testing.T, ctx context.Context, eventType string) events.Event {
	t.Helper()
	e, err := events.New(ctx, eventType, map[string]string{"payment_id": "p-1"})
	require.NoError(t, err)
	return e
}

func TestWriterAndDispatcher_Deliver(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := events.WithTraceID(context.Background(), "req-42")
	repo := repository.NewOutboxRepository(db)
	writer := outbox.NewWriter(repo)

	first := newEvent(t, ctx, events.TypePaymentCaptured)
	require.NoError(t, writer.Publish(ctx, first))
	require.NoError(t, writer.Publish(ctx, first), "same event id is stored once")
	require.NoError(t, writer.Publish(ctx, newEvent(t, ctx, events.TypePaymentRefunded)))
	assert.Equal(t, 2, testutil.CountOutbox(t, db, domain.OutboxEventStatusPending))

	sink := &flakySink{}
	d := outbox.NewDispatcher(db, repo, sink, logging.Discard(), time.Second)

	delivered, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, testutil.CountOutbox(t, db, domain.OutboxEventStatusDispatched))

	require.Len(t, sink.got, 2)
	assert.Equal(t, first.ID, sink.got[0].ID)
	assert.Equal(t, "req-42", sink.got[0].TraceID)
	assert.JSONEq(t, string(first.Payload), string(sink.got[0].Payload))

	stored, err := repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.LastAttempt)

	delivered, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestDispatcher_RetriesThenGivesUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewOutboxRepository(db)

	e := newEvent(t, ctx, events.TypePaymentCaptured)
	require.NoError(t, outbox.NewWriter(repo).Publish(ctx, e))

	sink := &flakySink{failures: 10}
	d := outbox.NewDispatcher(db, repo, sink, logging.Discard(), time.Second, outbox.WithMaxAttempts(3))

	for i := 0; i < 2; i++ {
		delivered, err := d.DispatchOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, delivered)
		assert.Equal(t, 1, testutil.CountOutbox(t, db, domain.OutboxEventStatusPending))
	}

	_, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CountOutbox(t, db, domain.OutboxEventStatusFailed))

	stored, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
}

func TestDispatcher_RecoversAfterTransientFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewOutboxRepository(db)
	require.NoError(t, outbox.NewWriter(repo).Publish(ctx, newEvent(t, ctx, events.TypePaymentAuthorized)))

	sink := &flakySink{failures: 1}
	d := outbox.NewDispatcher(db, repo, sink, logging.Discard(), time.Second)

	delivered, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	delivered, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, sink.got, 1)
}

func TestHTTPSink(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx := events.WithTraceID(context.Background(), "trace-1")
	e := newEvent(t, ctx, events.TypeTransactionRecorded)

	require.NoError(t, outbox.NewHTTPSink(srv.URL, time.Second).Publish(ctx, e))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, events.TypeTransactionRecorded, gotHeader.Get("X-Event-Type"))
	assert.Equal(t, "trace-1", gotHeader.Get("X-Request-ID"))
}

func TestHTTPSink_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx := context.Background()
	err := outbox.NewHTTPSink(srv.URL, time.Second).Publish(ctx, newEvent(t, ctx, events.TypePaymentFailed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
