package payment_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
	"github.com/josh-kwaku/settlement-ledger/internal/service/idempotency"
	"github.com/josh-kwaku/settlement-ledger/internal/service/ledger"
	"github.com/josh-kwaku/settlement-ledger/internal/service/payment"
	"github.com/josh-kwaku/settlement-ledger/internal/testutil"
)

type stack struct {
	db        *sql.DB
	payments  *payment.Service
	projector *ledger.Projector
	recorder  *events.Recorder
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	db := testutil.SetupTestDB(t)

	ledgerSvc := ledger.NewService(db, repository.NewLedgerRepository(db), events.Nop)
	projector := ledger.NewProjector(ledgerSvc)
	rec := &events.Recorder{}

	svc := payment.NewService(
		repository.NewPaymentRepository(db),
		provider.NewMock(provider.DefaultCapabilities()),
		idempotency.NewCache(repository.NewIdempotencyRepository(db), time.Hour),
		events.Fanout{projector, rec},
		time.Second,
	)
	return &stack{db: db, payments: svc, projector: projector, recorder: rec}
}

func metadata(payer, merchant string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"payer_id": payer, "merchant_id": merchant})
	return b
}

func TestHappyPath_PostsDoubleEntry(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	p, err := s.payments.AuthorizeInline(ctx, payment.InlineAuthorizeRequest{
		Amount:      2000,
		Currency:    "USD",
		Method:      domain.PaymentMethodCard,
		SourceToken: "tok_ok",
		Metadata:    metadata("user-1", "shop-1"),
	})
	require.NoError(t, err)

	p, err = s.payments.Capture(ctx, payment.CaptureRequest{PaymentID: p.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(-2000), testutil.GetBalance(t, s.db, "user-1", "USD"))
	assert.Equal(t, int64(2000), testutil.GetBalance(t, s.db, "shop-1", "USD"))
	assert.Equal(t, 2, testutil.CountPaymentTransactions(t, s.db, p.ID))

	stored, err := s.payments.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, stored.Status)
	assert.Equal(t, int64(3), stored.Version)

	trail, err := s.payments.ListPaymentEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, domain.PaymentEventTypeInitialized, trail[0].EventType)
	assert.Equal(t, domain.PaymentEventTypeCaptured, trail[2].EventType)
}

func TestPartialRefund_PostsEachRefundOnce(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	p, err := s.payments.AuthorizeInline(ctx, payment.InlineAuthorizeRequest{
		Amount:      1000,
		Currency:    "EUR",
		Method:      domain.PaymentMethodWallet,
		SourceToken: "tok_ok",
		Metadata:    metadata("user-2", "shop-2"),
	})
	require.NoError(t, err)
	_, err = s.payments.Capture(ctx, payment.CaptureRequest{PaymentID: p.ID})
	require.NoError(t, err)

	p, err = s.payments.Refund(ctx, payment.RefundRequest{PaymentID: p.ID, Amount: domain.Int64Ptr(400)})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, p.Status)
	assert.Equal(t, int64(-600), testutil.GetBalance(t, s.db, "user-2", "EUR"))
	assert.Equal(t, int64(600), testutil.GetBalance(t, s.db, "shop-2", "EUR"))

	p, err = s.payments.Refund(ctx, payment.RefundRequest{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, p.Status)
	assert.Equal(t, int64(0), testutil.GetBalance(t, s.db, "user-2", "EUR"))
	assert.Equal(t, int64(0), testutil.GetBalance(t, s.db, "shop-2", "EUR"))
	assert.Equal(t, 6, testutil.CountPaymentTransactions(t, s.db, p.ID))
}

func TestDuplicateDelivery_DoesNotDoublePost(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	p, err := s.payments.AuthorizeInline(ctx, payment.InlineAuthorizeRequest{
		Amount:      750,
		Currency:    "USD",
		Method:      domain.PaymentMethodCard,
		SourceToken: "tok_ok",
	})
	require.NoError(t, err)
	_, err = s.payments.Capture(ctx, payment.CaptureRequest{PaymentID: p.ID})
	require.NoError(t, err)

	var captured events.Event
	for _, e := range s.recorder.Events() {
		if e.Type == events.TypePaymentCaptured {
			captured = e
		}
	}
	require.Equal(t, events.TypePaymentCaptured, captured.Type)

	for range 3 {
		require.NoError(t, s.projector.Publish(ctx, captured))
	}

	assert.Equal(t, int64(-750), testutil.GetBalance(t, s.db, ledger.ClearingEntityID, "USD"))
	assert.Equal(t, int64(750), testutil.GetBalance(t, s.db, ledger.DefaultMerchantID, "USD"))
	assert.Equal(t, 2, testutil.CountPaymentTransactions(t, s.db, p.ID))
}

func TestIdempotentCapture_AcrossServiceRestart(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	p, err := s.payments.AuthorizeInline(ctx, payment.InlineAuthorizeRequest{
		Amount: 300, Currency: "GBP", Method: domain.PaymentMethodCard, SourceToken: "tok_ok",
	})
	require.NoError(t, err)

	req := payment.CaptureRequest{PaymentID: p.ID, IdempotencyKey: "cap-1"}
	first, err := s.payments.Capture(ctx, req)
	require.NoError(t, err)

	restarted := payment.NewService(
		repository.NewPaymentRepository(s.db),
		provider.NewMock(provider.DefaultCapabilities()),
		idempotency.NewCache(repository.NewIdempotencyRepository(s.db), time.Hour),
		events.Nop,
		time.Second,
	)
	second, err := restarted.Capture(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, domain.PaymentStatusCaptured, second.Status)
}

func TestIdempotentAuthorize_ConcurrentSameKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	caps := provider.DefaultCapabilities()
	caps.Rules.Latency = 50 * time.Millisecond
	mock := provider.NewMock(caps)
	svc := payment.NewService(
		repository.NewPaymentRepository(db),
		mock,
		idempotency.NewCache(repository.NewIdempotencyRepository(db), time.Hour),
		events.Nop,
		time.Second,
	)
	ctx := context.Background()

	req := payment.InlineAuthorizeRequest{
		Amount:         900,
		Currency:       "USD",
		Method:         domain.PaymentMethodCard,
		SourceToken:    "tok_ok",
		IdempotencyKey: "same-key",
	}

	const n = 4
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.AuthorizeInline(ctx, req)
			if assert.NoError(t, err) {
				ids[i] = p.ID.String()
			}
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, mock.Calls("authorize"))

	var stored int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM payments`).Scan(&stored))
	assert.Equal(t, 1, stored)
}

func TestPaymentStore_VersionCAS(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewPaymentRepository(db)
	ctx := context.Background()

	p := testutil.NewPayment(domain.PaymentStatusInitialized, 100, nil)
	require.NoError(t, repo.Create(ctx, p, nil))

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *p
			cp.Status = domain.PaymentStatusCancelled
			err := repo.Update(ctx, &cp, 1, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			default:
				assert.ErrorIs(t, err, domain.ErrConcurrentModification)
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}
