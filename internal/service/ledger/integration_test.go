package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
	"github.com/josh-kwaku/settlement-ledger/internal/service/ledger"
	"github.com/josh-kwaku/settlement-ledger/internal/testutil"
)

func setupLedger(t *testing.T, db *sql.DB) (*ledger.Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	return ledger.NewService(db, repository.NewLedgerRepository(db), rec), rec
}

func credit(entityID string, paymentID *uuid.UUID, source string, amount int64) ledger.RecordInput {
	return ledger.RecordInput{
		SourceEventType: source,
		PaymentID:       paymentID,
		AmountMinor:     amount,
		Currency:        "USD",
		Direction:       domain.DirectionCredit,
		EntityType:      domain.EntityTypeUser,
		EntityID:        entityID,
	}
}

func TestRecordTransaction_UpdatesBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, rec := setupLedger(t, db)
	ctx := context.Background()

	pid := uuid.New()
	res, err := svc.RecordTransaction(ctx, credit("alice", &pid, "deposit", 1500))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(1500), res.BalanceMinor)

	debit := credit("alice", &pid, "withdrawal", 400)
	debit.Direction = domain.DirectionDebit
	res, err = svc.RecordTransaction(ctx, debit)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), res.BalanceMinor)

	assert.Equal(t, int64(1100), testutil.GetBalance(t, db, "alice", "USD"))
	assert.Equal(t, []string{events.TypeTransactionRecorded, events.TypeTransactionRecorded}, rec.Types())
}

func TestRecordTransaction_IdempotentOnNaturalKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, rec := setupLedger(t, db)
	ctx := context.Background()

	pid := uuid.New()
	first, err := svc.RecordTransaction(ctx, credit("bob", &pid, "payment.captured", 700))
	require.NoError(t, err)

	second, err := svc.RecordTransaction(ctx, credit("bob", &pid, "payment.captured", 999))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(700), second.Transaction.AmountMinor)
	assert.Equal(t, int64(700), testutil.GetBalance(t, db, "bob", "USD"))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, "bob"))
	assert.Len(t, rec.Events(), 1)
}

func TestRecordTransaction_NullPaymentIDStillDeduplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupLedger(t, db)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, credit("carol", nil, "manual.adjustment", 50))
	require.NoError(t, err)
	res, err := svc.RecordTransaction(ctx, credit("carol", nil, "manual.adjustment", 50))
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(50), testutil.GetBalance(t, db, "carol", "USD"))
}

func TestRecordTransaction_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupLedger(t, db)

	in := credit("", nil, "", -1)
	in.Currency = "XXZ"
	_, err := svc.RecordTransaction(context.Background(), in)

	require.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Fields), 4)
}

func TestRecordTransaction_ConcurrentPostingsDoNotLoseUpdates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupLedger(t, db)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pid := uuid.New()
			if _, err := svc.RecordTransaction(ctx, credit("dave", &pid, "deposit", 10)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(n*10), testutil.GetBalance(t, db, "dave", "USD"))
	assert.Equal(t, n, testutil.CountTransactions(t, db, "dave"))
}

func TestRecordTransaction_ConcurrentDuplicatesPostOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupLedger(t, db)
	ctx := context.Background()

	pid := uuid.New()
	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordTransaction(ctx, credit("erin", &pid, "payment.captured", 250))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(250), testutil.GetBalance(t, db, "erin", "USD"))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, "erin"))
}

func TestRecordTransaction_RejectsEntityTypeChange(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupLedger(t, db)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, credit("grace", nil, "manual.adjustment", 300))
	require.NoError(t, err)

	asSystem := credit("grace", nil, "manual.correction", 50)
	asSystem.EntityType = domain.EntityTypeSystem
	_, err = svc.RecordTransaction(ctx, asSystem)
	require.ErrorIs(t, err, domain.ErrEntityTypeMismatch)

	asSystem.Currency = "EUR"
	_, err = svc.RecordTransaction(ctx, asSystem)
	require.ErrorIs(t, err, domain.ErrEntityTypeMismatch)

	b, err := svc.GetBalance(ctx, "grace", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(300), b.BalanceMinor)
	assert.Equal(t, domain.EntityTypeUser, b.EntityType)
	assert.Equal(t, 1, testutil.CountTransactions(t, db, "grace"))
}

func TestGetBalance_AbsentIsZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, rec := setupLedger(t, db)

	b, err := svc.GetBalance(context.Background(), "nobody", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.BalanceMinor)
	assert.Equal(t, []string{events.TypeBalanceRetrieved}, rec.Types())
}

func TestGetBalance_ReadPublisherKeepsReadsOffMainPublisher(t *testing.T) {
	db := testutil.SetupTestDB(t)
	writes := &events.Recorder{}
	reads := &events.Recorder{}
	svc := ledger.NewService(db, repository.NewLedgerRepository(db), writes, ledger.WithReadPublisher(reads))
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, credit("frank", nil, "manual.adjustment", 100))
	require.NoError(t, err)
	_, err = svc.GetBalance(ctx, "frank", "USD")
	require.NoError(t, err)

	assert.Equal(t, []string{events.TypeTransactionRecorded}, writes.Types())
	assert.Equal(t, []string{events.TypeBalanceRetrieved}, reads.Types())
}

func TestListTransactionsForEntity_SortAndPage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupLedger(t, db)
	ctx := context.Background()

	for _, amt := range []int64{300, 100, 200} {
		pid := uuid.New()
		_, err := svc.RecordTransaction(ctx, credit("frank", &pid, "deposit", amt))
		require.NoError(t, err)
	}

	page, err := svc.ListTransactionsForEntity(ctx, ledger.ListQuery{
		EntityID:  "frank",
		Limit:     2,
		SortBy:    domain.SortByAmount,
		SortOrder: domain.SortAsc,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, int64(100), page.Transactions[0].AmountMinor)
	assert.Equal(t, int64(200), page.Transactions[1].AmountMinor)

	page, err = svc.ListTransactionsForEntity(ctx, ledger.ListQuery{EntityID: "frank"})
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultPageSize, page.Limit)
	assert.Len(t, page.Transactions, 3)

	_, err = svc.ListTransactionsForEntity(ctx, ledger.ListQuery{EntityID: "frank", SortBy: "entity"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.ListTransactionsForEntity(ctx, ledger.ListQuery{EntityID: "frank", Limit: 501})
	require.ErrorIs(t, err, domain.ErrValidation)
}
