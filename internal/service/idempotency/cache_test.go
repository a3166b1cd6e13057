package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	getErr  error
	now     func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{records: make(map[string]domain.IdempotencyRecord), now: now}
}

func (m *memStore) Get(_ context.Context, key, commandType string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[key+"|"+commandType]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) Reserve(_ context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rec.Key + "|" + rec.CommandType
	if existing, ok := m.records[k]; ok && !existing.Expired(m.now()) {
		return false, nil
	}
	m.records[k] = *rec
	return true, nil
}

func (m *memStore) Set(_ context.Context, rec *domain.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rec.Key + "|" + rec.CommandType
	if existing, ok := m.records[k]; ok && !existing.Expired(m.now()) &&
		!(existing.Pending() && existing.RequestHash == rec.RequestHash) {
		return nil
	}
	m.records[k] = *rec
	return nil
}

func (m *memStore) Delete(_ context.Context, key, commandType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key+"|"+commandType)
	return nil
}

func (m *memStore) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if rec.Expired(m.now()) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(ttl time.Duration) (*Cache, *memStore, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore(clk.now)
	c := NewCache(store, ttl)
	c.now = clk.now
	return c, store, clk
}

func TestCache_StoreThenHit(t *testing.T) {
	c, _, _ := newTestCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.StoreResult(ctx, "k1", "capture", "h1", map[string]string{"status": "captured"}, 0))

	got := c.CheckKey(ctx, "k1", "capture")
	assert.True(t, got.Exists)
	assert.Equal(t, "h1", got.RequestHash)
	assert.JSONEq(t, `{"status":"captured"}`, string(got.Result))
}

func TestCache_KeyScopedByCommandType(t *testing.T) {
	c, _, _ := newTestCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.StoreResult(ctx, "k1", "capture", "h1", "ok", 0))

	assert.False(t, c.CheckKey(ctx, "k1", "refund").Exists)
}

func TestCache_ExpiredRecordIsDeletedOnLookup(t *testing.T) {
	c, store, clk := newTestCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.StoreResult(ctx, "k1", "authorize", "h1", "ok", 0))
	clk.advance(time.Minute)

	assert.False(t, c.CheckKey(ctx, "k1", "authorize").Exists)
	assert.Empty(t, store.records)
}

func TestCache_ExplicitTTLOverridesDefault(t *testing.T) {
	c, _, clk := newTestCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, c.StoreResult(ctx, "k1", "authorize", "h1", "ok", time.Second))
	clk.advance(2 * time.Second)

	assert.False(t, c.CheckKey(ctx, "k1", "authorize").Exists)
}

func TestCache_StoreFailureIsAMiss(t *testing.T) {
	c, store, _ := newTestCache(time.Minute)
	store.getErr = errors.New("connection refused")

	assert.False(t, c.CheckKey(context.Background(), "k1", "authorize").Exists)
}

func TestCache_Remove(t *testing.T) {
	c, _, _ := newTestCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.StoreResult(ctx, "k1", "authorize", "h1", "ok", 0))
	require.NoError(t, c.Remove(ctx, "k1", "authorize"))

	assert.False(t, c.CheckKey(ctx, "k1", "authorize").Exists)
}

func TestHashRequest_Stable(t *testing.T) {
	type req struct {
		Amount int64  `json:"amount"`
		Token  string `json:"token"`
	}
	ctx := context.Background()
	hash := func(v any) string {
		h, err := HashRequest(ctx, v)
		require.NoError(t, err)
		return h
	}
	assert.Equal(t, hash(req{100, "a"}), hash(req{100, "a"}))
	assert.NotEqual(t, hash(req{100, "a"}), hash(req{101, "a"}))
}

func TestHashRequest_UnmarshalableReturnsError(t *testing.T) {
	h, err := HashRequest(context.Background(), map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Empty(t, h)
}

func TestCache_ReserveOnce(t *testing.T) {
	c, _, _ := newTestCache(time.Minute)
	ctx := context.Background()

	owned, err := c.Reserve(ctx, "k1", "authorize", "h1")
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = c.Reserve(ctx, "k1", "authorize", "h1")
	require.NoError(t, err)
	assert.False(t, owned)

	got := c.CheckKey(ctx, "k1", "authorize")
	assert.True(t, got.Exists)
	assert.True(t, got.Pending)
	assert.Equal(t, "h1", got.RequestHash)
	assert.Empty(t, got.Result)
}

func TestCache_StoreResultCompletesReservation(t *testing.T) {
	c, _, _ := newTestCache(time.Minute)
	ctx := context.Background()

	owned, err := c.Reserve(ctx, "k1", "capture", "h1")
	require.NoError(t, err)
	require.True(t, owned)
	require.NoError(t, c.StoreResult(ctx, "k1", "capture", "h1", "done", 0))

	got := c.CheckKey(ctx, "k1", "capture")
	assert.True(t, got.Exists)
	assert.False(t, got.Pending)
	assert.JSONEq(t, `"done"`, string(got.Result))
}

func TestCache_ReservationLapsesAfterLease(t *testing.T) {
	c, _, clk := newTestCache(time.Hour)
	ctx := context.Background()

	owned, err := c.Reserve(ctx, "k1", "refund", "h1")
	require.NoError(t, err)
	require.True(t, owned)

	clk.advance(DefaultLeaseTTL)
	owned, err = c.Reserve(ctx, "k1", "refund", "h1")
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestSweeper_RemovesOnlyExpired(t *testing.T) {
	c, store, clk := newTestCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.StoreResult(ctx, "old", "authorize", "h", "ok", time.Second))
	require.NoError(t, c.StoreResult(ctx, "new", "authorize", "h", "ok", time.Hour))
	clk.advance(time.Minute)

	s := NewSweeper(store, logging.Discard(), time.Minute)
	assert.Equal(t, int64(1), s.Sweep(ctx))
	assert.True(t, c.CheckKey(ctx, "new", "authorize").Exists)
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	_, store, _ := newTestCache(time.Minute)
	s := NewSweeper(store, logging.Discard(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
