// Package idempotency deduplicates retried commands by remembering the result
// of the first execution under a caller-supplied key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
)

const (
	DefaultTTL = time.Hour
	// DefaultLeaseTTL bounds how long a reservation blocks a key when its
	// owner dies before storing a result.
	DefaultLeaseTTL = time.Minute
)

type store interface {
	Get(ctx context.Context, key, commandType string) (*domain.IdempotencyRecord, error)
	Reserve(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error)
	Set(ctx context.Context, rec *domain.IdempotencyRecord) error
	Delete(ctx context.Context, key, commandType string) error
}

// Lookup is the answer to CheckKey. RequestHash is set only when Exists is
// true. Pending means the key is reserved and its command has not finished,
// so Result is empty.
type Lookup struct {
	Exists      bool
	Pending     bool
	Result      json.RawMessage
	RequestHash string
}

type Cache struct {
	store    store
	ttl      time.Duration
	leaseTTL time.Duration
	now      func() time.Time
}

func NewCache(s store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: s, ttl: ttl, leaseTTL: DefaultLeaseTTL, now: time.Now}
}

// CheckKey reports whether a live result exists for (key, commandType).
// Expired records are deleted on sight. Store failures are logged and
// reported as a miss so a cache outage never blocks commands.
func (c *Cache) CheckKey(ctx context.Context, key, commandType string) Lookup {
	log := logging.FromContext(ctx)

	rec, err := c.store.Get(ctx, key, commandType)
	if err != nil {
		metrics.IdempotencyLookups.WithLabelValues("error").Inc()
		log.Warn("idempotency lookup failed, treating as miss",
			"idempotency_key", key,
			"command_type", commandType,
			"error", err,
		)
		return Lookup{}
	}
	if rec == nil {
		metrics.IdempotencyLookups.WithLabelValues("miss").Inc()
		return Lookup{}
	}

	if rec.Expired(c.now()) {
		metrics.IdempotencyLookups.WithLabelValues("expired").Inc()
		if err := c.store.Delete(ctx, key, commandType); err != nil {
			log.Warn("failed to delete expired idempotency record", "idempotency_key", key, "error", err)
		}
		return Lookup{}
	}

	if rec.Pending() {
		metrics.IdempotencyLookups.WithLabelValues("pending").Inc()
		return Lookup{Exists: true, Pending: true, RequestHash: rec.RequestHash}
	}

	metrics.IdempotencyLookups.WithLabelValues("hit").Inc()
	return Lookup{Exists: true, Result: rec.Result, RequestHash: rec.RequestHash}
}

// Reserve claims (key, commandType) for one caller. It returns true when the
// caller owns the key and must finish with StoreResult or Remove. A live
// record, pending or complete, makes it return false. The reservation lapses
// after the lease TTL.
func (c *Cache) Reserve(ctx context.Context, key, commandType, requestHash string) (bool, error) {
	now := c.now().UTC()
	owned, err := c.store.Reserve(ctx, &domain.IdempotencyRecord{
		Key:         key,
		CommandType: commandType,
		RequestHash: requestHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.leaseTTL),
	})
	if err != nil {
		return false, fmt.Errorf("Reserve: %w", err)
	}
	return owned, nil
}

// StoreResult records result for (key, commandType), completing a
// reservation made with the same request hash. A ttl of zero uses the cache
// default.
func (c *Cache) StoreResult(ctx context.Context, key, commandType, requestHash string, result any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("StoreResult: marshal: %w", err)
	}

	now := c.now().UTC()
	rec := &domain.IdempotencyRecord{
		Key:         key,
		CommandType: commandType,
		RequestHash: requestHash,
		Result:      body,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := c.store.Set(ctx, rec); err != nil {
		return fmt.Errorf("StoreResult: %w", err)
	}
	return nil
}

func (c *Cache) Remove(ctx context.Context, key, commandType string) error {
	if err := c.store.Delete(ctx, key, commandType); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

// HashRequest fingerprints a command so reuse of a key with a different
// request can be detected.
func HashRequest(ctx context.Context, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		logging.FromContext(ctx).Error("failed to hash request", "error", err)
		return "", fmt.Errorf("HashRequest: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
