package domain

import (
	"encoding/json"
	"time"
)

type IdempotencyRecord struct {
	Key         string
	CommandType string
	RequestHash string
	Result      json.RawMessage
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Pending reports whether the record is a reservation still waiting for its
// command's result.
func (r *IdempotencyRecord) Pending() bool {
	return len(r.Result) == 0
}
