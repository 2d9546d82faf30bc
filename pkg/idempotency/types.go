package idempotency

import (
	"context"
	"time"
)

// Status marks how far a reserved command got.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCompleted Status = "completed"
)

// String returns the status value.
func (status Status) String() string {
	return string(status)
}

// Record is one reservation. (Scope, Key) is unique while unexpired.
type Record struct {
	Scope          string
	Key            string
	Status         Status
	ResponseCode   int
	ResponseBody   []byte
	CreatedUnixUTC int64
	ExpiresUnixUTC int64
}

// Expired reports whether the record is past its TTL at the given instant.
func (record Record) Expired(nowUnixUTC int64) bool {
	return record.ExpiresUnixUTC <= nowUnixUTC
}

// StoredResponse is the cached result attached to a completed reservation.
type StoredResponse struct {
	Code int
	Body []byte
}

// FastStore is the volatile reservation tier. Reserve must be an atomic
// set-if-absent with expiry; under concurrent first-time reservations the
// store guarantees exactly one winner.
type FastStore interface {
	Reserve(ctx context.Context, scope string, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, scope string, key string) error
}

// DurableStore is the system of record. Insert must be guarded by a
// uniqueness constraint on (scope, key) and return ErrAlreadyReserved on a
// constraint violation.
type DurableStore interface {
	Insert(ctx context.Context, record Record) error
	AttachResponse(ctx context.Context, scope string, key string, code int, body []byte) error
	Get(ctx context.Context, scope string, key string) (Record, error)
	Delete(ctx context.Context, scope string, key string) error
	DeleteExpired(ctx context.Context, nowUnixUTC int64) (int64, error)
}
