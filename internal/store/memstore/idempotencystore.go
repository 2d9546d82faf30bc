package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/stratos-brokerage/paycore/pkg/idempotency"
)

type scopeKey struct {
	scope string
	key   string
}

// IdempotencyStore is an in-memory idempotency.DurableStore.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[scopeKey]idempotency.Record
}

// NewIdempotencyStore returns an empty in-memory durable store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		records: make(map[scopeKey]idempotency.Record),
	}
}

func (store *IdempotencyStore) Insert(ctx context.Context, record idempotency.Record) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	id := scopeKey{scope: record.Scope, key: record.Key}
	if existing, ok := store.records[id]; ok {
		if !existing.Expired(record.CreatedUnixUTC) {
			return idempotency.ErrAlreadyReserved
		}
	}
	store.records[id] = record
	return nil
}

func (store *IdempotencyStore) AttachResponse(ctx context.Context, scope string, key string, code int, body []byte) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	id := scopeKey{scope: scope, key: key}
	record, ok := store.records[id]
	if !ok {
		return idempotency.ErrNotFound
	}
	record.Status = idempotency.StatusCompleted
	record.ResponseCode = code
	record.ResponseBody = body
	store.records[id] = record
	return nil
}

func (store *IdempotencyStore) Get(ctx context.Context, scope string, key string) (idempotency.Record, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.records[scopeKey{scope: scope, key: key}]
	if !ok {
		return idempotency.Record{}, idempotency.ErrNotFound
	}
	return record, nil
}

func (store *IdempotencyStore) Delete(ctx context.Context, scope string, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.records, scopeKey{scope: scope, key: key})
	return nil
}

func (store *IdempotencyStore) DeleteExpired(ctx context.Context, nowUnixUTC int64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var purged int64
	for id, record := range store.records {
		if record.Expired(nowUnixUTC) {
			delete(store.records, id)
			purged++
		}
	}
	return purged, nil
}

// FastStore is an in-memory idempotency.FastStore with injectable failure,
// standing in for the volatile tier in tests and dev mode.
type FastStore struct {
	mu      sync.Mutex
	entries map[scopeKey]time.Time
	nowFn   func() time.Time

	// FailWith, when set, makes every call return this error to exercise
	// the durable fallback path.
	FailWith error
}

// NewFastStore returns an empty in-memory fast store.
func NewFastStore() *FastStore {
	return &FastStore{
		entries: make(map[scopeKey]time.Time),
		nowFn:   time.Now,
	}
}

func (store *FastStore) Reserve(ctx context.Context, scope string, key string, ttl time.Duration) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.FailWith != nil {
		return false, store.FailWith
	}
	id := scopeKey{scope: scope, key: key}
	now := store.nowFn()
	if expiry, ok := store.entries[id]; ok && expiry.After(now) {
		return false, nil
	}
	store.entries[id] = now.Add(ttl)
	return true, nil
}

func (store *FastStore) Delete(ctx context.Context, scope string, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.FailWith != nil {
		return store.FailWith
	}
	delete(store.entries, scopeKey{scope: scope, key: key})
	return nil
}
