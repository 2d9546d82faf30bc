package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultFastTimeout = 250 * time.Millisecond

// Guard reserves command keys exactly once across a fast volatile tier and
// a durable fallback. The durable tier is the system of record; the fast
// tier only shortens the happy path. A degraded fast tier is logged and
// transparently bypassed.
type Guard struct {
	fast        FastStore
	durable     DurableStore
	nowFn       func() int64
	fastTimeout time.Duration
	logger      *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithFastStore wires the volatile tier. Without one the guard runs on the
// durable store alone.
func WithFastStore(fast FastStore) GuardOption {
	return func(guard *Guard) {
		guard.fast = fast
	}
}

// WithFastTimeout bounds the fast-store attempt so a degraded cache cannot
// stall requests.
func WithFastTimeout(timeout time.Duration) GuardOption {
	return func(guard *Guard) {
		if timeout > 0 {
			guard.fastTimeout = timeout
		}
	}
}

// WithLogger wires a logger for degradation and sweep reporting.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(guard *Guard) {
		if logger != nil {
			guard.logger = logger
		}
	}
}

// NewGuard wires a Guard around the durable system of record.
func NewGuard(durable DurableStore, now func() int64, options ...GuardOption) (*Guard, error) {
	if durable == nil {
		return nil, fmt.Errorf("%w: durable store is nil", ErrInvalidConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidConfig)
	}
	guard := &Guard{
		durable:     durable,
		nowFn:       now,
		fastTimeout: defaultFastTimeout,
		logger:      zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(guard)
		}
	}
	return guard, nil
}

// Reserve returns true iff this call is the first to reserve (scope, key)
// within ttl. Losers of a concurrent race observe false, never an error.
func (guard *Guard) Reserve(ctx context.Context, scope string, key string, ttl time.Duration) (bool, error) {
	scope, key, err := normalizeScopeKey(scope, key)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: must be positive", ErrInvalidTTL)
	}

	if guard.fast != nil {
		won, fastErr := guard.reserveFast(ctx, scope, key, ttl)
		if fastErr == nil {
			if !won {
				return false, nil
			}
			return guard.reserveDurable(ctx, scope, key, ttl, true)
		}
		guard.logger.Warn("fast idempotency store degraded, falling back to durable store",
			zap.String("scope", scope), zap.Error(fastErr))
	}
	return guard.reserveDurable(ctx, scope, key, ttl, false)
}

func (guard *Guard) reserveFast(ctx context.Context, scope string, key string, ttl time.Duration) (bool, error) {
	fastCtx, cancel := context.WithTimeout(ctx, guard.fastTimeout)
	defer cancel()
	return guard.fast.Reserve(fastCtx, scope, key, ttl)
}

func (guard *Guard) reserveDurable(ctx context.Context, scope string, key string, ttl time.Duration, wonFast bool) (bool, error) {
	nowUnixUTC := guard.nowFn()
	err := guard.durable.Insert(ctx, Record{
		Scope:          scope,
		Key:            key,
		Status:         StatusReserved,
		CreatedUnixUTC: nowUnixUTC,
		ExpiresUnixUTC: nowUnixUTC + ttlSeconds(ttl),
	})
	if errors.Is(err, ErrAlreadyReserved) {
		// A durable record exists even though the fast tier handed us the
		// reservation (entry evicted or expired there). Durable wins.
		return false, nil
	}
	if err != nil {
		if wonFast && guard.fast != nil {
			if deleteErr := guard.fast.Delete(ctx, scope, key); deleteErr != nil {
				guard.logger.Warn("failed to release fast reservation after durable error",
					zap.String("scope", scope), zap.Error(deleteErr))
			}
		}
		return false, err
	}
	return true, nil
}

// StoreResponse attaches the final result to a reserved key so replays can
// return the cached result instead of re-executing the command.
func (guard *Guard) StoreResponse(ctx context.Context, scope string, key string, response StoredResponse) error {
	scope, key, err := normalizeScopeKey(scope, key)
	if err != nil {
		return err
	}
	return guard.durable.AttachResponse(ctx, scope, key, response.Code, response.Body)
}

// GetStoredResponse returns the cached result for a completed reservation.
// While the original command is still in flight it returns
// ErrStillProcessing; unknown or expired keys return ErrNotFound.
func (guard *Guard) GetStoredResponse(ctx context.Context, scope string, key string) (StoredResponse, error) {
	scope, key, err := normalizeScopeKey(scope, key)
	if err != nil {
		return StoredResponse{}, err
	}
	record, err := guard.durable.Get(ctx, scope, key)
	if err != nil {
		return StoredResponse{}, err
	}
	if record.Expired(guard.nowFn()) {
		return StoredResponse{}, ErrNotFound
	}
	if record.Status != StatusCompleted {
		return StoredResponse{}, ErrStillProcessing
	}
	return StoredResponse{Code: record.ResponseCode, Body: record.ResponseBody}, nil
}

// KeyExists reports whether an unexpired durable reservation exists.
func (guard *Guard) KeyExists(ctx context.Context, scope string, key string) (bool, error) {
	scope, key, err := normalizeScopeKey(scope, key)
	if err != nil {
		return false, err
	}
	record, err := guard.durable.Get(ctx, scope, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !record.Expired(guard.nowFn()), nil
}

// DeleteKey removes a reservation from both tiers.
func (guard *Guard) DeleteKey(ctx context.Context, scope string, key string) error {
	scope, key, err := normalizeScopeKey(scope, key)
	if err != nil {
		return err
	}
	if guard.fast != nil {
		if fastErr := guard.fast.Delete(ctx, scope, key); fastErr != nil {
			guard.logger.Warn("failed to delete fast reservation",
				zap.String("scope", scope), zap.Error(fastErr))
		}
	}
	return guard.durable.Delete(ctx, scope, key)
}

// Sweep purges expired durable records. Failures are reported to the
// caller for logging, never fatal to the serving path.
func (guard *Guard) Sweep(ctx context.Context) (int64, error) {
	purged, err := guard.durable.DeleteExpired(ctx, guard.nowFn())
	if err != nil {
		guard.logger.Error("idempotency sweep failed", zap.Error(err))
		return 0, err
	}
	if purged > 0 {
		guard.logger.Info("idempotency sweep purged expired records", zap.Int64("purged", purged))
	}
	return purged, nil
}

// ttlSeconds rounds the duration up to whole seconds so sub-second TTLs
// never produce an already-expired record.
func ttlSeconds(ttl time.Duration) int64 {
	return int64((ttl + time.Second - 1) / time.Second)
}

func normalizeScopeKey(scope string, key string) (string, string, error) {
	scope = strings.TrimSpace(scope)
	key = strings.TrimSpace(key)
	if scope == "" {
		return "", "", fmt.Errorf("%w: empty value", ErrInvalidScope)
	}
	if key == "" {
		return "", "", fmt.Errorf("%w: empty value", ErrInvalidKey)
	}
	return scope, key, nil
}
