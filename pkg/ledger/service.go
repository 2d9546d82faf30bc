package ledger

import (
	"context"
	"fmt"
)

// Service owns all writes to the transaction log. Appending a transaction
// and applying its balance delta happen in one atomic unit of work; that
// pairing is the invariant the verifier checks.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Append inserts one transaction and updates the materialized balance for
// its key. Both writes commit together or neither does.
func (service *Service) Append(ctx context.Context, entityType string, entityID string, currency string, direction Direction, amountMinor int64) (*Transaction, error) {
	key, err := NewBalanceKey(entityType, entityID, currency)
	if err != nil {
		return nil, err
	}
	if _, err := ParseDirection(direction.String()); err != nil {
		return nil, err
	}
	if amountMinor < 0 {
		return nil, fmt.Errorf("%w: must be non-negative", ErrInvalidAmount)
	}
	transaction := &Transaction{
		EntityType:     key.EntityType,
		EntityID:       key.EntityID,
		Currency:       key.Currency,
		Direction:      direction,
		AmountMinor:    amountMinor,
		CreatedUnixUTC: service.nowFn(),
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
			return err
		}
		return transactionStore.ApplyBalanceDelta(ctx, key, transaction.SignedDelta(), transaction.ID, transaction.CreatedUnixUTC)
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

// Balance reads the materialized balance for a key.
func (service *Service) Balance(ctx context.Context, key BalanceKey) (Balance, error) {
	return service.store.GetBalance(ctx, key)
}

// Balances lists every materialized balance row.
func (service *Service) Balances(ctx context.Context) ([]Balance, error) {
	return service.store.ListBalances(ctx)
}
