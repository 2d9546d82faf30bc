package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stratos-brokerage/paycore/pkg/ledger"
)

// LedgerStore is an in-memory ledger.Store.
type LedgerStore struct {
	mu           sync.Mutex
	transactions []ledger.Transaction
	balances     map[ledger.BalanceKey]ledger.Balance
}

// NewLedgerStore returns an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		balances: make(map[ledger.BalanceKey]ledger.Balance),
	}
}

// WithTx runs fn against the same store (no rollback).
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, transaction *ledger.Transaction) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	store.transactions = append(store.transactions, *transaction)
	return nil
}

func (store *LedgerStore) ApplyBalanceDelta(ctx context.Context, key ledger.BalanceKey, delta int64, lastTransactionID string, atUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	balance := store.balances[key]
	balance.EntityType = key.EntityType
	balance.EntityID = key.EntityID
	balance.Currency = key.Currency
	balance.BalanceMinor += delta
	balance.LastTransactionID = lastTransactionID
	balance.UpdatedUnixUTC = atUnixUTC
	store.balances[key] = balance
	return nil
}

// SetBalance overwrites a balance row directly, bypassing the transaction
// log. Test hook for simulating drift.
func (store *LedgerStore) SetBalance(key ledger.BalanceKey, balanceMinor int64) {
	store.mu.Lock()
	defer store.mu.Unlock()
	balance := store.balances[key]
	balance.EntityType = key.EntityType
	balance.EntityID = key.EntityID
	balance.Currency = key.Currency
	balance.BalanceMinor = balanceMinor
	store.balances[key] = balance
}

func (store *LedgerStore) GetBalance(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, ok := store.balances[key]
	if !ok {
		return ledger.Balance{}, ledger.ErrBalanceNotFound
	}
	return balance, nil
}

func (store *LedgerStore) ListBalances(ctx context.Context) ([]ledger.Balance, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	balances := make([]ledger.Balance, 0, len(store.balances))
	for _, balance := range store.balances {
		balances = append(balances, balance)
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Key().String() < balances[j].Key().String()
	})
	return balances, nil
}

func (store *LedgerStore) SumTransactions(ctx context.Context, key ledger.BalanceKey) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var total int64
	for _, transaction := range store.transactions {
		if transaction.Key() == key {
			total += transaction.SignedDelta()
		}
	}
	return total, nil
}

func (store *LedgerStore) ListTransactionKeys(ctx context.Context) ([]ledger.BalanceKey, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	seen := make(map[ledger.BalanceKey]bool)
	keys := make([]ledger.BalanceKey, 0)
	for _, transaction := range store.transactions {
		key := transaction.Key()
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (store *LedgerStore) CountTransactions(ctx context.Context) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return int64(len(store.transactions)), nil
}

func (store *LedgerStore) StreamTransactions(ctx context.Context, batchSize int, fn func(batch []ledger.Transaction) error) error {
	store.mu.Lock()
	ordered := make([]ledger.Transaction, len(store.transactions))
	copy(ordered, store.transactions)
	store.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedUnixUTC != ordered[j].CreatedUnixUTC {
			return ordered[i].CreatedUnixUTC < ordered[j].CreatedUnixUTC
		}
		return ordered[i].ID < ordered[j].ID
	})
	for start := 0; start < len(ordered); start += batchSize {
		end := start + batchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		if err := fn(ordered[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (store *LedgerStore) ClearBalances(ctx context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.balances = make(map[ledger.BalanceKey]ledger.Balance)
	return nil
}
