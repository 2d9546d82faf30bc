package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Direction marks which side of the ledger a transaction sits on.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// String returns the direction value.
func (direction Direction) String() string {
	return string(direction)
}

// ParseDirection validates a stored direction value.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionCredit, DirectionDebit:
		return Direction(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
}

// SignedDelta converts a non-negative amount into the signed balance delta
// (credits positive, debits negative).
func (direction Direction) SignedDelta(amountMinor int64) int64 {
	if direction == DirectionDebit {
		return -amountMinor
	}
	return amountMinor
}

// BalanceKey identifies a materialized balance row.
type BalanceKey struct {
	EntityType string
	EntityID   string
	Currency   string
}

// NewBalanceKey validates the three key components.
func NewBalanceKey(entityType string, entityID string, currency string) (BalanceKey, error) {
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if entityType == "" || entityID == "" {
		return BalanceKey{}, fmt.Errorf("%w: empty entity", ErrInvalidEntity)
	}
	if len(currency) != 3 {
		return BalanceKey{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return BalanceKey{EntityType: entityType, EntityID: entityID, Currency: currency}, nil
}

// String renders the key for logs and reports.
func (key BalanceKey) String() string {
	return key.EntityType + "/" + key.EntityID + "/" + key.Currency
}

// Transaction is one immutable signed movement in the log. AmountMinor is
// always non-negative; Direction carries the sign.
type Transaction struct {
	ID             string
	EntityType     string
	EntityID       string
	Currency       string
	Direction      Direction
	AmountMinor    int64
	CreatedUnixUTC int64
}

// SignedDelta returns the balance contribution of this transaction.
func (transaction Transaction) SignedDelta() int64 {
	return transaction.Direction.SignedDelta(transaction.AmountMinor)
}

// Key returns the balance key this transaction belongs to.
func (transaction Transaction) Key() BalanceKey {
	return BalanceKey{
		EntityType: transaction.EntityType,
		EntityID:   transaction.EntityID,
		Currency:   transaction.Currency,
	}
}

// Balance is the materialized running total for one key. It must always
// equal the signed sum of all transactions sharing the key.
type Balance struct {
	EntityType        string
	EntityID          string
	Currency          string
	BalanceMinor      int64
	LastTransactionID string
	UpdatedUnixUTC    int64
}

// Key returns the balance key of this row.
func (balance Balance) Key() BalanceKey {
	return BalanceKey{
		EntityType: balance.EntityType,
		EntityID:   balance.EntityID,
		Currency:   balance.Currency,
	}
}

// Store is the persistence contract for the transaction log and the
// materialized balances.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertTransaction(ctx context.Context, transaction *Transaction) error
	// ApplyBalanceDelta upserts the balance row for key by adding delta and
	// recording the transaction that produced it.
	ApplyBalanceDelta(ctx context.Context, key BalanceKey, delta int64, lastTransactionID string, atUnixUTC int64) error
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context) ([]Balance, error)
	SumTransactions(ctx context.Context, key BalanceKey) (int64, error)
	ListTransactionKeys(ctx context.Context) ([]BalanceKey, error)
	CountTransactions(ctx context.Context) (int64, error)
	// StreamTransactions delivers the full log in (created_at, id) order in
	// batches of at most batchSize rows.
	StreamTransactions(ctx context.Context, batchSize int, fn func(batch []Transaction) error) error
	ClearBalances(ctx context.Context) error
}
