// Package memstore provides in-memory store implementations for tests and
// development mode. Writes are serialized by a mutex; WithTx runs the
// closure under the same store without rollback.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

// PaymentStore is an in-memory payment.Store.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
	events   map[string][]payment.PaymentEvent
}

// NewPaymentStore returns an empty in-memory payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments: make(map[string]payment.Payment),
		events:   make(map[string][]payment.PaymentEvent),
	}
}

// WithTx runs fn against the same store. The memory store has no rollback;
// it exists for tests and dev mode only.
func (store *PaymentStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payment.Store) error) error {
	return fn(ctx, store)
}

func (store *PaymentStore) CreatePayment(ctx context.Context, record *payment.Payment) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	store.payments[record.ID] = *record
	return nil
}

func (store *PaymentStore) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.payments[paymentID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	copied := record
	return &copied, nil
}

func (store *PaymentStore) UpdatePayment(ctx context.Context, record *payment.Payment, expectedVersion int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	existing, ok := store.payments[record.ID]
	if !ok {
		return payment.ErrPaymentNotFound
	}
	if existing.Version != expectedVersion {
		return payment.ErrVersionConflict
	}
	store.payments[record.ID] = *record
	return nil
}

func (store *PaymentStore) AppendEvent(ctx context.Context, event payment.PaymentEvent) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	store.events[event.PaymentID] = append(store.events[event.PaymentID], event)
	return nil
}

func (store *PaymentStore) ListEvents(ctx context.Context, paymentID string) ([]payment.PaymentEvent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	events := store.events[paymentID]
	copied := make([]payment.PaymentEvent, len(events))
	copy(copied, events)
	return copied, nil
}
