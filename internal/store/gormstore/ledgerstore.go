package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, transaction *ledger.Transaction) error {
	model := LedgerTransactionRecord{
		TransactionID: transaction.ID,
		EntityType:    transaction.EntityType,
		EntityID:      transaction.EntityID,
		Currency:      transaction.Currency,
		Direction:     transaction.Direction.String(),
		AmountMinor:   transaction.AmountMinor,
		CreatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapLedgerError("transaction", "insert", err)
	}
	transaction.ID = model.TransactionID
	return nil
}

// ApplyBalanceDelta upserts the balance row, adding delta to the running
// total. The row lock taken by the upsert is the only write lock the
// subsystem needs; it is scoped to this unit of work.
func (store *LedgerStore) ApplyBalanceDelta(ctx context.Context, key ledger.BalanceKey, delta int64, lastTransactionID string, atUnixUTC int64) error {
	model := LedgerBalanceRecord{
		EntityType:        key.EntityType,
		EntityID:          key.EntityID,
		Currency:          key.Currency,
		BalanceMinor:      delta,
		LastTransactionID: lastTransactionID,
		UpdatedAt:         time.Unix(atUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "currency"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance_minor":       clause.Expr{SQL: "ledger_balances.balance_minor + excluded.balance_minor"},
				"last_transaction_id": clause.Expr{SQL: "excluded.last_transaction_id"},
				"updated_at":          clause.Expr{SQL: "excluded.updated_at"},
			}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapLedgerError("balance", "upsert", err)
	}
	return nil
}

func (store *LedgerStore) GetBalance(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	var model LedgerBalanceRecord
	err := store.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND currency = ?", key.EntityType, key.EntityID, key.Currency).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Balance{}, wrapLedgerError("balance", "get", ledger.ErrBalanceNotFound)
		}
		return ledger.Balance{}, wrapLedgerError("balance", "get", err)
	}
	return mapBalance(model), nil
}

func (store *LedgerStore) ListBalances(ctx context.Context) ([]ledger.Balance, error) {
	var rows []LedgerBalanceRecord
	err := store.db.WithContext(ctx).
		Order("entity_type ASC, entity_id ASC, currency ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapLedgerError("balance", "list", err)
	}
	balances := make([]ledger.Balance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, mapBalance(row))
	}
	return balances, nil
}

func (store *LedgerStore) SumTransactions(ctx context.Context, key ledger.BalanceKey) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerTransactionRecord{}).
		Select("coalesce(sum(case when direction = 'credit' then amount_minor else -amount_minor end),0) as total").
		Where("entity_type = ? AND entity_id = ? AND currency = ?", key.EntityType, key.EntityID, key.Currency).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapLedgerError("transaction", "sum", err)
	}
	return sum.Total, nil
}

func (store *LedgerStore) ListTransactionKeys(ctx context.Context) ([]ledger.BalanceKey, error) {
	var rows []LedgerTransactionRecord
	err := store.db.WithContext(ctx).
		Model(&LedgerTransactionRecord{}).
		Distinct("entity_type", "entity_id", "currency").
		Find(&rows).Error
	if err != nil {
		return nil, wrapLedgerError("transaction", "list_keys", err)
	}
	keys := make([]ledger.BalanceKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, ledger.BalanceKey{
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Currency:   row.Currency,
		})
	}
	return keys, nil
}

func (store *LedgerStore) CountTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerTransactionRecord{}).
		Count(&count).Error
	if err != nil {
		return 0, wrapLedgerError("transaction", "count", err)
	}
	return count, nil
}

// StreamTransactions pages through the log with a (created_at, id) keyset
// cursor so replay never loads the full history at once.
func (store *LedgerStore) StreamTransactions(ctx context.Context, batchSize int, fn func(batch []ledger.Transaction) error) error {
	var cursorTime time.Time
	var cursorID string
	first := true

	for {
		query := store.db.WithContext(ctx).
			Model(&LedgerTransactionRecord{}).
			Order("created_at ASC, transaction_id ASC").
			Limit(batchSize)
		if !first {
			query = query.Where("created_at > ? OR (created_at = ? AND transaction_id > ?)", cursorTime, cursorTime, cursorID)
		}
		var rows []LedgerTransactionRecord
		if err := query.Find(&rows).Error; err != nil {
			return wrapLedgerError("transaction", "stream", err)
		}
		if len(rows) == 0 {
			return nil
		}
		batch := make([]ledger.Transaction, 0, len(rows))
		for _, row := range rows {
			transaction, err := mapTransaction(row)
			if err != nil {
				return err
			}
			batch = append(batch, transaction)
		}
		if err := fn(batch); err != nil {
			return err
		}
		last := rows[len(rows)-1]
		cursorTime = last.CreatedAt
		cursorID = last.TransactionID
		first = false
		if len(rows) < batchSize {
			return nil
		}
	}
}

func (store *LedgerStore) ClearBalances(ctx context.Context) error {
	err := store.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&LedgerBalanceRecord{}).Error
	if err != nil {
		return wrapLedgerError("balance", "clear", err)
	}
	return nil
}

type sqlSum struct {
	Total int64
}

func mapBalance(model LedgerBalanceRecord) ledger.Balance {
	return ledger.Balance{
		EntityType:        model.EntityType,
		EntityID:          model.EntityID,
		Currency:          model.Currency,
		BalanceMinor:      model.BalanceMinor,
		LastTransactionID: model.LastTransactionID,
		UpdatedUnixUTC:    model.UpdatedAt.Unix(),
	}
}

func mapTransaction(model LedgerTransactionRecord) (ledger.Transaction, error) {
	direction, err := ledger.ParseDirection(model.Direction)
	if err != nil {
		return ledger.Transaction{}, wrapLedgerError("transaction", "invalid", err)
	}
	return ledger.Transaction{
		ID:             model.TransactionID,
		EntityType:     model.EntityType,
		EntityID:       model.EntityID,
		Currency:       model.Currency,
		Direction:      direction,
		AmountMinor:    model.AmountMinor,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func wrapLedgerError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store.%s.%s: %w", subject, code, err)
}
