package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentRecord mirrors the payments table.
type PaymentRecord struct {
	PaymentID         string         `gorm:"type:uuid;primaryKey"`
	UserID            string         `gorm:"not null;index:idx_payments_user_created,priority:1"`
	AmountMinor       int64          `gorm:"not null"`
	Currency          string         `gorm:"size:3;not null"`
	Status            string         `gorm:"not null;index"`
	Method            string         `gorm:"not null"`
	Provider          string         `gorm:"not null"`
	ProviderPaymentID string         `gorm:""`
	AuthorizedMinor   int64          `gorm:"not null"`
	CapturedMinor     int64          `gorm:"not null"`
	RefundedMinor     int64          `gorm:"not null"`
	Metadata          datatypes.JSON `gorm:"type:jsonb;not null"`
	Version           int64          `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_payments_user_created,priority:2"`
	UpdatedAt         time.Time      `gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payments" }

func (record *PaymentRecord) BeforeCreate(tx *gorm.DB) error {
	if record.PaymentID == "" {
		record.PaymentID = uuid.NewString()
	}
	return nil
}

// PaymentEventRecord mirrors the payment_events table. Rows are append-only.
type PaymentEventRecord struct {
	EventID   string         `gorm:"type:uuid;primaryKey"`
	PaymentID string         `gorm:"type:uuid;not null;index:idx_payment_events_payment_created,priority:1"`
	Type      string         `gorm:"not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_payment_events_payment_created,priority:2"`
}

func (PaymentEventRecord) TableName() string { return "payment_events" }

func (record *PaymentEventRecord) BeforeCreate(tx *gorm.DB) error {
	if record.EventID == "" {
		record.EventID = uuid.NewString()
	}
	return nil
}

// LedgerTransactionRecord mirrors the ledger_transactions table. Rows are
// append-only and never mutated.
type LedgerTransactionRecord struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	EntityType    string    `gorm:"not null;index:idx_ledger_tx_entity,priority:1"`
	EntityID      string    `gorm:"not null;index:idx_ledger_tx_entity,priority:2"`
	Currency      string    `gorm:"size:3;not null;index:idx_ledger_tx_entity,priority:3"`
	Direction     string    `gorm:"not null"`
	AmountMinor   int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index:idx_ledger_tx_created"`
}

func (LedgerTransactionRecord) TableName() string { return "ledger_transactions" }

func (record *LedgerTransactionRecord) BeforeCreate(tx *gorm.DB) error {
	if record.TransactionID == "" {
		record.TransactionID = uuid.NewString()
	}
	return nil
}

// LedgerBalanceRecord mirrors the ledger_balances table, the materialized
// running total per (entity_type, entity_id, currency).
type LedgerBalanceRecord struct {
	EntityType        string    `gorm:"primaryKey"`
	EntityID          string    `gorm:"primaryKey"`
	Currency          string    `gorm:"size:3;primaryKey"`
	BalanceMinor      int64     `gorm:"not null"`
	LastTransactionID string    `gorm:""`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (LedgerBalanceRecord) TableName() string { return "ledger_balances" }

// IdempotencyRecord mirrors the idempotency_records table. The unique index
// on (scope, key) is the durable reservation guard.
type IdempotencyRecord struct {
	RecordID     string    `gorm:"type:uuid;primaryKey"`
	Scope        string    `gorm:"size:128;not null;index:uniq_idempotency_scope_key,unique,priority:1"`
	Key          string    `gorm:"size:128;not null;index:uniq_idempotency_scope_key,unique,priority:2"`
	Status       string    `gorm:"size:32;not null"`
	ResponseCode int       `gorm:""`
	ResponseBody []byte    `gorm:""`
	ExpiresAt    time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

func (record *IdempotencyRecord) BeforeCreate(tx *gorm.DB) error {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	return nil
}

// Models returns every table for AutoMigrate.
func Models() []any {
	return []any{
		&PaymentRecord{},
		&PaymentEventRecord{},
		&LedgerTransactionRecord{},
		&LedgerBalanceRecord{},
		&IdempotencyRecord{},
	}
}
