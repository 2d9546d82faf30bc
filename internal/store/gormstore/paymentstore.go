package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/stratos-brokerage/paycore/pkg/payment"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	errorOperationStore = "store"
	errorSubjectPayment = "payment"
	errorSubjectEvent   = "event"
	errorCodeCreate     = "create"
	errorCodeGet        = "get"
	errorCodeUpdate     = "update"
	errorCodeAppend     = "append"
	errorCodeList       = "list"
	errorCodeInvalid    = "invalid"
	errorCodeConflict   = "conflict"
)

// PaymentStore implements payment.Store using GORM.
type PaymentStore struct {
	db *gorm.DB
}

// NewPaymentStore returns a PaymentStore backed by gorm.DB.
func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *PaymentStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payment.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &PaymentStore{db: transaction})
	})
}

func (store *PaymentStore) CreatePayment(ctx context.Context, record *payment.Payment) error {
	model := PaymentRecord{
		PaymentID:         record.ID,
		UserID:            record.UserID,
		AmountMinor:       record.AmountMinor,
		Currency:          record.Currency.String(),
		Status:            record.Status.String(),
		Method:            record.Method.String(),
		Provider:          record.Provider,
		ProviderPaymentID: record.ProviderPaymentID,
		AuthorizedMinor:   record.AuthorizedMinor,
		CapturedMinor:     record.CapturedMinor,
		RefundedMinor:     record.RefundedMinor,
		Metadata:          datatypesJSON(record.Metadata.String()),
		Version:           record.Version,
		CreatedAt:         time.Unix(record.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:         time.Unix(record.UpdatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapPaymentError(errorSubjectPayment, errorCodeCreate, err)
	}
	record.ID = model.PaymentID
	return nil
}

func (store *PaymentStore) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	var model PaymentRecord
	err := store.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapPaymentError(errorSubjectPayment, errorCodeGet, payment.ErrPaymentNotFound)
		}
		return nil, wrapPaymentError(errorSubjectPayment, errorCodeGet, err)
	}
	return mapPayment(model)
}

// UpdatePayment writes the record only where the stored version still equals
// expectedVersion. Zero rows affected means a concurrent writer won.
func (store *PaymentStore) UpdatePayment(ctx context.Context, record *payment.Payment, expectedVersion int64) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("payment_id = ? AND version = ?", record.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":              record.Status.String(),
			"provider_payment_id": record.ProviderPaymentID,
			"authorized_minor":    record.AuthorizedMinor,
			"captured_minor":      record.CapturedMinor,
			"refunded_minor":      record.RefundedMinor,
			"metadata":            datatypesJSON(record.Metadata.String()),
			"version":             record.Version,
			"updated_at":          time.Unix(record.UpdatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapPaymentError(errorSubjectPayment, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapPaymentError(errorSubjectPayment, errorCodeConflict, payment.ErrVersionConflict)
	}
	return nil
}

func (store *PaymentStore) AppendEvent(ctx context.Context, event payment.PaymentEvent) error {
	model := PaymentEventRecord{
		EventID:   event.EventID,
		PaymentID: event.PaymentID,
		Type:      event.Type.String(),
		Payload:   datatypesJSON(event.Payload),
		CreatedAt: time.Unix(event.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapPaymentError(errorSubjectEvent, errorCodeAppend, err)
	}
	return nil
}

func (store *PaymentStore) ListEvents(ctx context.Context, paymentID string) ([]payment.PaymentEvent, error) {
	var rows []PaymentEventRecord
	err := store.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC, event_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapPaymentError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]payment.PaymentEvent, 0, len(rows))
	for _, row := range rows {
		eventType, err := payment.ParseEventType(row.Type)
		if err != nil {
			return nil, wrapPaymentError(errorSubjectEvent, errorCodeInvalid, err)
		}
		events = append(events, payment.PaymentEvent{
			EventID:        row.EventID,
			PaymentID:      row.PaymentID,
			Type:           eventType,
			Payload:        string(row.Payload),
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return events, nil
}

func mapPayment(model PaymentRecord) (*payment.Payment, error) {
	status, err := payment.ParseStatus(model.Status)
	if err != nil {
		return nil, wrapPaymentError(errorSubjectPayment, errorCodeInvalid, err)
	}
	currency, err := payment.NewCurrency(model.Currency)
	if err != nil {
		return nil, wrapPaymentError(errorSubjectPayment, errorCodeInvalid, err)
	}
	method, err := payment.NewMethod(model.Method)
	if err != nil {
		return nil, wrapPaymentError(errorSubjectPayment, errorCodeInvalid, err)
	}
	metadata, err := payment.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return nil, wrapPaymentError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return &payment.Payment{
		ID:                model.PaymentID,
		UserID:            model.UserID,
		AmountMinor:       model.AmountMinor,
		Currency:          currency,
		Status:            status,
		Method:            method,
		Provider:          model.Provider,
		ProviderPaymentID: model.ProviderPaymentID,
		AuthorizedMinor:   model.AuthorizedMinor,
		CapturedMinor:     model.CapturedMinor,
		RefundedMinor:     model.RefundedMinor,
		Metadata:          metadata,
		Version:           model.Version,
		CreatedUnixUTC:    model.CreatedAt.Unix(),
		UpdatedUnixUTC:    model.UpdatedAt.Unix(),
	}, nil
}

func wrapPaymentError(subject string, code string, err error) error {
	return payment.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON([]byte(raw))
}
