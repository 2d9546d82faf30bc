package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stratos-brokerage/paycore/pkg/idempotency"
	"gorm.io/gorm"
)

const (
	constraintScopeKey    = "uniq_idempotency_scope_key"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
)

// IdempotencyStore implements idempotency.DurableStore using GORM. The
// uniqueness constraint on (scope, key) is the reservation guard; a
// constraint violation means "already reserved", never an error.
type IdempotencyStore struct {
	db *gorm.DB
}

// NewIdempotencyStore returns an IdempotencyStore backed by gorm.DB.
func NewIdempotencyStore(db *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (store *IdempotencyStore) Insert(ctx context.Context, record idempotency.Record) error {
	model := IdempotencyRecord{
		Scope:     record.Scope,
		Key:       record.Key,
		Status:    record.Status.String(),
		ExpiresAt: time.Unix(record.ExpiresUnixUTC, 0).UTC(),
		CreatedAt: time.Unix(record.CreatedUnixUTC, 0).UTC(),
		UpdatedAt: time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if !isScopeKeyConflict(err) {
		if err != nil {
			return fmt.Errorf("store.idempotency.insert: %w", err)
		}
		return nil
	}

	// The constraint survives past expiry until the sweep runs. An expired
	// holder does not block a fresh reservation: drop it and retry once.
	var existing IdempotencyRecord
	lookupErr := store.db.WithContext(ctx).
		Where("scope = ? AND key = ?", record.Scope, record.Key).
		Take(&existing).Error
	if lookupErr != nil {
		return idempotency.ErrAlreadyReserved
	}
	if existing.ExpiresAt.After(time.Unix(record.CreatedUnixUTC, 0).UTC()) {
		return idempotency.ErrAlreadyReserved
	}
	deleteResult := store.db.WithContext(ctx).
		Where("scope = ? AND key = ? AND expires_at = ?", record.Scope, record.Key, existing.ExpiresAt).
		Delete(&IdempotencyRecord{})
	if deleteResult.Error != nil || deleteResult.RowsAffected == 0 {
		return idempotency.ErrAlreadyReserved
	}
	retryErr := store.db.WithContext(ctx).Create(&IdempotencyRecord{
		Scope:     record.Scope,
		Key:       record.Key,
		Status:    record.Status.String(),
		ExpiresAt: model.ExpiresAt,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}).Error
	if isScopeKeyConflict(retryErr) {
		return idempotency.ErrAlreadyReserved
	}
	if retryErr != nil {
		return fmt.Errorf("store.idempotency.insert: %w", retryErr)
	}
	return nil
}

func (store *IdempotencyStore) AttachResponse(ctx context.Context, scope string, key string, code int, body []byte) error {
	result := store.db.WithContext(ctx).
		Model(&IdempotencyRecord{}).
		Where("scope = ? AND key = ?", scope, key).
		Updates(map[string]interface{}{
			"status":        idempotency.StatusCompleted.String(),
			"response_code": code,
			"response_body": body,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("store.idempotency.attach_response: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

func (store *IdempotencyStore) Get(ctx context.Context, scope string, key string) (idempotency.Record, error) {
	var model IdempotencyRecord
	err := store.db.WithContext(ctx).
		Where("scope = ? AND key = ?", scope, key).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return idempotency.Record{}, idempotency.ErrNotFound
		}
		return idempotency.Record{}, fmt.Errorf("store.idempotency.get: %w", err)
	}
	return idempotency.Record{
		Scope:          model.Scope,
		Key:            model.Key,
		Status:         idempotency.Status(model.Status),
		ResponseCode:   model.ResponseCode,
		ResponseBody:   model.ResponseBody,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		ExpiresUnixUTC: model.ExpiresAt.Unix(),
	}, nil
}

func (store *IdempotencyStore) Delete(ctx context.Context, scope string, key string) error {
	err := store.db.WithContext(ctx).
		Where("scope = ? AND key = ?", scope, key).
		Delete(&IdempotencyRecord{}).Error
	if err != nil {
		return fmt.Errorf("store.idempotency.delete: %w", err)
	}
	return nil
}

func (store *IdempotencyStore) DeleteExpired(ctx context.Context, nowUnixUTC int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("expires_at <= ?", time.Unix(nowUnixUTC, 0).UTC()).
		Delete(&IdempotencyRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("store.idempotency.delete_expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func isScopeKeyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintScopeKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
