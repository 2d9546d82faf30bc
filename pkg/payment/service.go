package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Service drives payments through the lifecycle over a Store, a provider
// registry, and an optional publisher and ledger poster.
type Service struct {
	store           Store
	registry        *ProviderRegistry
	environment     string
	publisher       Publisher
	ledger          LedgerPoster
	nowFn           func() int64
	logger          OperationLogger
	providerTimeout time.Duration
}

// NewService wires a Service.
func NewService(store Store, registry *ProviderRegistry, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: provider registry is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		registry:        registry,
		nowFn:           now,
		providerTimeout: defaultProviderTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithEnvironment routes provider selection for this service instance.
func WithEnvironment(environment string) ServiceOption {
	return func(service *Service) {
		service.environment = environment
	}
}

// InitializeCommand creates a new payment.
type InitializeCommand struct {
	UserID      string
	AmountMinor int64
	Currency    Currency
	Method      Method
	Metadata    MetadataJSON
	TraceID     string
}

// InitializePayment creates a Payment in the initialized state, appends the
// initialized audit event, and publishes payment.initialized after commit.
func (service *Service) InitializePayment(ctx context.Context, command InitializeCommand) (*Payment, error) {
	record, operationError := service.initializePayment(ctx, command)
	logEntry := OperationLog{
		Operation:   operationInitialize,
		UserID:      command.UserID,
		AmountMinor: command.AmountMinor,
		Currency:    command.Currency,
		Error:       operationError,
	}
	if record != nil {
		logEntry.PaymentID = record.ID
		logEntry.Provider = record.Provider
	}
	service.logOperation(ctx, logEntry)
	return record, operationError
}

func (service *Service) initializePayment(ctx context.Context, command InitializeCommand) (*Payment, error) {
	if command.UserID == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	amount, err := NewAmountMinor(command.AmountMinor)
	if err != nil {
		return nil, err
	}
	if command.Currency.String() == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	}
	provider, err := service.registry.Select(service.environment)
	if err != nil {
		return nil, err
	}
	if !provider.Supports(command.Currency, command.Method) {
		return nil, fmt.Errorf("%w: %s/%s not supported by %s",
			ErrUnsupportedCurrency, command.Currency, command.Method, provider.Name())
	}

	result, err := service.callProvider(ctx, provider.Initialize, ProviderCommand{
		AmountMinor: amount,
		Currency:    command.Currency,
		Method:      command.Method,
		Metadata:    command.Metadata,
	})
	if err != nil {
		return nil, err
	}

	nowUnixUTC := service.nowFn()
	record := &Payment{
		UserID:            command.UserID,
		AmountMinor:       amount,
		Currency:          command.Currency,
		Status:            StatusInitialized,
		Method:            command.Method,
		Provider:          provider.Name(),
		ProviderPaymentID: result.ProviderPaymentID,
		Metadata:          command.Metadata,
		Version:           1,
		CreatedUnixUTC:    nowUnixUTC,
		UpdatedUnixUTC:    nowUnixUTC,
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.CreatePayment(ctx, record); err != nil {
			return err
		}
		return transactionStore.AppendEvent(ctx, service.auditEvent(record, EventInitialized))
	})
	if operationError != nil {
		return nil, operationError
	}
	service.publishLifecycle(ctx, TopicInitialized, record, record.AmountMinor, command.TraceID)
	return record, nil
}

// AuthorizePayment asks the provider to authorize the full payment amount.
// A provider failure transitions the payment to failed; a timeout leaves it
// untouched so the caller can retry with the same idempotency key.
func (service *Service) AuthorizePayment(ctx context.Context, paymentID string, traceID string) (*Payment, error) {
	record, operationError := service.authorizePayment(ctx, paymentID, traceID)
	logEntry := OperationLog{
		Operation: operationAuthorize,
		PaymentID: paymentID,
		Error:     operationError,
	}
	if record != nil {
		logEntry.UserID = record.UserID
		logEntry.AmountMinor = record.AuthorizedMinor
		logEntry.Currency = record.Currency
		logEntry.Provider = record.Provider
	}
	service.logOperation(ctx, logEntry)
	return record, operationError
}

func (service *Service) authorizePayment(ctx context.Context, paymentID string, traceID string) (*Payment, error) {
	record, err := service.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !record.Status.CanTransitionTo(StatusAuthorized) {
		return nil, fmt.Errorf("%w: cannot authorize from %s", ErrInvalidTransition, record.Status)
	}
	provider, err := service.registry.Get(record.Provider)
	if err != nil {
		return nil, err
	}

	result, err := service.callProvider(ctx, provider.Authorize, ProviderCommand{
		PaymentID:         record.ID,
		ProviderPaymentID: record.ProviderPaymentID,
		AmountMinor:       record.AmountMinor,
		Currency:          record.Currency,
		Method:            record.Method,
		Metadata:          record.Metadata,
	})
	if errors.Is(err, ErrProviderTimeout) {
		// Indeterminate outcome. Leave the payment as-is; the guard will
		// return the reserved state when the caller retries.
		return nil, err
	}
	if err != nil {
		if failErr := service.transition(ctx, record, StatusFailed, EventFailed); failErr != nil {
			return nil, failErr
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderDeclined, err)
	}

	record.AuthorizedMinor = record.AmountMinor
	record.ProviderPaymentID = result.ProviderPaymentID
	if err := service.transition(ctx, record, StatusAuthorized, EventAuthorized); err != nil {
		return nil, err
	}
	service.publishLifecycle(ctx, TopicAuthorized, record, record.AuthorizedMinor, traceID)
	return record, nil
}

// CapturePayment captures amountMinor against the authorization, or the
// remaining authorized amount when amountMinor is zero. Cumulative captures
// must not exceed the authorized amount.
func (service *Service) CapturePayment(ctx context.Context, paymentID string, amountMinor int64, traceID string) (*Payment, error) {
	record, captured, operationError := service.capturePayment(ctx, paymentID, amountMinor, traceID)
	logEntry := OperationLog{
		Operation:   operationCapture,
		PaymentID:   paymentID,
		AmountMinor: captured,
		Error:       operationError,
	}
	if record != nil {
		logEntry.UserID = record.UserID
		logEntry.Currency = record.Currency
		logEntry.Provider = record.Provider
	}
	service.logOperation(ctx, logEntry)
	return record, operationError
}

func (service *Service) capturePayment(ctx context.Context, paymentID string, amountMinor int64, traceID string) (*Payment, int64, error) {
	record, err := service.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, 0, err
	}
	if !record.Status.CanTransitionTo(StatusCaptured) {
		return nil, 0, fmt.Errorf("%w: cannot capture from %s", ErrInvalidTransition, record.Status)
	}
	amount := amountMinor
	if amount == 0 {
		amount = record.AuthorizedRemaining()
	}
	if amount <= 0 {
		return nil, 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if amount > record.AuthorizedRemaining() {
		return nil, 0, fmt.Errorf("%w: %d exceeds remaining %d",
			ErrCaptureExceedsAuth, amount, record.AuthorizedRemaining())
	}
	provider, err := service.registry.Get(record.Provider)
	if err != nil {
		return nil, 0, err
	}

	// The captured amount is incremented only after the provider confirms;
	// a declined or timed-out capture leaves the payment in its prior state.
	_, err = service.callProvider(ctx, provider.Capture, ProviderCommand{
		PaymentID:         record.ID,
		ProviderPaymentID: record.ProviderPaymentID,
		AmountMinor:       amount,
		Currency:          record.Currency,
		Method:            record.Method,
		Metadata:          record.Metadata,
	})
	if err != nil {
		if errors.Is(err, ErrProviderTimeout) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderDeclined, err)
	}

	record.CapturedMinor += amount
	if err := service.transition(ctx, record, StatusCaptured, EventCaptured); err != nil {
		return nil, 0, err
	}
	service.postLedger(ctx, record, amount, false)
	service.publishLifecycle(ctx, TopicCaptured, record, amount, traceID)
	return record, amount, nil
}

// RefundPayment refunds amountMinor of the captured funds, or everything
// still refundable when amountMinor is zero. The payment stays captured
// until the cumulative refund equals the captured amount.
func (service *Service) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, traceID string) (*Payment, error) {
	record, refunded, operationError := service.refundPayment(ctx, paymentID, amountMinor, traceID)
	logEntry := OperationLog{
		Operation:   operationRefund,
		PaymentID:   paymentID,
		AmountMinor: refunded,
		Error:       operationError,
	}
	if record != nil {
		logEntry.UserID = record.UserID
		logEntry.Currency = record.Currency
		logEntry.Provider = record.Provider
	}
	service.logOperation(ctx, logEntry)
	return record, operationError
}

func (service *Service) refundPayment(ctx context.Context, paymentID string, amountMinor int64, traceID string) (*Payment, int64, error) {
	record, err := service.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, 0, err
	}
	if record.Status != StatusCaptured {
		return nil, 0, fmt.Errorf("%w: cannot refund from %s", ErrInvalidTransition, record.Status)
	}
	amount := amountMinor
	if amount == 0 {
		amount = record.RefundableRemaining()
	}
	if amount <= 0 {
		return nil, 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if amount > record.RefundableRemaining() {
		return nil, 0, fmt.Errorf("%w: %d exceeds refundable %d",
			ErrRefundExceedsCapture, amount, record.RefundableRemaining())
	}
	provider, err := service.registry.Get(record.Provider)
	if err != nil {
		return nil, 0, err
	}

	_, err = service.callProvider(ctx, provider.Refund, ProviderCommand{
		PaymentID:         record.ID,
		ProviderPaymentID: record.ProviderPaymentID,
		AmountMinor:       amount,
		Currency:          record.Currency,
		Method:            record.Method,
		Metadata:          record.Metadata,
	})
	if err != nil {
		if errors.Is(err, ErrProviderTimeout) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderDeclined, err)
	}

	record.RefundedMinor += amount
	nextStatus := StatusCaptured
	if record.RefundedMinor == record.CapturedMinor {
		nextStatus = StatusRefunded
	}
	if err := service.transition(ctx, record, nextStatus, EventRefunded); err != nil {
		return nil, 0, err
	}
	service.postLedger(ctx, record, amount, true)
	service.publishLifecycle(ctx, TopicRefunded, record, amount, traceID)
	return record, amount, nil
}

// GetPayment reads the aggregate without touching the provider.
func (service *Service) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	return service.store.GetPayment(ctx, paymentID)
}

// ListEvents returns the audit trail of a payment in transition order.
func (service *Service) ListEvents(ctx context.Context, paymentID string) ([]PaymentEvent, error) {
	return service.store.ListEvents(ctx, paymentID)
}

// transition persists the updated record under the optimistic version check
// and appends exactly one audit event in the same database transaction.
func (service *Service) transition(ctx context.Context, record *Payment, next Status, eventType EventType) error {
	expectedVersion := record.Version
	record.Status = next
	record.Version = expectedVersion + 1
	record.UpdatedUnixUTC = service.nowFn()
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.UpdatePayment(ctx, record, expectedVersion); err != nil {
			return err
		}
		return transactionStore.AppendEvent(ctx, service.auditEvent(record, eventType))
	})
}

func (service *Service) auditEvent(record *Payment, eventType EventType) PaymentEvent {
	return PaymentEvent{
		PaymentID:      record.ID,
		Type:           eventType,
		Payload:        snapshotPayload(record),
		CreatedUnixUTC: service.nowFn(),
	}
}

type providerCall func(ctx context.Context, command ProviderCommand) (ProviderResult, error)

func (service *Service) callProvider(ctx context.Context, call providerCall, command ProviderCommand) (ProviderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, service.providerTimeout)
	defer cancel()
	result, err := call(callCtx, command)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
		return ProviderResult{}, fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return result, err
}

func (service *Service) publishLifecycle(ctx context.Context, topic string, record *Payment, amountMinor int64, traceID string) {
	if service.publisher == nil {
		return
	}
	event := LifecycleEvent{
		Topic:           topic,
		PaymentID:       record.ID,
		AmountMinor:     amountMinor,
		Currency:        record.Currency.String(),
		Provider:        record.Provider,
		OccurredUnixUTC: service.nowFn(),
		TraceID:         traceID,
	}
	if err := service.publisher.Publish(ctx, event); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: "publish",
			PaymentID: record.ID,
			Status:    operationStatusError,
			Error:     err,
		})
	}
}

func (service *Service) postLedger(ctx context.Context, record *Payment, amountMinor int64, refund bool) {
	if service.ledger == nil {
		return
	}
	var err error
	if refund {
		err = service.ledger.PostRefund(ctx, record, amountMinor)
	} else {
		err = service.ledger.PostCapture(ctx, record, amountMinor)
	}
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: "ledger_post",
			PaymentID: record.ID,
			Status:    operationStatusError,
			Error:     err,
		})
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func snapshotPayload(record *Payment) string {
	snapshot := struct {
		Status          string `json:"status"`
		AmountMinor     int64  `json:"amount_minor"`
		AuthorizedMinor int64  `json:"authorized_minor"`
		CapturedMinor   int64  `json:"captured_minor"`
		RefundedMinor   int64  `json:"refunded_minor"`
		Currency        string `json:"currency"`
		Provider        string `json:"provider"`
		ProviderPayment string `json:"provider_payment_id,omitempty"`
		Metadata        string `json:"metadata,omitempty"`
	}{
		Status:          record.Status.String(),
		AmountMinor:     record.AmountMinor,
		AuthorizedMinor: record.AuthorizedMinor,
		CapturedMinor:   record.CapturedMinor,
		RefundedMinor:   record.RefundedMinor,
		Currency:        record.Currency.String(),
		Provider:        record.Provider,
		ProviderPayment: record.ProviderPaymentID,
		Metadata:        record.Metadata.String(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "{}"
	}
	return string(payload)
}
