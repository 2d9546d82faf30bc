package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Currency is a 3-letter ISO-4217 code.
type Currency struct {
	value string
}

// Method identifies how the payment is funded (card, bank transfer, wallet).
type Method struct {
	value string
}

// IdempotencyKey scopes duplicate detection for client commands.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// Status defines the payment lifecycle.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusAuthorized  Status = "authorized"
	StatusCaptured    Status = "captured"
	StatusRefunded    Status = "refunded"
	StatusFailed      Status = "failed"
)

// String returns the status value.
func (status Status) String() string {
	return string(status)
}

// Terminal reports whether the lifecycle ends at this status.
func (status Status) Terminal() bool {
	return status == StatusRefunded || status == StatusFailed
}

var statusTransitions = map[Status][]Status{
	StatusInitialized: {StatusAuthorized, StatusFailed},
	StatusAuthorized:  {StatusCaptured, StatusFailed},
	StatusCaptured:    {StatusCaptured, StatusRefunded, StatusFailed},
	StatusRefunded:    {},
	StatusFailed:      {},
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (status Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusInitialized, StatusAuthorized, StatusCaptured, StatusRefunded, StatusFailed:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// EventType enumerates audit event kinds.
type EventType string

const (
	EventInitialized EventType = "initialized"
	EventAuthorized  EventType = "authorized"
	EventCaptured    EventType = "captured"
	EventRefunded    EventType = "refunded"
	EventFailed      EventType = "failed"
)

// String returns the event type value.
func (eventType EventType) String() string {
	return string(eventType)
}

// ParseEventType validates a stored event type value.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(raw) {
	case EventInitialized, EventAuthorized, EventCaptured, EventRefunded, EventFailed:
		return EventType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
}

// Payment is the aggregate owned by the payment store. All amounts are
// integers in minor currency units. Version is the optimistic-concurrency
// token; a transition persists only when the stored version still matches
// the version the transition was computed from.
type Payment struct {
	ID                string
	UserID            string
	AmountMinor       int64
	Currency          Currency
	Status            Status
	Method            Method
	Provider          string
	ProviderPaymentID string
	AuthorizedMinor   int64
	CapturedMinor     int64
	RefundedMinor     int64
	Metadata          MetadataJSON
	Version           int64
	CreatedUnixUTC    int64
	UpdatedUnixUTC    int64
}

// AuthorizedRemaining returns the amount still capturable.
func (payment *Payment) AuthorizedRemaining() int64 {
	return payment.AuthorizedMinor - payment.CapturedMinor
}

// RefundableRemaining returns the amount still refundable.
func (payment *Payment) RefundableRemaining() int64 {
	return payment.CapturedMinor - payment.RefundedMinor
}

// PaymentEvent is one immutable line in a payment's audit trail.
type PaymentEvent struct {
	EventID        string
	PaymentID      string
	Type           EventType
	Payload        string
	CreatedUnixUTC int64
}

// NewCurrency validates and normalizes an ISO-4217 code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: must be a 3-letter ISO code", ErrInvalidCurrency)
	}
	for _, r := range normalized {
		if r < 'A' || r > 'Z' {
			return Currency{}, fmt.Errorf("%w: must be a 3-letter ISO code", ErrInvalidCurrency)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the normalized code.
func (currency Currency) String() string {
	return currency.value
}

// NewMethod validates and normalizes a payment method.
func NewMethod(raw string) (Method, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		normalized = defaultMethod
	}
	return Method{value: normalized}, nil
}

// String returns the normalized method.
func (method Method) String() string {
	return method.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountMinor validates a command amount and ensures it is strictly positive.
func NewAmountMinor(raw int64) (int64, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return raw, nil
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreatePayment(ctx context.Context, record *Payment) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	// UpdatePayment persists record only if the stored version equals
	// expectedVersion, returning ErrVersionConflict on a mismatch.
	UpdatePayment(ctx context.Context, record *Payment, expectedVersion int64) error
	AppendEvent(ctx context.Context, event PaymentEvent) error
	ListEvents(ctx context.Context, paymentID string) ([]PaymentEvent, error)
}
