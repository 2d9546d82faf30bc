package payment

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing payment operation.
type OperationLog struct {
	Operation   string
	PaymentID   string
	UserID      string
	AmountMinor int64
	Currency    Currency
	Provider    string
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPublisher wires the lifecycle event publisher.
func WithPublisher(publisher Publisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithLedgerPoster wires ledger postings for captures and refunds.
func WithLedgerPoster(poster LedgerPoster) ServiceOption {
	return func(service *Service) {
		service.ledger = poster
	}
}

// WithProviderTimeout bounds every provider call.
func WithProviderTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.providerTimeout = timeout
		}
	}
}
