package payment

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the payment service.
var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrVersionConflict       = errors.New("payment version conflict")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrCaptureExceedsAuth    = errors.New("capture exceeds authorized amount")
	ErrRefundExceedsCapture  = errors.New("refund exceeds captured amount")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrUnsupportedMethod     = errors.New("unsupported payment method")
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrProviderDeclined      = errors.New("provider declined")
	ErrProviderTimeout       = errors.New("provider call timed out")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidPaymentID      = errors.New("invalid payment id")
	ErrInvalidCurrency       = errors.New("invalid currency")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidStatus         = errors.New("invalid payment status")
	ErrInvalidEventType      = errors.New("invalid payment event type")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
