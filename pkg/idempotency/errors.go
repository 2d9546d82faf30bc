package idempotency

import "errors"

// Error values shared by the guard and its store implementations.
var (
	ErrNotFound        = errors.New("idempotency record not found")
	ErrAlreadyReserved = errors.New("idempotency key already reserved")
	ErrStillProcessing = errors.New("original command still processing")
	ErrInvalidScope    = errors.New("invalid idempotency scope")
	ErrInvalidKey      = errors.New("invalid idempotency key")
	ErrInvalidTTL      = errors.New("invalid idempotency ttl")
	ErrInvalidConfig   = errors.New("invalid guard config")
)
