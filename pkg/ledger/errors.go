package ledger

import "errors"

// Domain-level error values returned by the ledger service.
var (
	ErrInvalidEntity        = errors.New("invalid ledger entity")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrBalanceNotFound      = errors.New("balance not found")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidBatchSize     = errors.New("invalid batch size")
)
