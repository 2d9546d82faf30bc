package payment

import "time"

const (
	operationInitialize = "initialize"
	operationAuthorize  = "authorize"
	operationCapture    = "capture"
	operationRefund     = "refund"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultMethod          = "card"
	defaultProviderTimeout = 10 * time.Second
)
