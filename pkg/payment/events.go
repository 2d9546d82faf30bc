package payment

import "context"

// Lifecycle topics published after a transition commits.
const (
	TopicInitialized = "payment.initialized"
	TopicAuthorized  = "payment.authorized"
	TopicCaptured    = "payment.captured"
	TopicRefunded    = "payment.refunded"
)

// LifecycleEvent is the message emitted to downstream accounting and
// notification collaborators. Ordering per payment follows transition order.
type LifecycleEvent struct {
	Topic           string `json:"topic"`
	PaymentID       string `json:"payment_id"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	Provider        string `json:"provider"`
	OccurredUnixUTC int64  `json:"occurred_unix_utc"`
	TraceID         string `json:"trace_id,omitempty"`
}

// Publisher emits lifecycle events. Publish is called strictly after the
// persistence step commits; failures are logged by the service, never
// rolled back.
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

// LedgerPoster records the monetary movement of a committed capture or
// refund into the ledger. Implementations append the transaction and the
// balance delta in one atomic unit of work.
type LedgerPoster interface {
	PostCapture(ctx context.Context, record *Payment, amountMinor int64) error
	PostRefund(ctx context.Context, record *Payment, amountMinor int64) error
}
