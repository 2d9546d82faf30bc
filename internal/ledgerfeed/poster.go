// Package ledgerfeed posts committed payment movements into the ledger.
package ledgerfeed

import (
	"context"

	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

// EntityTypeUser is the ledger entity captured funds are attributed to.
const EntityTypeUser = "user"

// Poster implements payment.LedgerPoster. A capture credits the paying
// user's entity, a refund debits it; each posting appends the transaction
// and the balance delta in one atomic unit of work.
type Poster struct {
	ledger *ledger.Service
}

// New wires a Poster.
func New(ledgerService *ledger.Service) *Poster {
	return &Poster{ledger: ledgerService}
}

func (poster *Poster) PostCapture(ctx context.Context, record *payment.Payment, amountMinor int64) error {
	_, err := poster.ledger.Append(ctx, EntityTypeUser, record.UserID, record.Currency.String(), ledger.DirectionCredit, amountMinor)
	return err
}

func (poster *Poster) PostRefund(ctx context.Context, record *payment.Payment, amountMinor int64) error {
	_, err := poster.ledger.Append(ctx, EntityTypeUser, record.UserID, record.Currency.String(), ledger.DirectionDebit, amountMinor)
	return err
}
