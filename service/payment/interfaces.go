package payment

import (
	"context"

	"github.com/brojonat/ripple/service/ledger"
)

// LedgerStore is the durable ledger the orchestrator routes against.
type LedgerStore interface {
	// LoadSnapshot reads accounts, declarations and completed settlements in
	// one consistent read. A non-empty filter restricts the records to those
	// whose endpoints are all in filter.
	LoadSnapshot(ctx context.Context, filter []string) (ledger.Snapshot, error)

	CreatePayment(ctx context.Context, params ledger.CreatePaymentParams) (*ledger.Payment, error)

	// CommitSettlement writes every draft and marks the payment Completed as
	// one unit, or writes nothing. It returns ledger.ErrCapacityConsumed
	// when an edge no longer covers its draft. Committing a payment that is
	// already Completed returns its existing transfers.
	CommitSettlement(ctx context.Context, paymentID string, drafts []ledger.TransferDraft) ([]ledger.SettlementTransfer, error)

	FailPayment(ctx context.Context, paymentID, reason string) error
	GetPayment(ctx context.Context, paymentID string) (*ledger.Payment, error)
	ListSettlementTransfers(ctx context.Context, paymentID string) ([]ledger.SettlementTransfer, error)
}

// AccountDirectory resolves account identities. It is never mutated here.
type AccountDirectory interface {
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
}

// Notifier delivers payment events to recipients. Errors are logged and
// never change the outcome of a payment.
type Notifier interface {
	NotifyPayment(ctx context.Context, event Event) error
}
