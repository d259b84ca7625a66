// Package ledger defines the durable records of the mutual-credit network:
// accounts, trust declarations, payments and the settlement transfers that
// realise them.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a Payment.
// Pending is the only non-terminal state.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "Pending"
	StatusCompleted PaymentStatus = "Completed"
	StatusFailed    PaymentStatus = "Failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrLedgerUnavailable wraps every storage read/write failure.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrAccountNotFound is returned when an account id is unknown.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account whose id is taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrPaymentNotFound is returned when a payment id is unknown.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentTerminal is returned when a commit targets a payment that
	// already reached Failed.
	ErrPaymentTerminal = errors.New("payment already terminal")

	// ErrCapacityConsumed is returned by a settlement commit when an edge no
	// longer covers its reservation against the durable ledger.
	ErrCapacityConsumed = errors.New("edge capacity consumed by a concurrent payment")
)

// Account is an identity node. DisplayName is presentation only.
type Account struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// TrustDeclaration states that Truster accepts up to Limit routed from
// Trustee. It yields capacity Limit on the edge Trustee->Truster.
type TrustDeclaration struct {
	Truster   string          `json:"truster"`
	Trustee   string          `json:"trustee"`
	Limit     decimal.Decimal `json:"limit"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Payment is a requested transfer from Payer to Recipient.
type Payment struct {
	ID            string          `json:"id"`
	Payer         string          `json:"payer"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
	Status        PaymentStatus   `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SettlementTransfer is one leg of a completed payment (a paylog).
type SettlementTransfer struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransferDraft is a settlement transfer that has not been persisted yet.
type TransferDraft struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// Settlement is the part of a completed SettlementTransfer that affects
// routing capacity.
type Settlement struct {
	Payer     string
	Recipient string
	Amount    decimal.Decimal
}

// Snapshot is a mutually consistent read of the ledger. Settlements only
// contains transfers whose parent payment is Completed.
type Snapshot struct {
	Accounts     []Account
	Declarations []TrustDeclaration
	Settlements  []Settlement
}

// CreatePaymentParams contains the fields of a new Pending payment.
type CreatePaymentParams struct {
	Payer     string
	Recipient string
	Amount    decimal.Decimal
	Memo      string
}

// CreateAccountParams contains the fields of a new account.
type CreateAccountParams struct {
	ID          string
	DisplayName string
}

// DeclareTrustParams contains the fields of a trust declaration.
type DeclareTrustParams struct {
	Truster string
	Trustee string
	Limit   decimal.Decimal
}

// SumDrafts returns the total amount of the drafts.
func SumDrafts(drafts []TransferDraft) decimal.Decimal {
	total := decimal.Zero
	for _, d := range drafts {
		total = total.Add(d.Amount)
	}
	return total
}
