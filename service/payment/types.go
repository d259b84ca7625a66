package payment

import (
	"fmt"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/routing"
	"github.com/shopspring/decimal"
)

// PayRequest asks to move Amount from Payer to Recipient through the
// trust network.
type PayRequest struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
}

// PayResult is a completed payment.
type PayResult struct {
	Payment   *ledger.Payment             `json:"payment"`
	Transfers []ledger.SettlementTransfer `json:"transfers"`
	Paths     []routing.PathAllocation    `json:"paths"`
}

// MaxSendable is the outcome of an unbounded allocation.
type MaxSendable struct {
	Amount    decimal.Decimal          `json:"amount"`
	Transfers []ledger.TransferDraft   `json:"transfers"`
	Paths     []routing.PathAllocation `json:"paths"`
}

// Route is a planned settlement for one payment.
type Route struct {
	Total    decimal.Decimal          `json:"total"`
	Drafts   []ledger.TransferDraft   `json:"drafts"`
	Paths    []routing.PathAllocation `json:"paths"`
	Accounts []string                 `json:"accounts"`
}

// Event is emitted to the recipient after a payment completes.
type Event struct {
	PaymentID     string          `json:"payment_id"`
	Payer         string          `json:"payer"`
	PayerName     string          `json:"payer_name"`
	Recipient     string          `json:"recipient"`
	RecipientName string          `json:"recipient_name"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
	Transfers     int             `json:"transfers"`
	Message       string          `json:"message"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// NotificationText is the human-readable line shown to the recipient.
func NotificationText(payerName string, amount decimal.Decimal) string {
	return fmt.Sprintf("%s paid you the amount of %s(V.H.).", payerName, amount)
}
