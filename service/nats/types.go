package nats

import (
	"strings"
	"time"

	"github.com/brojonat/ripple/service/payment"
	"github.com/shopspring/decimal"
)

// PaymentEvent represents a completed payment published to NATS.
// This is published to the subject "payments.{recipient}" in JetStream.
type PaymentEvent struct {
	PaymentID string `json:"payment_id"`

	// Parties
	Payer         string `json:"payer"`
	PayerName     string `json:"payer_name"`
	Recipient     string `json:"recipient"`
	RecipientName string `json:"recipient_name"`

	// Payment details
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
	Transfers int             `json:"transfers"`
	Message   string          `json:"message"`

	// Timing information
	CompletedAt time.Time `json:"completed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromPaymentEvent converts an orchestrator event for publishing.
func FromPaymentEvent(e payment.Event) *PaymentEvent {
	return &PaymentEvent{
		PaymentID:     e.PaymentID,
		Payer:         e.Payer,
		PayerName:     e.PayerName,
		Recipient:     e.Recipient,
		RecipientName: e.RecipientName,
		Amount:        e.Amount,
		Memo:          e.Memo,
		Transfers:     e.Transfers,
		Message:       e.Message,
		CompletedAt:   e.CompletedAt,
		PublishedAt:   time.Now().UTC(),
	}
}

// subjectReplacer maps characters that are not valid in a subject token.
var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// SubjectFor returns the subject events for recipient are published on.
func SubjectFor(recipient string) string {
	return SubjectPrefix + subjectReplacer.Replace(recipient)
}
