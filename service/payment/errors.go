package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/shopspring/decimal"
)

var (
	// ErrConcurrencyConflict is returned when the settlement commit finds
	// that a concurrent payment consumed capacity the allocation relied on.
	// The payment is Failed; resubmitting as a new payment is safe.
	ErrConcurrencyConflict = errors.New("concurrent payment consumed route capacity")

	// ErrPaymentTerminal is returned when a settlement or failure targets a
	// payment that is already Completed or Failed. Retrying cannot succeed.
	ErrPaymentTerminal = ledger.ErrPaymentTerminal

	// ErrLedgerUnavailable is returned when the ledger could not be read or
	// written. It is the same sentinel the storage layer wraps.
	ErrLedgerUnavailable = ledger.ErrLedgerUnavailable
)

// ValidationError rejects a request before any routing takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CapacityError reports that the network cannot deliver the requested
// amount. MaxSendable is what an unbounded allocation could route.
type CapacityError struct {
	Requested   decimal.Decimal
	MaxSendable decimal.Decimal
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: requested %s, you can send up to %s", e.Requested, e.MaxSendable)
}

// Outcome classifies the result of a payment for metrics and logs.
func Outcome(err error) string {
	var verr *ValidationError
	var cerr *CapacityError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &cerr):
		return "capacity"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrPaymentTerminal):
		return "terminal"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	default:
		return "ledger"
	}
}

// failureReason is the text stored on a Failed payment.
func failureReason(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return err.Error()
}

// ledgerErr makes sure err matches ErrLedgerUnavailable.
func ledgerErr(op string, err error) error {
	if errors.Is(err, ErrLedgerUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrLedgerUnavailable, err)
}
