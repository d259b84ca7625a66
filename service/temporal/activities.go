package temporal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/metrics"
	"github.com/brojonat/ripple/service/payment"
	"github.com/shopspring/decimal"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types returned by the payment activities. Errors of
// these types are never retried.
const (
	ErrTypeValidation = "ValidationError"
	ErrTypeCapacity   = "CapacityError"
	ErrTypeConflict   = "ConcurrencyConflict"
	ErrTypeTerminal   = "PaymentTerminal"
)

// OpenPaymentInput is the input for the OpenPayment activity.
type OpenPaymentInput struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
}

// RoutePaymentInput is the input for the RoutePayment activity.
type RoutePaymentInput struct {
	Payment ledger.Payment `json:"payment"`
}

// SettlePaymentInput is the input for the SettlePayment activity.
type SettlePaymentInput struct {
	PaymentID string                 `json:"payment_id"`
	Drafts    []ledger.TransferDraft `json:"drafts"`
}

// SettlePaymentResult is the result of the SettlePayment activity.
type SettlePaymentResult struct {
	Transfers []ledger.SettlementTransfer `json:"transfers"`
}

// FailPaymentInput is the input for the FailPayment activity.
type FailPaymentInput struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

// LoadPaymentResult is the stored state of a payment.
type LoadPaymentResult struct {
	Payment   ledger.Payment              `json:"payment"`
	Transfers []ledger.SettlementTransfer `json:"transfers,omitempty"`
}

// NotifyRecipientInput is the input for the NotifyRecipient activity.
type NotifyRecipientInput struct {
	Payment   ledger.Payment `json:"payment"`
	Transfers int            `json:"transfers"`
}

// Orchestrator is the subset of payment.Orchestrator the activities drive.
type Orchestrator interface {
	Open(ctx context.Context, req payment.PayRequest) (*ledger.Payment, error)
	Route(ctx context.Context, p *ledger.Payment) (*payment.Route, error)
	Settle(ctx context.Context, paymentID string, drafts []ledger.TransferDraft) ([]ledger.SettlementTransfer, error)
	Fail(ctx context.Context, paymentID string, cause error) error
	GetPayment(ctx context.Context, paymentID string) (*ledger.Payment, []ledger.SettlementTransfer, error)
	Notify(ctx context.Context, p *ledger.Payment, transfers int) error
}

// Activities holds the dependencies needed by the payment activities.
type Activities struct {
	orchestrator Orchestrator
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(o Orchestrator, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		orchestrator: o,
		metrics:      m,
		logger:       logger,
	}
}

// OpenPayment validates the request and persists a Pending payment.
func (a *Activities) OpenPayment(ctx context.Context, input OpenPaymentInput) (p *ledger.Payment, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordActivityDuration("OpenPayment", time.Since(start).Seconds(), err) }()

	p, err = a.orchestrator.Open(ctx, payment.PayRequest{
		Payer:     input.Payer,
		Recipient: input.Recipient,
		Amount:    input.Amount,
		Memo:      input.Memo,
	})
	if err != nil {
		a.logger.DebugContext(ctx, "open payment rejected", "payer", input.Payer, "recipient", input.Recipient, "error", err)
		return nil, activityError(err)
	}
	a.logger.DebugContext(ctx, "payment opened", "payment_id", p.ID)
	return p, nil
}

// RoutePayment plans the settlement of a Pending payment.
func (a *Activities) RoutePayment(ctx context.Context, input RoutePaymentInput) (r *payment.Route, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordActivityDuration("RoutePayment", time.Since(start).Seconds(), err) }()

	r, err = a.orchestrator.Route(ctx, &input.Payment)
	if err != nil {
		a.logger.DebugContext(ctx, "route payment failed", "payment_id", input.Payment.ID, "error", err)
		return nil, activityError(err)
	}
	return r, nil
}

// SettlePayment commits the planned transfers. A commit replayed for a
// payment that is already Completed returns the stored transfers.
func (a *Activities) SettlePayment(ctx context.Context, input SettlePaymentInput) (res *SettlePaymentResult, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordActivityDuration("SettlePayment", time.Since(start).Seconds(), err) }()

	transfers, err := a.orchestrator.Settle(ctx, input.PaymentID, input.Drafts)
	if err != nil {
		a.logger.WarnContext(ctx, "settle payment failed", "payment_id", input.PaymentID, "error", err)
		return nil, activityError(err)
	}
	return &SettlePaymentResult{Transfers: transfers}, nil
}

// FailPayment marks a payment Failed with the given reason.
func (a *Activities) FailPayment(ctx context.Context, input FailPaymentInput) (err error) {
	start := time.Now()
	defer func() { a.metrics.RecordActivityDuration("FailPayment", time.Since(start).Seconds(), err) }()

	if err = a.orchestrator.Fail(ctx, input.PaymentID, errors.New(input.Reason)); err != nil {
		a.logger.ErrorContext(ctx, "failed to mark payment failed", "payment_id", input.PaymentID, "error", err)
		return activityError(err)
	}
	return nil
}

// LoadPayment reads a payment and its settlement transfers.
func (a *Activities) LoadPayment(ctx context.Context, paymentID string) (res *LoadPaymentResult, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordActivityDuration("LoadPayment", time.Since(start).Seconds(), err) }()

	p, transfers, err := a.orchestrator.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &LoadPaymentResult{Payment: *p, Transfers: transfers}, nil
}

// NotifyRecipient tells the recipient a payment completed.
func (a *Activities) NotifyRecipient(ctx context.Context, input NotifyRecipientInput) (err error) {
	start := time.Now()
	defer func() { a.metrics.RecordActivityDuration("NotifyRecipient", time.Since(start).Seconds(), err) }()

	return a.orchestrator.Notify(ctx, &input.Payment, input.Transfers)
}

// activityError converts expected payment outcomes into non-retryable
// application errors. Anything else is returned as is and retried.
func activityError(err error) error {
	var verr *payment.ValidationError
	var cerr *payment.CapacityError
	switch {
	case errors.As(err, &verr):
		return temporalsdk.NewNonRetryableApplicationError(verr.Reason, ErrTypeValidation, nil, verr.Field)
	case errors.As(err, &cerr):
		return temporalsdk.NewNonRetryableApplicationError(cerr.Error(), ErrTypeCapacity, nil, cerr.MaxSendable.String())
	case errors.Is(err, payment.ErrConcurrencyConflict):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeConflict, nil)
	case errors.Is(err, payment.ErrPaymentTerminal):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeTerminal, nil)
	default:
		return err
	}
}
