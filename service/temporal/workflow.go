package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/payment"
	"github.com/shopspring/decimal"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PayWorkflowInput is the input for PayWorkflow.
type PayWorkflowInput struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
}

// PayWorkflowResult is the result of PayWorkflow.
type PayWorkflowResult struct {
	PaymentID string                      `json:"payment_id,omitempty"`
	Status    ledger.PaymentStatus        `json:"status,omitempty"`
	Transfers []ledger.SettlementTransfer `json:"transfers,omitempty"`
	Error     *string                     `json:"error,omitempty"`
}

// PayWorkflow routes and settles one payment durably.
//
// The workflow performs these steps:
// 1. Persist the payment Pending (OpenPayment)
// 2. Plan the settlement on a fresh graph (RoutePayment)
// 3. Commit the transfers with the ledger's check-and-commit (SettlePayment)
// 4. Notify the recipient, best effort (NotifyRecipient)
//
// Any failure after step 1 marks the payment Failed (FailPayment). If the
// payment had already ended, its stored outcome is returned (LoadPayment).
func PayWorkflow(ctx workflow.Context, input PayWorkflowInput) (*PayWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PayWorkflow started", "payer", input.Payer, "recipient", input.Recipient, "amount", input.Amount.String())

	result := &PayWorkflowResult{}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	var p *ledger.Payment
	err := workflow.ExecuteActivity(ctx, a.OpenPayment, OpenPaymentInput{
		Payer:     input.Payer,
		Recipient: input.Recipient,
		Amount:    input.Amount,
		Memo:      input.Memo,
	}).Get(ctx, &p)
	if err != nil {
		msg := failureMessage(err)
		result.Error = &msg
		return result, fmt.Errorf("failed to open payment: %w", err)
	}
	result.PaymentID = p.ID
	result.Status = ledger.StatusPending

	complete := func(transfers []ledger.SettlementTransfer) (*PayWorkflowResult, error) {
		result.Status = ledger.StatusCompleted
		result.Transfers = transfers
		result.Error = nil

		p.Status = ledger.StatusCompleted
		p.UpdatedAt = workflow.Now(ctx)

		notifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 10 * time.Second,
			RetryPolicy: &temporalsdk.RetryPolicy{
				InitialInterval: time.Second,
				MaximumAttempts: 3,
			},
		})
		if err := workflow.ExecuteActivity(notifyCtx, a.NotifyRecipient, NotifyRecipientInput{
			Payment:   *p,
			Transfers: len(transfers),
		}).Get(ctx, nil); err != nil {
			logger.Warn("recipient notification failed", "payment_id", p.ID, "error", err)
		}

		logger.Info("PayWorkflow completed", "payment_id", p.ID, "transfers", len(transfers))
		return result, nil
	}

	fail := func(stage string, cause error) (*PayWorkflowResult, error) {
		msg := failureMessage(cause)
		result.Error = &msg
		ferr := workflow.ExecuteActivity(ctx, a.FailPayment, FailPaymentInput{PaymentID: p.ID, Reason: msg}).Get(ctx, nil)
		if ferr != nil && FailureType(ferr) == ErrTypeTerminal {
			// The payment already ended, possibly through a commit whose
			// acknowledgement was lost. Report what was stored.
			var stored *LoadPaymentResult
			if lerr := workflow.ExecuteActivity(ctx, a.LoadPayment, p.ID).Get(ctx, &stored); lerr != nil {
				logger.Error("failed to load terminal payment", "payment_id", p.ID, "error", lerr)
				return result, fmt.Errorf("failed to %s: %w", stage, errors.Join(cause, ferr, lerr))
			}
			if stored.Payment.Status == ledger.StatusCompleted {
				logger.Info("payment was already settled", "payment_id", p.ID, "stage", stage)
				return complete(stored.Transfers)
			}
			result.Status = stored.Payment.Status
			if stored.Payment.FailureReason != "" {
				msg = stored.Payment.FailureReason
				result.Error = &msg
			}
			logger.Info("PayWorkflow failed", "payment_id", p.ID, "stage", stage, "reason", msg)
			return result, fmt.Errorf("failed to %s: %w", stage, cause)
		}
		if ferr != nil {
			logger.Error("failed to mark payment failed", "payment_id", p.ID, "error", ferr)
			return result, fmt.Errorf("failed to %s: %w", stage, errors.Join(cause, ferr))
		}
		result.Status = ledger.StatusFailed
		logger.Info("PayWorkflow failed", "payment_id", p.ID, "stage", stage, "reason", msg)
		return result, fmt.Errorf("failed to %s: %w", stage, cause)
	}

	var route *payment.Route
	if err := workflow.ExecuteActivity(ctx, a.RoutePayment, RoutePaymentInput{Payment: *p}).Get(ctx, &route); err != nil {
		return fail("route payment", err)
	}

	var settled *SettlePaymentResult
	if err := workflow.ExecuteActivity(ctx, a.SettlePayment, SettlePaymentInput{
		PaymentID: p.ID,
		Drafts:    route.Drafts,
	}).Get(ctx, &settled); err != nil {
		return fail("settle payment", err)
	}
	return complete(settled.Transfers)
}

// failureMessage extracts the activity's own message from err.
func failureMessage(err error) string {
	var appErr *temporalsdk.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return err.Error()
}

// FailureType returns the application error type carried by err, or "" when
// err did not come from a non-retryable payment outcome.
func FailureType(err error) string {
	var appErr *temporalsdk.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
