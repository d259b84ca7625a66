package temporal

import (
	"errors"
	"testing"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func TestPayWorkflow_EndToEnd(t *testing.T) {
	tests := []struct {
		name      string
		input     PayWorkflowInput
		wantErr   bool
		status    ledger.PaymentStatus
		transfers int
		reason    string
	}{
		{
			name:      "chain payment completes",
			input:     PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("5"), Memo: "lunch"},
			status:    ledger.StatusCompleted,
			transfers: 2,
		},
		{
			name:    "insufficient capacity fails the payment",
			input:   PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("8")},
			wantErr: true,
			status:  ledger.StatusFailed,
			reason:  "insufficient capacity: requested 8, you can send up to 5",
		},
		{
			name:    "self payment fails the payment",
			input:   PayWorkflowInput{Payer: "A", Recipient: "A", Amount: dec("1")},
			wantErr: true,
			status:  ledger.StatusFailed,
			reason:  "you cannot send to yourself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			s := chainStore()
			register(env, newTestActivities(s, nil))

			env.ExecuteWorkflow(PayWorkflow, tt.input)
			require.True(t, env.IsWorkflowCompleted())

			if tt.wantErr {
				assert.Error(t, env.GetWorkflowError())
			} else {
				require.NoError(t, env.GetWorkflowError())
				var result PayWorkflowResult
				require.NoError(t, env.GetWorkflowResult(&result))
				assert.Equal(t, tt.status, result.Status)
				assert.Len(t, result.Transfers, tt.transfers)
			}

			payments := s.Payments()
			require.Len(t, payments, 1)
			assert.Equal(t, tt.status, payments[0].Status)
			assert.Equal(t, tt.reason, payments[0].FailureReason)

			transfers, err := s.ListSettlementTransfers(t.Context(), payments[0].ID)
			require.NoError(t, err)
			assert.Len(t, transfers, tt.transfers)
		})
	}
}

func TestPayWorkflow_ValidationPersistsNothing(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	s := chainStore()
	acts := newTestActivities(s, nil)
	register(env, acts)

	env.ExecuteWorkflow(PayWorkflow, PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("-1")})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Empty(t, s.Payments())
}

func TestPayWorkflow_LedgerErrorsAreRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	acts := newTestActivities(chainStore(), nil)
	register(env, acts)

	p := &ledger.Payment{ID: "p1", Payer: "A", Recipient: "C", Amount: dec("5"), Status: ledger.StatusPending}
	env.OnActivity(acts.OpenPayment, mock.Anything, mock.Anything).Return(p, nil)
	env.OnActivity(acts.RoutePayment, mock.Anything, mock.Anything).Return(routeOf(), nil)

	settled := &SettlePaymentResult{Transfers: []ledger.SettlementTransfer{
		{ID: "t1", PaymentID: "p1", Payer: "A", Recipient: "B", Amount: dec("5")},
		{ID: "t2", PaymentID: "p1", Payer: "B", Recipient: "C", Amount: dec("5")},
	}}
	env.OnActivity(acts.SettlePayment, mock.Anything, mock.Anything).
		Return(nil, errors.New("ledger unavailable: connection reset")).Times(2)
	env.OnActivity(acts.SettlePayment, mock.Anything, mock.Anything).
		Return(settled, nil).Once()
	env.OnActivity(acts.NotifyRecipient, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(PayWorkflow, PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("5")})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PayWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "p1", result.PaymentID)
	assert.Equal(t, ledger.StatusCompleted, result.Status)
	assert.Len(t, result.Transfers, 2)
	env.AssertExpectations(t)
}

func TestPayWorkflow_ConflictIsNotRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	acts := newTestActivities(chainStore(), nil)
	register(env, acts)

	p := &ledger.Payment{ID: "p1", Payer: "A", Recipient: "C", Amount: dec("5"), Status: ledger.StatusPending}
	env.OnActivity(acts.OpenPayment, mock.Anything, mock.Anything).Return(p, nil)
	env.OnActivity(acts.RoutePayment, mock.Anything, mock.Anything).Return(routeOf(), nil)
	env.OnActivity(acts.SettlePayment, mock.Anything, mock.Anything).
		Return(nil, temporalsdk.NewNonRetryableApplicationError("concurrent payment consumed route capacity", ErrTypeConflict, nil)).Once()
	env.OnActivity(acts.FailPayment, mock.Anything, FailPaymentInput{PaymentID: "p1", Reason: "concurrent payment consumed route capacity"}).
		Return(nil).Once()

	env.ExecuteWorkflow(PayWorkflow, PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("5")})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestPayWorkflow_LostCommitAckReturnsStoredOutcome(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	acts := newTestActivities(chainStore(), nil)
	register(env, acts)

	p := &ledger.Payment{ID: "p1", Payer: "A", Recipient: "C", Amount: dec("5"), Status: ledger.StatusPending}
	env.OnActivity(acts.OpenPayment, mock.Anything, mock.Anything).Return(p, nil)
	env.OnActivity(acts.RoutePayment, mock.Anything, mock.Anything).Return(routeOf(), nil)
	env.OnActivity(acts.SettlePayment, mock.Anything, mock.Anything).
		Return(nil, errors.New("ledger unavailable: i/o timeout"))
	env.OnActivity(acts.FailPayment, mock.Anything, mock.Anything).
		Return(temporalsdk.NewNonRetryableApplicationError("fail payment: payment p1 is completed: payment already terminal", ErrTypeTerminal, nil)).Once()

	completed := *p
	completed.Status = ledger.StatusCompleted
	env.OnActivity(acts.LoadPayment, mock.Anything, "p1").Return(&LoadPaymentResult{
		Payment: completed,
		Transfers: []ledger.SettlementTransfer{
			{ID: "t1", PaymentID: "p1", Payer: "A", Recipient: "B", Amount: dec("5")},
			{ID: "t2", PaymentID: "p1", Payer: "B", Recipient: "C", Amount: dec("5")},
		},
	}, nil).Once()
	env.OnActivity(acts.NotifyRecipient, mock.Anything, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(PayWorkflow, PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("5")})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PayWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, ledger.StatusCompleted, result.Status)
	assert.Len(t, result.Transfers, 2)
	assert.Nil(t, result.Error)
	env.AssertExpectations(t)
}

func TestPayWorkflow_AlreadyFailedKeepsStoredReason(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	acts := newTestActivities(chainStore(), nil)
	register(env, acts)

	p := &ledger.Payment{ID: "p1", Payer: "A", Recipient: "C", Amount: dec("5"), Status: ledger.StatusPending}
	env.OnActivity(acts.OpenPayment, mock.Anything, mock.Anything).Return(p, nil)
	env.OnActivity(acts.RoutePayment, mock.Anything, mock.Anything).Return(routeOf(), nil)
	env.OnActivity(acts.SettlePayment, mock.Anything, mock.Anything).
		Return(nil, temporalsdk.NewNonRetryableApplicationError("commit settlement: payment p1: payment already terminal", ErrTypeTerminal, nil)).Once()
	env.OnActivity(acts.FailPayment, mock.Anything, mock.Anything).
		Return(temporalsdk.NewNonRetryableApplicationError("fail payment: payment p1 is failed: payment already terminal", ErrTypeTerminal, nil)).Once()

	failed := *p
	failed.Status = ledger.StatusFailed
	failed.FailureReason = "cancelled by operator"
	env.OnActivity(acts.LoadPayment, mock.Anything, "p1").Return(&LoadPaymentResult{Payment: failed}, nil).Once()

	env.ExecuteWorkflow(PayWorkflow, PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("5")})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestPayWorkflow_NotificationFailureKeepsPayment(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	s := chainStore()
	acts := newTestActivities(s, nil)
	register(env, acts)

	env.OnActivity(acts.NotifyRecipient, mock.Anything, mock.Anything).
		Return(errors.New("nats: no responders"))

	env.ExecuteWorkflow(PayWorkflow, PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("5")})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	payments := s.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, ledger.StatusCompleted, payments[0].Status)
}

func TestFailureMessage(t *testing.T) {
	appErr := temporalsdk.NewNonRetryableApplicationError("you cannot send to yourself", ErrTypeValidation, nil, "recipient")
	assert.Equal(t, "you cannot send to yourself", failureMessage(appErr))
	assert.Equal(t, ErrTypeValidation, FailureType(appErr))

	plain := errors.New("boom")
	assert.Equal(t, "boom", failureMessage(plain))
	assert.Equal(t, "", FailureType(plain))
}
