package temporal

import (
	"context"

	"github.com/google/uuid"
)

// PaymentStarter starts durable payment workflows.
// Each call starts one PayWorkflow execution with a fresh workflow ID.
type PaymentStarter interface {
	// StartPayment starts PayWorkflow for input and returns its workflow ID.
	StartPayment(ctx context.Context, input PayWorkflowInput) (string, error)
}

// workflowID returns a new Temporal workflow ID for a payment.
func workflowID() string {
	return "pay-" + uuid.NewString()
}
