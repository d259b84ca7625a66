package temporal

import (
	"context"
	"sync"
)

// MockStarter is a mock implementation of PaymentStarter for testing.
type MockStarter struct {
	mu       sync.Mutex
	started  map[string]PayWorkflowInput // map[workflowID]input
	order    []string
	startErr error
}

// NewMockStarter creates a new MockStarter.
func NewMockStarter() *MockStarter {
	return &MockStarter{
		started: make(map[string]PayWorkflowInput),
	}
}

// StartPayment records that a payment workflow was started.
func (m *MockStarter) StartPayment(ctx context.Context, input PayWorkflowInput) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := workflowID()
	m.started[id] = input
	m.order = append(m.order, id)
	return id, nil
}

// SetStartError makes StartPayment return an error.
func (m *MockStarter) SetStartError(err error) {
	m.startErr = err
}

// Started returns the input recorded for a workflow ID.
func (m *MockStarter) Started(id string) (PayWorkflowInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.started[id]
	return in, ok
}

// Count returns the number of workflows started.
func (m *MockStarter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
