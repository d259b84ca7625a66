package nats

import (
	"context"
	"sync"

	"github.com/brojonat/ripple/service/payment"
)

// MockPublisher is a mock implementation of Publisher for testing. It is
// also an EventStream delivering what it publishes to live subscribers.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*PaymentEvent
	publishError    error
	closed          bool
	subscribers     map[*mockSubscription]struct{}
}

type mockSubscription struct {
	recipient string
	ch        chan *PaymentEvent
}

var (
	_ payment.Notifier = (*MockPublisher)(nil)
	_ EventStream      = (*MockPublisher)(nil)
)

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*PaymentEvent, 0),
		subscribers:     make(map[*mockSubscription]struct{}),
	}
}

// PublishPayment records the event and returns any configured error.
func (m *MockPublisher) PublishPayment(ctx context.Context, event *PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	for sub := range m.subscribers {
		if sub.recipient == "" || sub.recipient == event.Recipient {
			select {
			case sub.ch <- event:
			default:
				// slow subscriber, drop
			}
		}
	}
	return nil
}

// Subscribe delivers events published after the call until ctx ends.
func (m *MockPublisher) Subscribe(ctx context.Context, recipient string) (<-chan *PaymentEvent, error) {
	sub := &mockSubscription{recipient: recipient, ch: make(chan *PaymentEvent, 16)}

	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, sub)
		m.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

// SubscriberCount returns the number of live subscriptions.
func (m *MockPublisher) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// NotifyPayment records e as a PaymentEvent.
func (m *MockPublisher) NotifyPayment(ctx context.Context, e payment.Event) error {
	return m.PublishPayment(ctx, FromPaymentEvent(e))
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*PaymentEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForRecipient returns events published for one recipient.
func (m *MockPublisher) GetPublishedEventsForRecipient(recipient string) []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*PaymentEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Recipient == recipient {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishPayment.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*PaymentEvent, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
