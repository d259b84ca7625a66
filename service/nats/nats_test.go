package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/ripple/service/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "payments.bob", SubjectFor("bob"))
	assert.Equal(t, "payments.bob_smith", SubjectFor("bob.smith"))
	assert.Equal(t, "payments.a_b__", SubjectFor("a b*>"))
}

func TestFromPaymentEvent(t *testing.T) {
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := payment.Event{
		PaymentID:     "p1",
		Payer:         "alice",
		PayerName:     "Alice",
		Recipient:     "bob",
		RecipientName: "Bob",
		Amount:        decimal.RequireFromString("2.5"),
		Memo:          "coffee",
		Transfers:     3,
		Message:       payment.NotificationText("Alice", decimal.RequireFromString("2.5")),
		CompletedAt:   completed,
	}

	ev := FromPaymentEvent(e)

	assert.Equal(t, "p1", ev.PaymentID)
	assert.Equal(t, "bob", ev.Recipient)
	assert.Equal(t, "Alice paid you the amount of 2.5(V.H.).", ev.Message)
	assert.Equal(t, 3, ev.Transfers)
	assert.Equal(t, completed, ev.CompletedAt)
	assert.WithinDuration(t, time.Now(), ev.PublishedAt, 5*time.Second)
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.NotifyPayment(ctx, payment.Event{PaymentID: "p1", Recipient: "bob"}))
	require.NoError(t, m.NotifyPayment(ctx, payment.Event{PaymentID: "p2", Recipient: "carol"}))

	assert.Equal(t, 2, m.GetPublishedEventCount())
	require.Len(t, m.GetPublishedEventsForRecipient("bob"), 1)
	assert.Equal(t, "p1", m.GetPublishedEventsForRecipient("bob")[0].PaymentID)

	m.SetPublishError(errors.New("down"))
	assert.Error(t, m.NotifyPayment(ctx, payment.Event{PaymentID: "p3"}))
	assert.Equal(t, 2, m.GetPublishedEventCount())

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	m.Reset()
	assert.Equal(t, 0, m.GetPublishedEventCount())
	assert.False(t, m.IsClosed())
}

func TestStreamConfig(t *testing.T) {
	cfg := StreamConfig()
	assert.Equal(t, "PAYMENTS", cfg.Name)
	assert.Equal(t, []string{"payments.*"}, cfg.Subjects)
	assert.Equal(t, StreamRetention, cfg.MaxAge)
}

func TestOrchestratorPublishesThroughMock(t *testing.T) {
	store := payment.NewMemoryStore()
	store.AddAccount("A", "alice")
	store.AddAccount("B", "bob")
	store.SetTrust("B", "A", decimal.NewFromInt(3))

	pub := NewMockPublisher()
	o := payment.NewOrchestrator(store, store, pub, payment.DefaultConfig(), nil, nil)

	_, err := o.Pay(context.Background(), payment.PayRequest{Payer: "A", Recipient: "B", Amount: decimal.NewFromInt(2)})
	require.NoError(t, err)
	o.Wait()

	events := pub.GetPublishedEventsForRecipient("B")
	require.Len(t, events, 1)
	assert.Equal(t, "alice paid you the amount of 2(V.H.).", events[0].Message)
	assert.Equal(t, "bob", events[0].RecipientName)
}

func TestMockPublisher_Subscribe(t *testing.T) {
	m := NewMockPublisher()
	ctx, cancel := context.WithCancel(context.Background())

	bob, err := m.Subscribe(ctx, "bob")
	require.NoError(t, err)
	all, err := m.Subscribe(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, m.SubscriberCount())

	require.NoError(t, m.NotifyPayment(ctx, payment.Event{PaymentID: "p1", Recipient: "carol"}))
	require.NoError(t, m.NotifyPayment(ctx, payment.Event{PaymentID: "p2", Recipient: "bob"}))

	assert.Equal(t, "p2", (<-bob).PaymentID)
	assert.Equal(t, "p1", (<-all).PaymentID)
	assert.Equal(t, "p2", (<-all).PaymentID)

	cancel()
	_, open := <-bob
	assert.False(t, open)
	assert.Eventually(t, func() bool { return m.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}
