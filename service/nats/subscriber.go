package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventStream delivers payment events as they are published.
type EventStream interface {
	// Subscribe streams new events for recipient, or for every recipient
	// when recipient is empty. The channel is closed once ctx ends.
	Subscribe(ctx context.Context, recipient string) (<-chan *PaymentEvent, error)
}

// SubscribeOptions tunes a JetStream consumer.
type SubscribeOptions struct {
	// Durable names a consumer that survives restarts. Empty means ephemeral.
	Durable string

	// All replays the retained stream instead of only new messages.
	All bool
}

// Subscriber consumes payment events from JetStream.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

var _ EventStream = (*Subscriber)(nil)

// NewSubscriber connects to NATS for consuming the payments stream.
func NewSubscriber(natsURL string, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("ripple-subscriber"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("NATS subscriber initialized", "url", natsURL)
	return &Subscriber{nc: nc, js: js, logger: logger}, nil
}

// Subscribe streams new events with an ephemeral consumer.
func (s *Subscriber) Subscribe(ctx context.Context, recipient string) (<-chan *PaymentEvent, error) {
	return s.SubscribeWith(ctx, recipient, SubscribeOptions{})
}

// SubscribeWith streams events for recipient ("" for all) with opts.
func (s *Subscriber) SubscribeWith(ctx context.Context, recipient string, opts SubscribeOptions) (<-chan *PaymentEvent, error) {
	subject := StreamSubjects
	if recipient != "" {
		subject = SubjectFor(recipient)
	}

	cfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.All {
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.Name = opts.Durable
	}

	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	events := make(chan *PaymentEvent, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event PaymentEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.Warn("failed to unmarshal payment event", "subject", msg.Subject(), "error", err)
			msg.Ack()
			return
		}
		select {
		case events <- &event:
			msg.Ack()
		case <-ctx.Done():
			// left unacked for redelivery to a durable consumer
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Drain()
		<-cc.Closed()
		close(events)
	}()

	s.logger.Debug("subscribed to payment events", "subject", subject, "durable", opts.Durable)
	return events, nil
}

// Stream returns the current state of the payments stream.
func (s *Subscriber) Stream(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := s.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info, nil
}

// Close closes the connection to NATS.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
