package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ripple/service/metrics"
	"github.com/brojonat/ripple/service/payment"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing payment events to NATS.
type Publisher interface {
	// PublishPayment publishes a single payment event to JetStream.
	// The event is published to the subject "payments.{recipient}".
	PublishPayment(ctx context.Context, event *PaymentEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes payment events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for payments.
	StreamName = "PAYMENTS"

	// SubjectPrefix prefixes the recipient in an event subject.
	SubjectPrefix = "payments."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "payments.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

var _ payment.Notifier = (*JetStreamPublisher)(nil)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	// Connect to NATS
	nc, err := nats.Connect(natsURL,
		nats.Name("ripple-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	// Ensure stream exists
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// StreamConfig is the configuration of the payments stream.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Completed payment notifications by recipient",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	if _, err := p.js.CreateStream(ctx, StreamConfig()); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishPayment publishes a single payment event.
func (p *JetStreamPublisher) PublishPayment(ctx context.Context, event *PaymentEvent) error {
	subject := SubjectFor(event.Recipient)
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	// the message id lets JetStream drop a retried notification
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.PaymentID))
	if err != nil {
		p.metrics.RecordNATSPublish(subject, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish payment: %w", err)
	}
	p.metrics.RecordNATSPublish(subject, "success", time.Since(start).Seconds())

	p.logger.Debug("published payment event",
		"subject", subject,
		"payment_id", event.PaymentID,
		"recipient", event.Recipient,
	)

	return nil
}

// NotifyPayment publishes e to the recipient's subject.
func (p *JetStreamPublisher) NotifyPayment(ctx context.Context, e payment.Event) error {
	return p.PublishPayment(ctx, FromPaymentEvent(e))
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
