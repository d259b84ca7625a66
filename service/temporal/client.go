package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of PaymentStarter that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartPayment starts PayWorkflow for input and returns the workflow ID.
// The workflow runs independently of ctx once started.
func (c *Client) StartPayment(ctx context.Context, input PayWorkflowInput) (string, error) {
	id := workflowID()

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: 10 * time.Minute,
	}, PayWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start payment workflow",
			"payer", input.Payer,
			"recipient", input.Recipient,
			"error", err,
		)
		return "", fmt.Errorf("failed to start payment workflow: %w", err)
	}

	c.logger.Info("payment workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"payer", input.Payer,
		"recipient", input.Recipient,
		"amount", input.Amount.String(),
	)
	return run.GetID(), nil
}

// PaymentResult waits for the payment workflow id to finish and returns its
// result.
func (c *Client) PaymentResult(ctx context.Context, id string) (*PayWorkflowResult, error) {
	var result PayWorkflowResult
	if err := c.client.GetWorkflow(ctx, id, "").Get(ctx, &result); err != nil {
		return &result, fmt.Errorf("payment workflow %q: %w", id, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
