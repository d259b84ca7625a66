package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/ripple/service/nats"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// subjectForArgs returns the subject of one recipient, or of every payment
// when no account was given.
func subjectForArgs(c *cli.Context) string {
	if c.NArg() > 0 {
		return natspkg.SubjectFor(c.Args().First())
	}
	return natspkg.StreamSubjects
}

// subscribeCommand streams completed payment events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream completed payment events, optionally for one recipient",
		ArgsUsage: "[account]",
		Description: `Subscribe to payment events published to NATS JetStream.

Events are published to the subject payments.{recipient}. Without an account
every payment is streamed.

Example:
  ripple nats subscribe carol --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "ripple-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events before streaming new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject := subjectForArgs(c)
			jsonOutput := wantJSON(c)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(c.App.ErrWriter, "   NATS: %s\n", c.String("nats-url"))
				fmt.Fprintf(c.App.ErrWriter, "\nWaiting for payments... (Ctrl-C to exit)\n\n")
			}

			sub, err := newSubscriber(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			opts := natspkg.SubscribeOptions{All: c.Bool("all")}
			if c.Bool("durable") {
				opts.Durable = c.String("consumer-name")
			}

			count := 0
			err = consumePayments(ctx, sub, c.Args().First(), opts, func(event *natspkg.PaymentEvent) (bool, error) {
				count++
				if jsonOutput {
					return false, outputJSON(c, event)
				}
				printPaymentEvent(c, count, event)
				return false, nil
			})
			if errors.Is(err, context.Canceled) {
				if !jsonOutput {
					fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d payments\n", count)
				}
				return nil
			}
			return err
		},
	}
}

// awaitCommand blocks until a payment to an account matches every filter.
func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a payment to ACCOUNT matching criteria arrives",
		ArgsUsage: "<account>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "payer",
				Usage: "Filter by payer",
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Filter by exact amount",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter over the event that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the payment",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Also match payments retained in the stream from before the call",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account is required")
			}

			filters := c.StringSlice("must-jq")
			if c.String("payer") != "" {
				filters = append(filters, fmt.Sprintf(".payer == %q", c.String("payer")))
			}
			if amount := c.String("amount"); amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid amount %q: %w", amount, err)
				}
				filters = append(filters, fmt.Sprintf("(.amount | tonumber) == %s", d.String()))
			}
			if len(filters) == 0 {
				return fmt.Errorf("must specify at least one filter: --payer, --amount, or --must-jq")
			}

			codes := make([]*gojq.Code, len(filters))
			for i, f := range filters {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				codes[i] = code
			}

			if !wantJSON(c) {
				fmt.Fprintf(c.App.ErrWriter, "Waiting for a payment to %s...\n", c.Args().First())
				for _, f := range filters {
					fmt.Fprintf(c.App.ErrWriter, "  jq Filter: %s\n", f)
				}
				fmt.Fprintf(c.App.ErrWriter, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			sub, err := newSubscriber(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			var found *natspkg.PaymentEvent
			err = consumePayments(ctx, sub, c.Args().First(), natspkg.SubscribeOptions{All: c.Bool("all")}, func(event *natspkg.PaymentEvent) (bool, error) {
				if matchesAll(codes, event) {
					found = event
					return true, nil
				}
				return false, nil
			})
			if found == nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("timed out after %s waiting for a matching payment", c.Duration("timeout"))
				}
				return err
			}

			if wantJSON(c) {
				return outputJSON(c, found)
			}
			printPaymentEvent(c, 1, found)
			return nil
		},
	}
}

// inspectStreamCommand shows information about the payments stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the PAYMENTS JetStream stream",
		Action: func(c *cli.Context) error {
			sub, err := newSubscriber(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			info, err := sub.Stream(c.Context)
			if err != nil {
				return err
			}

			if wantJSON(c) {
				return outputJSON(c, info)
			}
			out := c.App.Writer
			fmt.Fprintf(out, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(out, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(out, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(out, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(out, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(out, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(out, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(out, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(out, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(out, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}

// newSubscriber connects to the NATS server of the global flags. Only
// warnings are logged so they do not interleave with streamed events.
func newSubscriber(c *cli.Context) (*natspkg.Subscriber, error) {
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return natspkg.NewSubscriber(c.String("nats-url"), logger)
}

// consumePayments delivers every event for recipient ("" for all) to handle
// until handle reports done, handle errors, or ctx ends.
func consumePayments(ctx context.Context, sub *natspkg.Subscriber, recipient string, opts natspkg.SubscribeOptions, handle func(*natspkg.PaymentEvent) (bool, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := sub.SubscribeWith(ctx, recipient, opts)
	if err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			done, err := handle(event)
			if err != nil || done {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printPaymentEvent(c *cli.Context, n int, event *natspkg.PaymentEvent) {
	out := c.App.Writer
	fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(out, "Payment #%d\n", n)
	fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(out, "ID:           %s\n", event.PaymentID)
	fmt.Fprintf(out, "From:         %s (%s)\n", event.Payer, event.PayerName)
	fmt.Fprintf(out, "To:           %s (%s)\n", event.Recipient, event.RecipientName)
	fmt.Fprintf(out, "Amount:       %s\n", event.Amount.String())
	fmt.Fprintf(out, "Transfers:    %d\n", event.Transfers)
	if event.Memo != "" {
		fmt.Fprintf(out, "Memo:         %s\n", event.Memo)
	}
	fmt.Fprintf(out, "Message:      %s\n", event.Message)
	fmt.Fprintf(out, "Completed:    %s\n", event.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "\n")
}
