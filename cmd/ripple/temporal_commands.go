package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/ripple/service/temporal"
	"github.com/urfave/cli/v2"
)

// getTemporalClient dials Temporal with the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}

func startPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Start a payment workflow directly on Temporal",
		ArgsUsage: "<payer> <recipient> <amount>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "memo",
				Aliases: []string{"m"},
				Usage:   "Payment memo",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the workflow to finish and print its result",
			},
		},
		Action: func(c *cli.Context) error {
			req, err := payRequestFromArgs(c)
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id, err := tc.StartPayment(c.Context, temporal.PayWorkflowInput{
				Payer:     req.Payer,
				Recipient: req.Recipient,
				Amount:    req.Amount,
				Memo:      req.Memo,
			})
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if wantJSON(c) {
					return outputJSON(c, map[string]string{"workflow_id": id})
				}
				fmt.Fprintf(c.App.Writer, "✓ Workflow started: %s\n", id)
				return nil
			}
			return printWorkflowResult(c, tc, id)
		},
	}
}

func paymentResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a payment workflow and print its result",
		ArgsUsage: "<workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			return printWorkflowResult(c, tc, c.Args().First())
		},
	}
}

func printWorkflowResult(c *cli.Context, tc *temporal.Client, id string) error {
	result, err := tc.PaymentResult(c.Context, id)
	if err != nil {
		if reason := temporal.FailureType(err); reason != "" {
			return fmt.Errorf("payment failed (%s): %w", reason, err)
		}
		return err
	}

	if wantJSON(c) {
		return outputJSON(c, result)
	}
	fmt.Fprintf(c.App.Writer, "Workflow:   %s\n", id)
	fmt.Fprintf(c.App.Writer, "Payment:    %s\n", result.PaymentID)
	fmt.Fprintf(c.App.Writer, "Status:     %s\n", result.Status)
	fmt.Fprintf(c.App.Writer, "Transfers:  %d\n", len(result.Transfers))
	if result.Error != nil {
		fmt.Fprintf(c.App.Writer, "Error:      %s\n", *result.Error)
	}
	return nil
}
