package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ripple/client"
	"github.com/brojonat/ripple/service/routing"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// newClient builds an API client for --server-url. Only errors are logged.
func newClient(c *cli.Context, timeout time.Duration) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, logger)
}

var timeoutFlag = &cli.DurationFlag{
	Name:    "timeout",
	Aliases: []string{"t"},
	Usage:   "Request timeout",
	Value:   30 * time.Second,
}

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:    "account",
		Aliases: []string{"accounts"},
		Usage:   "Account commands",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Register a new account",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "name",
						Aliases: []string{"n"},
						Usage:   "Display name (defaults to the id)",
					},
					timeoutFlag,
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: account id")
					}
					acc, err := newClient(c, c.Duration("timeout")).CreateAccount(c.Context, c.Args().First(), c.String("name"))
					if err != nil {
						return fmt.Errorf("failed to create account: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, acc)
					}
					fmt.Fprintf(c.App.Writer, "✓ Account created\n")
					fmt.Fprintf(c.App.Writer, "  ID:   %s\n", acc.ID)
					fmt.Fprintf(c.App.Writer, "  Name: %s\n", acc.DisplayName)
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "Show an account",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{timeoutFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: account id")
					}
					acc, err := newClient(c, c.Duration("timeout")).GetAccount(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get account: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, acc)
					}
					fmt.Fprintf(c.App.Writer, "ID:      %s\n", acc.ID)
					fmt.Fprintf(c.App.Writer, "Name:    %s\n", acc.DisplayName)
					fmt.Fprintf(c.App.Writer, "Created: %s\n", acc.CreatedAt.Format(time.RFC3339))
					return nil
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List every account",
				Flags:   []cli.Flag{timeoutFlag},
				Action: func(c *cli.Context) error {
					accs, err := newClient(c, c.Duration("timeout")).ListAccounts(c.Context)
					if err != nil {
						return fmt.Errorf("failed to list accounts: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, accs)
					}
					printAccounts(c, accs)
					return nil
				},
			},
			{
				Name:      "history",
				Usage:     "List the payments an account sent or received",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Limit number of payments",
						Value:   50,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Skip this many payments",
					},
					timeoutFlag,
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: account id")
					}
					payments, err := newClient(c, c.Duration("timeout")).ListPayments(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
					if err != nil {
						return fmt.Errorf("failed to list payments: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, payments)
					}
					printPayments(c, payments)
					return nil
				},
			},
		},
	}
}

func trustCommands() *cli.Command {
	return &cli.Command{
		Name:  "trust",
		Usage: "Trust declaration commands",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Declare that TRUSTER accepts up to LIMIT routed from TRUSTEE",
				ArgsUsage: "<truster> <trustee> <limit>",
				Flags:     []cli.Flag{timeoutFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires exactly three arguments: truster, trustee and limit")
					}
					limit, err := decimal.NewFromString(c.Args().Get(2))
					if err != nil {
						return fmt.Errorf("invalid limit %q: %w", c.Args().Get(2), err)
					}
					d, err := newClient(c, c.Duration("timeout")).SetTrust(c.Context, c.Args().Get(0), c.Args().Get(1), limit)
					if err != nil {
						return fmt.Errorf("failed to declare trust: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, d)
					}
					fmt.Fprintf(c.App.Writer, "✓ %s now trusts %s for %s\n", d.Truster, d.Trustee, d.Limit.String())
					return nil
				},
			},
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List the declarations an account is part of",
				ArgsUsage: "<account>",
				Flags:     []cli.Flag{timeoutFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: account id")
					}
					decls, err := newClient(c, c.Duration("timeout")).ListTrust(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to list trust: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, decls)
					}
					printDeclarations(c, decls)
					return nil
				},
			},
		},
	}
}

func payCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Pay AMOUNT from PAYER to RECIPIENT through the trust network",
		ArgsUsage: "<payer> <recipient> <amount>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "memo",
				Aliases: []string{"m"},
				Usage:   "Payment memo",
			},
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Start a durable payment workflow and return its id",
			},
			timeoutFlag,
		},
		Action: func(c *cli.Context) error {
			req, err := payRequestFromArgs(c)
			if err != nil {
				return err
			}
			cl := newClient(c, c.Duration("timeout"))

			if c.Bool("async") {
				id, err := cl.PayAsync(c.Context, req)
				if err != nil {
					return fmt.Errorf("failed to start payment: %w", err)
				}
				if wantJSON(c) {
					return outputJSON(c, map[string]string{"workflow_id": id, "status": "accepted"})
				}
				fmt.Fprintf(c.App.Writer, "✓ Payment accepted\n")
				fmt.Fprintf(c.App.Writer, "  Workflow ID: %s\n", id)
				return nil
			}

			res, err := cl.Pay(c.Context, req)
			if err != nil {
				return fmt.Errorf("payment failed: %w", err)
			}
			if wantJSON(c) {
				return outputJSON(c, res)
			}
			printPaymentDetail(c, &res.Payment, res.Transfers)
			return nil
		},
	}
}

// payRequestFromArgs reads "<payer> <recipient> <amount>" and --memo.
func payRequestFromArgs(c *cli.Context) (client.PayRequest, error) {
	if c.NArg() != 3 {
		return client.PayRequest{}, fmt.Errorf("requires exactly three arguments: payer, recipient and amount")
	}
	amount, err := decimal.NewFromString(c.Args().Get(2))
	if err != nil {
		return client.PayRequest{}, fmt.Errorf("invalid amount %q: %w", c.Args().Get(2), err)
	}
	return client.PayRequest{
		Payer:     c.Args().Get(0),
		Recipient: c.Args().Get(1),
		Amount:    amount,
		Memo:      c.String("memo"),
	}, nil
}

func paymentCommands() *cli.Command {
	return &cli.Command{
		Name:  "payment",
		Usage: "Payment inspection commands",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show a payment with its settlement transfers",
				ArgsUsage: "<payment-id>",
				Flags:     []cli.Flag{timeoutFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: payment id")
					}
					detail, err := newClient(c, c.Duration("timeout")).GetPayment(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get payment: %w", err)
					}
					if wantJSON(c) {
						return outputJSON(c, detail)
					}
					printPaymentDetail(c, &detail.Payment, detail.Transfers)
					return nil
				},
			},
		},
	}
}

func routeCommand() *cli.Command {
	return &cli.Command{
		Name:      "route",
		Usage:     "Preview the candidate routes from SENDER to RECIPIENT",
		ArgsUsage: "<sender> <recipient>",
		Flags:     []cli.Flag{timeoutFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: sender and recipient")
			}
			view, err := newClient(c, c.Duration("timeout")).PreviewRoute(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to preview route: %w", err)
			}
			if wantJSON(c) {
				return outputJSON(c, view)
			}
			printGraph(c, view)
			return nil
		},
	}
}

func maxSendableCommand() *cli.Command {
	return &cli.Command{
		Name:      "max-sendable",
		Usage:     "Show the most SENDER can pay RECIPIENT right now",
		ArgsUsage: "<sender> <recipient>",
		Flags:     []cli.Flag{timeoutFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: sender and recipient")
			}
			ms, err := newClient(c, c.Duration("timeout")).MaxSendable(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to compute max sendable: %w", err)
			}
			if wantJSON(c) {
				return outputJSON(c, ms)
			}
			fmt.Fprintf(c.App.Writer, "Max sendable: %s\n", ms.Amount.String())
			for _, p := range ms.Paths {
				fmt.Fprintf(c.App.Writer, "  %s  (%s)\n", strings.Join(p.Path, " → "), p.Amount.String())
			}
			return nil
		},
	}
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Show the trust graph with current capacities",
		Flags: []cli.Flag{timeoutFlag},
		Action: func(c *cli.Context) error {
			view, err := newClient(c, c.Duration("timeout")).Graph(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get graph: %w", err)
			}
			if wantJSON(c) {
				return outputJSON(c, view)
			}
			printGraph(c, view)
			return nil
		},
	}
}

func printGraph(c *cli.Context, view *routing.GraphView) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tTO\tCAPACITY")
	for _, e := range view.Edges {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Source, e.Target, e.Capacity.String())
	}
	w.Flush()
	fmt.Fprintf(c.App.ErrWriter, "\n%d nodes, %d edges\n", len(view.Nodes), len(view.Edges))
}
