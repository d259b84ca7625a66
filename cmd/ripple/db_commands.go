package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ripple/service/db"
	"github.com/brojonat/ripple/service/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listAccountsDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-accounts",
		Usage:   "List all accounts",
		Aliases: []string{"accounts"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			accounts, err := store.ListAccounts(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, accounts)
			}
			printAccounts(c, accounts)
			return nil
		},
	}
}

func listTrustDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-trust",
		Usage:     "List trust declarations, optionally only those an account is part of",
		Aliases:   []string{"trust"},
		ArgsUsage: "[account]",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var decls []ledger.TrustDeclaration
			if c.NArg() > 0 {
				decls, err = store.ListTrustDeclarations(c.Context, c.Args().First())
			} else {
				var snap ledger.Snapshot
				snap, err = store.LoadSnapshot(c.Context, nil)
				decls = snap.Declarations
			}
			if err != nil {
				return fmt.Errorf("failed to list trust declarations: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, decls)
			}
			printDeclarations(c, decls)
			return nil
		},
	}
}

func listPaymentsDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-payments",
		Usage:   "List the payments an account sent or received",
		Aliases: []string{"payments"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "account",
				Aliases:  []string{"a"},
				Usage:    "Account id",
				Required: true,
			},
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
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			payments, err := store.ListPaymentsByAccount(c.Context, c.String("account"), int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list payments: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, payments)
			}
			printPayments(c, payments)
			return nil
		},
	}
}

func listTransfersDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transfers",
		Usage:     "Show a payment with its settlement transfers",
		Aliases:   []string{"transfers"},
		ArgsUsage: "<payment-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment id")
			}
			id := c.Args().First()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			p, err := store.GetPayment(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get payment: %w", err)
			}
			transfers, err := store.ListSettlementTransfers(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, map[string]interface{}{
					"payment":   p,
					"transfers": transfers,
				})
			}
			printPaymentDetail(c, p, transfers)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Only print the applied schema version",
			},
		},
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !c.Bool("status") {
				logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
				if err := db.Migrate(c.Context, pool, logger); err != nil {
					return err
				}
			}

			v, err := db.MigrationVersion(c.Context, pool)
			if err != nil {
				return err
			}
			if wantJSON(c) {
				return outputJSON(c, map[string]int64{"version": v})
			}
			fmt.Fprintf(c.App.Writer, "Schema version: %d\n", v)
			return nil
		},
	}
}

// getPool connects to the database named by --database-url.
func getPool(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// getStore connects to the database and wraps it in a Store.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool, nil), pool.Close, nil
}

func printAccounts(c *cli.Context, accounts []ledger.Account) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDISPLAY NAME\tCREATED")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.DisplayName, a.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
	fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d accounts\n", len(accounts))
}

func printDeclarations(c *cli.Context, decls []ledger.TrustDeclaration) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRUSTER\tTRUSTEE\tLIMIT\tUPDATED")
	for _, d := range decls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Truster, d.Trustee, d.Limit.String(), d.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
	fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d declarations\n", len(decls))
}

func printPayments(c *cli.Context, payments []ledger.Payment) {
	if len(payments) == 0 {
		fmt.Fprintln(c.App.Writer, "No payments found")
		return
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPAYER\tRECIPIENT\tAMOUNT\tSTATUS\tCREATED")
	for _, p := range payments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.Payer,
			p.Recipient,
			p.Amount.String(),
			p.Status,
			p.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
	fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d payments\n", len(payments))
}

func printPaymentDetail(c *cli.Context, p *ledger.Payment, transfers []ledger.SettlementTransfer) {
	out := c.App.Writer
	fmt.Fprintf(out, "Payment:     %s\n", p.ID)
	fmt.Fprintf(out, "Payer:       %s\n", p.Payer)
	fmt.Fprintf(out, "Recipient:   %s\n", p.Recipient)
	fmt.Fprintf(out, "Amount:      %s\n", p.Amount.String())
	fmt.Fprintf(out, "Status:      %s\n", p.Status)
	if p.Memo != "" {
		fmt.Fprintf(out, "Memo:        %s\n", p.Memo)
	}
	if p.FailureReason != "" {
		fmt.Fprintf(out, "Reason:      %s\n", p.FailureReason)
	}
	fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.Format(time.RFC3339))

	if len(transfers) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSFER\tFROM\tTO\tAMOUNT")
	for _, t := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Payer, t.Recipient, t.Amount.String())
	}
	w.Flush()
}
