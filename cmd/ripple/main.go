package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ripple",
		Usage:   "Mutual-credit payment network CLI",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "db",
				Usage: "Database inspection and migration commands",
				Subcommands: []*cli.Command{
					listAccountsDBCommand(),
					listTrustDBCommand(),
					listPaymentsDBCommand(),
					listTransfersDBCommand(),
					migrateCommand(),
				},
			},
			accountCommands(),
			trustCommands(),
			payCommand(),
			paymentCommands(),
			routeCommand(),
			maxSendableCommand(),
			graphCommand(),
			{
				Name:  "temporal",
				Usage: "Durable payment workflow commands",
				Subcommands: []*cli.Command{
					startPaymentCommand(),
					paymentResultCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS JetStream payment event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					awaitCommand(),
					inspectStreamCommand(),
				},
			},
			eventsCommands(),
			{
				Name:  "server",
				Usage: "Server management commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Ripple HTTP server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server host:port",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the payment worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "ripple-payments",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the JSON output (implies --json)",
			},
		},
	}
}
