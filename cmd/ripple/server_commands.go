package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			h, err := newClient(c, c.Duration("timeout")).Health(c.Context)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, h)
			}
			fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %s)\n", h.Status)
			fmt.Fprintf(c.App.Writer, "  URL:     %s\n", serverURL)
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", h.Version)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			if wantJSON(c) {
				return outputJSON(c, map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			}
			fmt.Fprintf(c.App.Writer, "ripple CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
