package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	natspkg "github.com/brojonat/ripple/service/nats"
	"github.com/urfave/cli/v2"
)

// errStreamDone ends an SSE read loop without an error.
var errStreamDone = errors.New("stream done")

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Server-Sent Events (SSE) payment streams",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream completed payments via SSE (HTTP)",
		ArgsUsage: "[account]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Exit after this many payments (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required")
			}
			account := c.Args().First()
			jsonOutput := wantJSON(c)

			url := serverURL + "/api/v1/events"
			if account != "" {
				url = fmt.Sprintf("%s/api/v1/accounts/%s/events", serverURL, account)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			// No timeout for streaming
			resp, err := (&http.Client{}).Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var body struct {
					Error string `json:"error"`
				}
				_ = json.NewDecoder(resp.Body).Decode(&body)
				return fmt.Errorf("server returned status %d: %s", resp.StatusCode, body.Error)
			}

			count := 0
			handle := func(event, data string) error {
				switch event {
				case "connected":
					if !jsonOutput {
						var info struct {
							Account string `json:"account"`
						}
						if err := json.Unmarshal([]byte(data), &info); err != nil {
							return err
						}
						fmt.Fprintf(c.App.ErrWriter, "✓ Subscribed to payments for %s (Ctrl+C to stop)\n\n", info.Account)
					}
				case "payment":
					var p natspkg.PaymentEvent
					if err := json.Unmarshal([]byte(data), &p); err != nil {
						return err
					}
					count++
					if jsonOutput {
						if err := outputJSON(c, &p); err != nil {
							return err
						}
					} else {
						printPaymentEvent(c, count, &p)
					}
					if n := c.Int("count"); n > 0 && count >= n {
						return errStreamDone
					}
				case "shutdown":
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "Server is shutting down\n")
					}
					return errStreamDone
				}
				return nil
			}

			err = readSSE(resp, handle)
			switch {
			case errors.Is(err, errStreamDone):
				return nil
			case err != nil && ctx.Err() != nil:
				if !jsonOutput {
					fmt.Fprintf(c.App.ErrWriter, "\nDisconnected after %d payments\n", count)
				}
				return nil
			}
			return err
		},
	}
}

// readSSE calls handle for every complete event of the stream.
func readSSE(resp *http.Response, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if event != "" && data != "" {
				if err := handle(event, data); err != nil {
					return err
				}
			}
			event, data = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
