package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/ripple/service/nats"
)

// sseKeepalive is how often an idle stream sends a comment line.
var sseKeepalive = 10 * time.Second

// handleStreamPayments handles SSE streaming of completed payments.
// If the id path parameter is empty, streams every recipient. Otherwise,
// streams the payments received by that account.
// GET /api/v1/events
// GET /api/v1/accounts/{id}/events
// Streams end when closing is closed.
func handleStreamPayments(events natspkg.EventStream, store Store, closing <-chan struct{}, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if events == nil {
			writeError(w, "payment events are disabled", http.StatusServiceUnavailable)
			return
		}

		recipient := r.PathValue("id")
		desc := "all accounts"
		if recipient != "" {
			if _, err := store.GetAccount(r.Context(), recipient); err != nil {
				writeServiceError(w, r, logger, err)
				return
			}
			desc = recipient
		}

		ch, err := events.Subscribe(r.Context(), recipient)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to subscribe to payment events",
				"account", desc,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		// The stream outlives the server's write timeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(r.Context(), "cannot clear write deadline", "error", err)
		}
		flush := func() { _ = rc.Flush() }

		logger.DebugContext(r.Context(), "SSE client connected",
			"account", desc,
			"remote_addr", r.RemoteAddr,
		)

		connected, _ := json.Marshal(map[string]string{"account": desc})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: payment\ndata: %s\n\n", data)
				flush()

				logger.DebugContext(r.Context(), "sent payment event",
					"account", desc,
					"payment_id", event.PaymentID,
				)

			case <-closing:
				fmt.Fprint(w, "event: shutdown\ndata: {}\n\n")
				flush()
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"account", desc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
