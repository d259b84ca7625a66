package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"unicode"

	"github.com/brojonat/ripple/service/cache"
	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/payment"
	"github.com/brojonat/ripple/service/temporal"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAccountIDLength = 64
	maxMemoLength      = 280
	maxSanitizePasses  = 4
)

var (
	// Account ids are used in NATS subjects and URLs.
	validAccountIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_@-]*$`)

	// Memos and display names are shown to other participants.
	textPolicy = bluemonday.StrictPolicy()
)

// errorResponse is the JSON error envelope of every non-2xx answer.
type errorResponse struct {
	Error       string           `json:"error"`
	Field       string           `json:"field,omitempty"`
	MaxSendable *decimal.Decimal `json:"max_sendable,omitempty"`
}

// handleGetGraph returns a handler that renders the full trust graph.
// GET /api/v1/graph
func handleGetGraph(o Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view, err := o.GetGraphSnapshot(r.Context())
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		logger.Debug("graph rendered", "nodes", len(view.Nodes), "edges", len(view.Edges))
		writeJSON(w, view, http.StatusOK)
	})
}

// handlePreviewRoute returns a handler that renders the candidate routes
// between two accounts without reserving anything.
// POST /api/v1/routes
func handlePreviewRoute(o Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sender    string `json:"sender"`
			Recipient string `json:"recipient"`
		}
		if !decodeJSON(w, r, logger, &req) {
			return
		}
		if !validateParties(w, "sender", req.Sender, "recipient", req.Recipient) {
			return
		}

		view, err := o.PreviewRoute(r.Context(), req.Sender, req.Recipient)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, view, http.StatusOK)
	})
}

// handleGetMaxSendable returns a handler that reports the most sender can
// pay recipient right now.
// GET /api/v1/accounts/{recipient}/max-sendable?sender={sender}
func handleGetMaxSendable(o Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recipient := r.PathValue("recipient")
		sender := r.URL.Query().Get("sender")
		if !validateParties(w, "sender", sender, "recipient", recipient) {
			return
		}

		ms, err := o.GetMaxSendable(r.Context(), sender, recipient)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, ms, http.StatusOK)
	})
}

// payRequest is the JSON body of the payment endpoints.
type payRequest struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo"`
}

// validate reports the first problem with req as a 400 response.
func (req *payRequest) validate(w http.ResponseWriter) bool {
	if !validateParties(w, "payer", req.Payer, "recipient", req.Recipient) {
		return false
	}
	if !req.Amount.IsPositive() {
		writeValidationError(w, "amount", "amount must be greater than zero")
		return false
	}
	if len(req.Memo) > maxMemoLength {
		writeValidationError(w, "memo", fmt.Sprintf("memo too long: maximum length is %d characters", maxMemoLength))
		return false
	}
	req.Memo = sanitizeText(req.Memo)
	return true
}

// sanitizeText strips markup from free text, keeping its literal characters.
// Markup hidden behind entities is stripped too, so the result is stable
// under a second pass.
func sanitizeText(s string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		out := html.UnescapeString(textPolicy.Sanitize(s))
		if out == s {
			return out
		}
		s = out
	}
	return html.EscapeString(s)
}

// handlePay returns a handler that routes and settles a payment
// synchronously.
// POST /api/v1/payments
func handlePay(o Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req payRequest
		if !decodeJSON(w, r, logger, &req) {
			return
		}
		if !req.validate(w) {
			return
		}

		res, err := o.Pay(r.Context(), payment.PayRequest{
			Payer:     req.Payer,
			Recipient: req.Recipient,
			Amount:    req.Amount,
			Memo:      req.Memo,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, res, http.StatusCreated)
	})
}

// handlePayAsync returns a handler that starts a durable payment workflow.
// POST /api/v1/payments/async
func handlePayAsync(starter temporal.PaymentStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if starter == nil {
			writeError(w, "async payments are disabled", http.StatusServiceUnavailable)
			return
		}

		var req payRequest
		if !decodeJSON(w, r, logger, &req) {
			return
		}
		if !req.validate(w) {
			return
		}

		id, err := starter.StartPayment(r.Context(), temporal.PayWorkflowInput{
			Payer:     req.Payer,
			Recipient: req.Recipient,
			Amount:    req.Amount,
			Memo:      req.Memo,
		})
		if err != nil {
			logger.Error("failed to start payment workflow", "payer", req.Payer, "recipient", req.Recipient, "error", err)
			writeError(w, "failed to start payment", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, map[string]string{
			"workflow_id": id,
			"status":      "accepted",
		}, http.StatusAccepted)
	})
}

// handleGetPayment returns a handler that retrieves a payment with its
// settlement transfers. Terminal payments are served from pc when set.
// GET /api/v1/payments/{id}
func handleGetPayment(store Store, pc *cache.PaymentCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if pc != nil {
			if d, ok := pc.Get(r.Context(), id); ok {
				writeJSON(w, d, http.StatusOK)
				return
			}
		}

		p, err := store.GetPayment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		transfers, err := store.ListSettlementTransfers(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if transfers == nil {
			transfers = []ledger.SettlementTransfer{}
		}

		d := &cache.PaymentDetail{Payment: *p, Transfers: transfers}
		if pc != nil {
			pc.Put(r.Context(), d)
		}
		writeJSON(w, d, http.StatusOK)
	})
}

// handleHealth returns a handler that reports whether the ledger is
// reachable.
// GET /health
func handleHealth(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", "error", err)
			writeJSON(w, map[string]string{"status": "unavailable", "version": Version}, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]string{"status": "ok", "version": Version}, http.StatusOK)
	})
}

// decodeJSON reads a size-limited JSON body into v. It writes the 400
// response itself and reports false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v interface{}) bool {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// validateParties checks two account ids of a request.
func validateParties(w http.ResponseWriter, fromField, from, toField, to string) bool {
	if err := validateAccountID(from); err != nil {
		writeValidationError(w, fromField, err.Error())
		return false
	}
	if err := validateAccountID(to); err != nil {
		writeValidationError(w, toField, err.Error())
		return false
	}
	return true
}

// validateAccountID validates an account id for format and length.
func validateAccountID(id string) error {
	if id == "" {
		return errors.New("account id is required")
	}

	if len(id) > maxAccountIDLength {
		return fmt.Errorf("account id too long: maximum length is %d characters", maxAccountIDLength)
	}

	// Check for null bytes and control characters
	for _, r := range id {
		if r == 0 || unicode.IsControl(r) {
			return errors.New("invalid characters in account id: control characters not allowed")
		}
	}

	if !validAccountIDRegex.MatchString(id) {
		return errors.New("invalid account id: use letters, digits, '_', '-' or '@'")
	}

	return nil
}

// writeServiceError maps a service error onto the error envelope and its
// status code. Only unexpected failures are logged at error level.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *payment.ValidationError
	var cerr *payment.CapacityError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr.Field, verr.Reason)
	case errors.As(err, &cerr):
		ms := cerr.MaxSendable
		writeJSON(w, errorResponse{Error: cerr.Error(), MaxSendable: &ms}, http.StatusUnprocessableEntity)
	case errors.Is(err, payment.ErrConcurrencyConflict):
		logger.Info("payment conflicted", "path", r.URL.Path, "error", err)
		writeError(w, "a concurrent payment used the same route, please retry", http.StatusConflict)
	case errors.Is(err, payment.ErrPaymentTerminal):
		writeError(w, "payment already terminal", http.StatusConflict)
	case errors.Is(err, ledger.ErrAccountExists):
		writeError(w, "account already exists", http.StatusConflict)
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, "account not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrPaymentNotFound):
		writeError(w, "payment not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("request abandoned", "path", r.URL.Path, "error", err)
		writeError(w, "request abandoned", http.StatusServiceUnavailable)
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		logger.Error("ledger unavailable", "path", r.URL.Path, "error", err)
		writeError(w, "ledger unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, errorResponse{Error: message}, statusCode)
}

// writeValidationError writes a 400 naming the offending field.
func writeValidationError(w http.ResponseWriter, field, reason string) {
	writeJSON(w, errorResponse{Error: reason, Field: field}, http.StatusBadRequest)
}
