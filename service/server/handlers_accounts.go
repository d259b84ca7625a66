package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/shopspring/decimal"
)

const maxDisplayNameLength = 100

// handleCreateAccount returns a handler that registers a new account.
// POST /api/v1/accounts
func handleCreateAccount(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		}
		if !decodeJSON(w, r, logger, &req) {
			return
		}
		if err := validateAccountID(req.ID); err != nil {
			writeValidationError(w, "id", err.Error())
			return
		}
		if len(req.DisplayName) > maxDisplayNameLength {
			writeValidationError(w, "display_name", fmt.Sprintf("display name too long: maximum length is %d characters", maxDisplayNameLength))
			return
		}
		req.DisplayName = sanitizeText(req.DisplayName)
		if req.DisplayName == "" {
			req.DisplayName = req.ID
		}

		acc, err := store.CreateAccount(r.Context(), ledger.CreateAccountParams{ID: req.ID, DisplayName: req.DisplayName})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		logger.Info("account created", "account", acc.ID)
		writeJSON(w, acc, http.StatusCreated)
	})
}

// handleListAccounts returns a handler that lists every account.
// GET /api/v1/accounts
func handleListAccounts(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accs, err := store.ListAccounts(r.Context())
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if accs == nil {
			accs = []ledger.Account{}
		}
		writeJSON(w, map[string]interface{}{
			"accounts": accs,
			"count":    len(accs),
		}, http.StatusOK)
	})
}

// handleGetAccount returns a handler that retrieves one account.
// GET /api/v1/accounts/{id}
func handleGetAccount(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := store.GetAccount(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, acc, http.StatusOK)
	})
}

// handleListAccountPayments returns a handler that lists the payments an
// account sent or received.
// GET /api/v1/accounts/{id}/payments?limit=N&offset=N
func handleListAccountPayments(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		query := r.URL.Query()

		// Parse limit (default 50, max 500)
		limit := int32(50)
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeValidationError(w, "limit", "invalid limit parameter: must be an integer")
				return
			}
			if parsed < 1 || parsed > 500 {
				writeValidationError(w, "limit", "limit must be between 1 and 500")
				return
			}
			limit = int32(parsed)
		}

		// Parse offset (default 0)
		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			parsed, err := strconv.Atoi(offsetStr)
			if err != nil {
				writeValidationError(w, "offset", "invalid offset parameter: must be an integer")
				return
			}
			if parsed < 0 {
				writeValidationError(w, "offset", "offset cannot be negative")
				return
			}
			offset = int32(parsed)
		}

		if _, err := store.GetAccount(r.Context(), id); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		payments, err := store.ListPaymentsByAccount(r.Context(), id, limit, offset)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if payments == nil {
			payments = []ledger.Payment{}
		}

		logger.Debug("payments listed", "account", id, "count", len(payments))
		writeJSON(w, map[string]interface{}{
			"payments": payments,
			"count":    len(payments),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// handleDeclareTrust returns a handler that creates or replaces a trust
// declaration.
// PUT /api/v1/trust
func handleDeclareTrust(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Truster string          `json:"truster"`
			Trustee string          `json:"trustee"`
			Limit   decimal.Decimal `json:"limit"`
		}
		if !decodeJSON(w, r, logger, &req) {
			return
		}
		if !validateParties(w, "truster", req.Truster, "trustee", req.Trustee) {
			return
		}
		if req.Truster == req.Trustee {
			writeValidationError(w, "trustee", "an account cannot trust itself")
			return
		}
		if req.Limit.IsNegative() {
			writeValidationError(w, "limit", "limit cannot be negative")
			return
		}

		d, err := store.DeclareTrust(r.Context(), ledger.DeclareTrustParams{
			Truster: req.Truster,
			Trustee: req.Trustee,
			Limit:   req.Limit,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		logger.Info("trust declared", "truster", d.Truster, "trustee", d.Trustee, "limit", d.Limit.String())
		writeJSON(w, d, http.StatusOK)
	})
}

// handleListTrust returns a handler that lists the declarations an account
// is part of.
// GET /api/v1/accounts/{id}/trust
func handleListTrust(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := store.GetAccount(r.Context(), id); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		decls, err := store.ListTrustDeclarations(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if decls == nil {
			decls = []ledger.TrustDeclaration{}
		}
		writeJSON(w, map[string]interface{}{
			"declarations": decls,
			"count":        len(decls),
		}, http.StatusOK)
	})
}
