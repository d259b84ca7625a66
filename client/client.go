// Package client is the HTTP client for the ripple payment service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/routing"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation matches a 400 answer.
	ErrValidation = errors.New("invalid request")
	// ErrCapacity matches a 422 answer; the APIError carries MaxSendable.
	ErrCapacity = errors.New("insufficient capacity")
	// ErrConflict matches a 409 answer.
	ErrConflict = errors.New("conflict")
	// ErrNotFound matches a 404 answer.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable matches a 503 answer.
	ErrUnavailable = errors.New("service unavailable")
)

// APIError is a non-2xx answer decoded from the server's error envelope.
type APIError struct {
	StatusCode  int
	Message     string
	Field       string
	MaxSendable *decimal.Decimal
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("request failed (%d): %s: %s", e.StatusCode, e.Field, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the package's sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnprocessableEntity:
		return ErrCapacity
	case http.StatusConflict:
		return ErrConflict
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	}
	return nil
}

// PayRequest asks the server to route a payment.
type PayRequest struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
}

// PayResult is a completed payment.
type PayResult struct {
	Payment   ledger.Payment              `json:"payment"`
	Transfers []ledger.SettlementTransfer `json:"transfers"`
	Paths     []routing.PathAllocation    `json:"paths"`
}

// PaymentDetail is a stored payment with its settlement transfers.
type PaymentDetail struct {
	Payment   ledger.Payment              `json:"payment"`
	Transfers []ledger.SettlementTransfer `json:"transfers"`
}

// MaxSendable is the most a sender can currently pay a recipient.
type MaxSendable struct {
	Amount    decimal.Decimal          `json:"amount"`
	Transfers []ledger.TransferDraft   `json:"transfers"`
	Paths     []routing.PathAllocation `json:"paths"`
}

// Health is the answer of the health endpoint.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Client is the HTTP client for the ripple payment service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new payment service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Graph returns the full trust graph.
func (c *Client) Graph(ctx context.Context) (*routing.GraphView, error) {
	var v routing.GraphView
	if err := c.do(ctx, "GET", "/api/v1/graph", nil, http.StatusOK, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// PreviewRoute returns the graph restricted to the candidate routes from
// sender to recipient.
func (c *Client) PreviewRoute(ctx context.Context, sender, recipient string) (*routing.GraphView, error) {
	body := map[string]string{"sender": sender, "recipient": recipient}
	var v routing.GraphView
	if err := c.do(ctx, "POST", "/api/v1/routes", body, http.StatusOK, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// MaxSendable returns the most sender can currently pay recipient.
func (c *Client) MaxSendable(ctx context.Context, sender, recipient string) (*MaxSendable, error) {
	path := fmt.Sprintf("/api/v1/accounts/%s/max-sendable?sender=%s", url.PathEscape(recipient), url.QueryEscape(sender))
	var ms MaxSendable
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &ms); err != nil {
		return nil, err
	}
	return &ms, nil
}

// Pay routes and settles a payment and waits for the outcome.
func (c *Client) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	var res PayResult
	if err := c.do(ctx, "POST", "/api/v1/payments", req, http.StatusCreated, &res); err != nil {
		return nil, err
	}
	c.logger.Debug("payment completed", "payment_id", res.Payment.ID, "transfers", len(res.Transfers))
	return &res, nil
}

// PayAsync starts a durable payment and returns its workflow ID.
func (c *Client) PayAsync(ctx context.Context, req PayRequest) (string, error) {
	var res struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := c.do(ctx, "POST", "/api/v1/payments/async", req, http.StatusAccepted, &res); err != nil {
		return "", err
	}
	c.logger.Debug("payment workflow started", "workflow_id", res.WorkflowID)
	return res.WorkflowID, nil
}

// GetPayment retrieves a payment with its settlement transfers.
func (c *Client) GetPayment(ctx context.Context, id string) (*PaymentDetail, error) {
	var d PaymentDetail
	if err := c.do(ctx, "GET", "/api/v1/payments/"+url.PathEscape(id), nil, http.StatusOK, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListPayments returns the payments an account sent or received, most
// recent first. A zero limit uses the server default.
func (c *Client) ListPayments(ctx context.Context, accountID string, limit, offset int) ([]ledger.Payment, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/accounts/" + url.PathEscape(accountID) + "/payments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res struct {
		Payments []ledger.Payment `json:"payments"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return res.Payments, nil
}

// CreateAccount registers a new account.
func (c *Client) CreateAccount(ctx context.Context, id, displayName string) (*ledger.Account, error) {
	body := map[string]string{"id": id, "display_name": displayName}
	var acc ledger.Account
	if err := c.do(ctx, "POST", "/api/v1/accounts", body, http.StatusCreated, &acc); err != nil {
		return nil, err
	}
	c.logger.Debug("account created", "account", acc.ID)
	return &acc, nil
}

// GetAccount retrieves one account.
func (c *Client) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	var acc ledger.Account
	if err := c.do(ctx, "GET", "/api/v1/accounts/"+url.PathEscape(id), nil, http.StatusOK, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListAccounts returns every account.
func (c *Client) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var res struct {
		Accounts []ledger.Account `json:"accounts"`
	}
	if err := c.do(ctx, "GET", "/api/v1/accounts", nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return res.Accounts, nil
}

// SetTrust creates or replaces the declaration of truster for trustee.
func (c *Client) SetTrust(ctx context.Context, truster, trustee string, limit decimal.Decimal) (*ledger.TrustDeclaration, error) {
	body := map[string]interface{}{"truster": truster, "trustee": trustee, "limit": limit}
	var d ledger.TrustDeclaration
	if err := c.do(ctx, "PUT", "/api/v1/trust", body, http.StatusOK, &d); err != nil {
		return nil, err
	}
	c.logger.Debug("trust declared", "truster", truster, "trustee", trustee, "limit", limit.String())
	return &d, nil
}

// ListTrust returns the declarations an account is part of.
func (c *Client) ListTrust(ctx context.Context, accountID string) ([]ledger.TrustDeclaration, error) {
	var res struct {
		Declarations []ledger.TrustDeclaration `json:"declarations"`
	}
	if err := c.do(ctx, "GET", "/api/v1/accounts/"+url.PathEscape(accountID)+"/trust", nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return res.Declarations, nil
}

// Health reports whether the server and its ledger are up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, "GET", "/health", nil, http.StatusOK, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// do sends a JSON request and decodes a JSON answer into out when the
// status is want.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse decodes the server's error envelope into an APIError.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error       string           `json:"error"`
		Field       string           `json:"field"`
		MaxSendable *decimal.Decimal `json:"max_sendable"`
	}

	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		apiErr.Message = string(body)
		return apiErr
	}
	apiErr.Message = errResp.Error
	apiErr.Field = errResp.Field
	apiErr.MaxSendable = errResp.MaxSendable
	c.logger.Debug("request rejected", "status", resp.StatusCode, "error", errResp.Error)
	return apiErr
}
