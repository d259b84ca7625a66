package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/payment"
	"github.com/brojonat/ripple/service/server"
	"github.com/brojonat/ripple/service/temporal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestServer serves the real API over a memory store holding A, B and C
// with B trusting A for 10 and C trusting B for 5.
func newTestServer(t *testing.T) (*Client, *payment.MemoryStore) {
	t.Helper()

	s := payment.NewMemoryStore()
	s.AddAccount("A", "alice")
	s.AddAccount("B", "bob")
	s.AddAccount("C", "carol")
	s.SetTrust("B", "A", dec("10"))
	s.SetTrust("C", "B", dec("5"))

	o := payment.NewOrchestrator(s, s, nil, payment.DefaultConfig(), nil, nil)
	srv := httptest.NewServer(server.New(":0", s, o, temporal.NewMockStarter(), nil, nil).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, nil, nil), s
}

func TestPay_RoundTrip(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	res, err := c.Pay(ctx, PayRequest{Payer: "A", Recipient: "C", Amount: dec("4"), Memo: "rent"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, res.Payment.Status)
	require.Len(t, res.Transfers, 2)

	detail, err := c.GetPayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "rent", detail.Payment.Memo)
	assert.Len(t, detail.Transfers, 2)

	history, err := c.ListPayments(ctx, "C", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Payment.ID, history[0].ID)

	ms, err := c.MaxSendable(ctx, "A", "C")
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(ms.Amount))
}

func TestPay_CapacityError(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Pay(context.Background(), PayRequest{Payer: "A", Recipient: "C", Amount: dec("8")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacity))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.NotNil(t, apiErr.MaxSendable)
	assert.True(t, dec("5").Equal(*apiErr.MaxSendable))
}

func TestPay_ValidationError(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Pay(context.Background(), PayRequest{Payer: "A", Recipient: "A", Amount: dec("1")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "recipient", apiErr.Field)
	assert.Equal(t, "you cannot send to yourself", apiErr.Message)
}

func TestPayAsync(t *testing.T) {
	c, _ := newTestServer(t)

	id, err := c.PayAsync(context.Background(), PayRequest{Payer: "A", Recipient: "C", Amount: dec("1")})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestAccountsAndTrust(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	acc, err := c.CreateAccount(ctx, "D", "dave")
	require.NoError(t, err)
	assert.Equal(t, "dave", acc.DisplayName)

	_, err = c.CreateAccount(ctx, "D", "again")
	assert.True(t, errors.Is(err, ErrConflict))

	got, err := c.GetAccount(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, "D", got.ID)

	_, err = c.GetAccount(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))

	accs, err := c.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accs, 4)

	d, err := c.SetTrust(ctx, "D", "C", dec("2.5"))
	require.NoError(t, err)
	assert.True(t, dec("2.5").Equal(d.Limit))

	decls, err := c.ListTrust(ctx, "D")
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "C", decls[0].Trustee)

	ms, err := c.MaxSendable(ctx, "A", "D")
	require.NoError(t, err)
	assert.True(t, dec("2.5").Equal(ms.Amount))
}

func TestGraphAndRoute(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	g, err := c.Graph(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	assert.Len(t, g.Edges, 2)

	r, err := c.PreviewRoute(ctx, "A", "C")
	require.NoError(t, err)
	assert.Len(t, r.Nodes, 3)
}

func TestHealth(t *testing.T) {
	c, s := newTestServer(t)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	s.LoadErr = ledger.ErrLedgerUnavailable
	_, err = c.Health(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.ListAccounts(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Nil(t, apiErr.Unwrap())
}

func TestMaxSendable_EscapesParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/accounts/bob@home/max-sendable", r.URL.Path)
		assert.Equal(t, "alice@home", r.URL.Query().Get("sender"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"amount": "3", "transfers": []interface{}{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	ms, err := c.MaxSendable(context.Background(), "alice@home", "bob@home")
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(ms.Amount))
}
