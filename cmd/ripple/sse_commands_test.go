package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natspkg "github.com/brojonat/ripple/service/nats"
	"github.com/brojonat/ripple/service/payment"
	"github.com/brojonat/ripple/service/server"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStreamingServer is newTestServer with payment events enabled.
func newStreamingServer(t *testing.T) (string, *natspkg.MockPublisher) {
	t.Helper()

	s := payment.NewMemoryStore()
	s.AddAccount("A", "alice")
	s.AddAccount("B", "bob")
	s.AddAccount("C", "carol")
	s.SetTrust("B", "A", decimal.NewFromInt(10))
	s.SetTrust("C", "B", decimal.NewFromInt(5))

	pub := natspkg.NewMockPublisher()
	o := payment.NewOrchestrator(s, s, pub, payment.DefaultConfig(), nil, nil)
	srv := httptest.NewServer(server.New(":0", s, o, nil, nil, nil, server.WithEventStream(pub)).Handler())
	t.Cleanup(srv.Close)

	return srv.URL, pub
}

func TestEventsStreamCommand(t *testing.T) {
	url, pub := newStreamingServer(t)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	done := make(chan error, 1)
	go func() {
		done <- app.Run([]string{"ripple", "--server-url", url, "--json", "events", "stream", "--count", "1", "C"})
	}()

	require.Eventually(t, func() bool { return pub.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(url+"/api/v1/payments", "application/json", strings.NewReader(`{"payer":"A","recipient":"C","amount":"3","memo":"rent"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("events stream did not exit after one payment")
	}

	var event natspkg.PaymentEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &event))
	assert.Equal(t, "A", event.Payer)
	assert.Equal(t, "C", event.Recipient)
	assert.Equal(t, "rent", event.Memo)
	assert.Equal(t, 2, event.Transfers)
}

func TestEventsStreamCommand_UnknownAccount(t *testing.T) {
	url, _ := newStreamingServer(t)

	_, err := runApp(t, "--server-url", url, "events", "stream", "Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned status 404: account not found")
}

func TestEventsStreamCommand_Disabled(t *testing.T) {
	url, _, _ := newTestServer(t)

	_, err := runApp(t, "--server-url", url, "events", "stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
