package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brojonat/ripple/service/ledger"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func detail(status ledger.PaymentStatus) *PaymentDetail {
	return &PaymentDetail{
		Payment: ledger.Payment{
			ID:        "p1",
			Payer:     "A",
			Recipient: "C",
			Amount:    decimal.RequireFromString("2.5"),
			Status:    status,
		},
		Transfers: []ledger.SettlementTransfer{
			{ID: "t1", PaymentID: "p1", Payer: "A", Recipient: "B", Amount: decimal.RequireFromString("2.5")},
			{ID: "t2", PaymentID: "p1", Payer: "B", Recipient: "C", Amount: decimal.RequireFromString("2.5")},
		},
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0", nil)
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Connect(context.Background(), "not-a-url", nil)
	assert.Error(t, err)
}

func TestPaymentCache_TerminalRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewPaymentCache(rdb, time.Minute, nil, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "p1")
	assert.False(t, ok)

	c.Put(ctx, detail(ledger.StatusCompleted))

	got, ok := c.Get(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusCompleted, got.Payment.Status)
	assert.True(t, decimal.RequireFromString("2.5").Equal(got.Payment.Amount))
	assert.Len(t, got.Transfers, 2)

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "p1")
	assert.False(t, ok)
}

func TestPaymentCache_SkipsPending(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewPaymentCache(rdb, 0, nil, nil)

	c.Put(context.Background(), detail(ledger.StatusPending))
	assert.False(t, mr.Exists(paymentKey("p1")))
}

func TestPaymentCache_CorruptEntryIsMiss(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewPaymentCache(rdb, 0, nil, nil)

	require.NoError(t, mr.Set(paymentKey("p1"), "{not json"))
	_, ok := c.Get(context.Background(), "p1")
	assert.False(t, ok)
}

func TestPaymentCache_RedisDownIsMiss(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewPaymentCache(rdb, 0, nil, nil)
	mr.Close()

	assert.NotPanics(t, func() { c.Put(context.Background(), detail(ledger.StatusFailed)) })
	_, ok := c.Get(context.Background(), "p1")
	assert.False(t, ok)
}

func TestIdempotency_Lifecycle(t *testing.T) {
	mr, rdb := newTestRedis(t)
	i := NewIdempotency(rdb, time.Hour, nil, nil)
	ctx := context.Background()
	fp := Fingerprint([]byte(`{"amount":"1"}`))

	resp, err := i.Begin(ctx, "pay", "k1", fp)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, pendingTTL, mr.TTL(idempotencyKey("pay", "k1")))

	_, err = i.Begin(ctx, "pay", "k1", fp)
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, i.Complete(ctx, "pay", "k1", fp, Response{StatusCode: 201, Body: []byte(`{"ok":true}`)}))
	assert.Equal(t, time.Hour, mr.TTL(idempotencyKey("pay", "k1")))

	resp, err = i.Begin(ctx, "pay", "k1", fp)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))

	_, err = i.Begin(ctx, "pay", "k1", Fingerprint([]byte(`{"amount":"2"}`)))
	assert.ErrorIs(t, err, ErrKeyReused)
}

func TestIdempotency_ScopesAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)
	i := NewIdempotency(rdb, 0, nil, nil)
	ctx := context.Background()

	resp, err := i.Begin(ctx, "pay", "k1", "fp")
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = i.Begin(ctx, "pay-async", "k1", "fp")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestIdempotency_ReleaseAllowsRetry(t *testing.T) {
	_, rdb := newTestRedis(t)
	i := NewIdempotency(rdb, 0, nil, nil)
	ctx := context.Background()

	_, err := i.Begin(ctx, "pay", "k1", "fp")
	require.NoError(t, err)
	require.NoError(t, i.Release(ctx, "pay", "k1"))

	resp, err := i.Begin(ctx, "pay", "k1", "fp")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestIdempotency_PendingKeyExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	i := NewIdempotency(rdb, 0, nil, nil)
	ctx := context.Background()

	_, err := i.Begin(ctx, "pay", "k1", "fp")
	require.NoError(t, err)

	mr.FastForward(pendingTTL + time.Second)

	resp, err := i.Begin(ctx, "pay", "k1", "fp")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestIdempotency_RedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	i := NewIdempotency(rdb, 0, nil, nil)
	mr.Close()

	_, err := i.Begin(context.Background(), "pay", "k1", "fp")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInProgress)
}
