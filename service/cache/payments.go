package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/metrics"
	"github.com/go-redis/redis/v8"
)

// DefaultPaymentTTL is how long a payment detail stays cached.
const DefaultPaymentTTL = 10 * time.Minute

// PaymentDetail is a payment with its settlement transfers.
type PaymentDetail struct {
	Payment   ledger.Payment              `json:"payment"`
	Transfers []ledger.SettlementTransfer `json:"transfers"`
}

// PaymentCache caches the details of terminal payments. A terminal payment
// and its transfers never change, so entries are never invalidated.
type PaymentCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPaymentCache returns a cache over rdb. A ttl <= 0 uses DefaultPaymentTTL.
func NewPaymentCache(rdb *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *PaymentCache {
	if ttl <= 0 {
		ttl = DefaultPaymentTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentCache{rdb: rdb, ttl: ttl, metrics: m, logger: logger.With("component", "payment_cache")}
}

func paymentKey(id string) string {
	return "ripple:payment:" + id
}

// Get returns the cached detail of payment id. Cache failures read as a miss.
func (c *PaymentCache) Get(ctx context.Context, id string) (*PaymentDetail, bool) {
	data, err := c.rdb.Get(ctx, paymentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheLookup("payment", "miss")
		return nil, false
	}
	if err != nil {
		c.metrics.RecordCacheLookup("payment", "error")
		c.logger.Warn("failed to read cached payment", "payment_id", id, "error", err)
		return nil, false
	}

	var d PaymentDetail
	if err := json.Unmarshal(data, &d); err != nil {
		c.metrics.RecordCacheLookup("payment", "error")
		c.logger.Warn("failed to unmarshal cached payment", "payment_id", id, "error", err)
		return nil, false
	}
	c.metrics.RecordCacheLookup("payment", "hit")
	return &d, true
}

// Put caches d when its payment is terminal. Pending payments are skipped.
func (c *PaymentCache) Put(ctx context.Context, d *PaymentDetail) {
	if !d.Payment.Status.Terminal() {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		c.logger.Warn("failed to marshal payment", "payment_id", d.Payment.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, paymentKey(d.Payment.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache payment", "payment_id", d.Payment.ID, "error", err)
	}
}
