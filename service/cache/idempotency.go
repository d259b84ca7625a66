package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ripple/service/metrics"
	"github.com/go-redis/redis/v8"
)

// DefaultIdempotencyTTL is how long a finished response is replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// pendingTTL bounds how long a crashed request blocks its key.
const pendingTTL = 5 * time.Minute

var (
	// ErrInProgress is returned when a request with the same key is still
	// being handled.
	ErrInProgress = errors.New("a request with this idempotency key is in progress")

	// ErrKeyReused is returned when a key is presented with a different
	// request body.
	ErrKeyReused = errors.New("idempotency key was used with a different request")
)

// Response is a stored answer to an idempotent request.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

type record struct {
	Fingerprint string    `json:"fingerprint"`
	Done        bool      `json:"done"`
	Response    *Response `json:"response,omitempty"`
}

// Idempotency records the outcome of requests by client-chosen key so a
// retried request is answered without being executed twice.
type Idempotency struct {
	rdb     *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIdempotency returns a key store over rdb. A ttl <= 0 uses
// DefaultIdempotencyTTL.
func NewIdempotency(rdb *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Idempotency{rdb: rdb, ttl: ttl, metrics: m, logger: logger.With("component", "idempotency")}
}

func idempotencyKey(scope, key string) string {
	return "ripple:idempotency:" + scope + ":" + key
}

// Fingerprint identifies a request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims key within scope for a request with fingerprint. It returns
// a nil Response when the caller should execute the request, the stored
// Response when it already finished, ErrInProgress when it is still running
// and ErrKeyReused when the fingerprint differs.
func (i *Idempotency) Begin(ctx context.Context, scope, key, fingerprint string) (*Response, error) {
	k := idempotencyKey(scope, key)

	pending, err := json.Marshal(record{Fingerprint: fingerprint})
	if err != nil {
		return nil, err
	}
	claimed, err := i.rdb.SetNX(ctx, k, pending, pendingTTL).Result()
	if err != nil {
		i.metrics.RecordCacheLookup("idempotency", "error")
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		i.metrics.RecordCacheLookup("idempotency", "miss")
		return nil, nil
	}

	data, err := i.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET, claim again
		return i.Begin(ctx, scope, key, fingerprint)
	}
	if err != nil {
		i.metrics.RecordCacheLookup("idempotency", "error")
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	i.metrics.RecordCacheLookup("idempotency", "hit")

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	switch {
	case rec.Fingerprint != fingerprint:
		return nil, ErrKeyReused
	case !rec.Done || rec.Response == nil:
		return nil, ErrInProgress
	}
	return rec.Response, nil
}

// Complete stores resp as the answer of key.
func (i *Idempotency) Complete(ctx context.Context, scope, key, fingerprint string, resp Response) error {
	data, err := json.Marshal(record{Fingerprint: fingerprint, Done: true, Response: &resp})
	if err != nil {
		return err
	}
	if err := i.rdb.Set(ctx, idempotencyKey(scope, key), data, i.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

// Release forgets key so the request can be retried.
func (i *Idempotency) Release(ctx context.Context, scope, key string) error {
	if err := i.rdb.Del(ctx, idempotencyKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
