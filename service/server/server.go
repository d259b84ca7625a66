package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/ripple/service/cache"
	"github.com/brojonat/ripple/service/ledger"
	"github.com/brojonat/ripple/service/metrics"
	natspkg "github.com/brojonat/ripple/service/nats"
	"github.com/brojonat/ripple/service/payment"
	"github.com/brojonat/ripple/service/routing"
	"github.com/brojonat/ripple/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Orchestrator is the payment surface the HTTP API exposes.
type Orchestrator interface {
	GetGraphSnapshot(ctx context.Context) (routing.GraphView, error)
	PreviewRoute(ctx context.Context, sender, recipient string) (routing.GraphView, error)
	GetMaxSendable(ctx context.Context, sender, recipient string) (*payment.MaxSendable, error)
	Pay(ctx context.Context, req payment.PayRequest) (*payment.PayResult, error)
}

// Store is the account, trust and history administration the HTTP API
// exposes. *db.Store and *payment.MemoryStore implement it.
type Store interface {
	CreateAccount(ctx context.Context, params ledger.CreateAccountParams) (*ledger.Account, error)
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	DeclareTrust(ctx context.Context, params ledger.DeclareTrustParams) (*ledger.TrustDeclaration, error)
	ListTrustDeclarations(ctx context.Context, accountID string) ([]ledger.TrustDeclaration, error)
	GetPayment(ctx context.Context, paymentID string) (*ledger.Payment, error)
	ListSettlementTransfers(ctx context.Context, paymentID string) ([]ledger.SettlementTransfer, error)
	ListPaymentsByAccount(ctx context.Context, accountID string, limit, offset int32) ([]ledger.Payment, error)
	Ping(ctx context.Context) error
}

// Version is reported by the health endpoint. It is set at build time.
var Version = "dev"

// Server represents the HTTP server for the payment service.
type Server struct {
	addr         string
	store        Store
	orchestrator Orchestrator
	starter      temporal.PaymentStarter
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server

	events      natspkg.EventStream
	payments    *cache.PaymentCache
	idempotency *cache.Idempotency

	// closing ends open SSE streams so Shutdown does not wait on them.
	closing   chan struct{}
	closeOnce sync.Once
}

// Option configures optional server features.
type Option func(*Server)

// WithEventStream enables the SSE payment streams.
func WithEventStream(es natspkg.EventStream) Option {
	return func(s *Server) { s.events = es }
}

// WithPaymentCache serves terminal payment details from c.
func WithPaymentCache(c *cache.PaymentCache) Option {
	return func(s *Server) { s.payments = c }
}

// WithIdempotency honours the Idempotency-Key header on payment requests.
func WithIdempotency(i *cache.Idempotency) Option {
	return func(s *Server) { s.idempotency = i }
}

// New creates a new HTTP server with the given dependencies.
// The starter is optional - if nil, the async payment endpoint answers 503.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, store Store, o Orchestrator, starter temporal.PaymentStarter, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:         addr,
		store:        store,
		orchestrator: o,
		starter:      starter,
		metrics:      m,
		logger:       logger.With("component", "http"),
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed, instrumented handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Routing and payments
	handle("GET /api/v1/graph", handleGetGraph(s.orchestrator, s.logger))
	handle("POST /api/v1/routes", handlePreviewRoute(s.orchestrator, s.logger))
	handle("GET /api/v1/accounts/{recipient}/max-sendable", handleGetMaxSendable(s.orchestrator, s.logger))
	handle("POST /api/v1/payments", idempotent(s.idempotency, "pay", s.logger, handlePay(s.orchestrator, s.logger)))
	handle("POST /api/v1/payments/async", idempotent(s.idempotency, "pay-async", s.logger, handlePayAsync(s.starter, s.logger)))
	handle("GET /api/v1/payments/{id}", handleGetPayment(s.store, s.payments, s.logger))

	// Accounts and trust
	handle("POST /api/v1/accounts", handleCreateAccount(s.store, s.logger))
	handle("GET /api/v1/accounts", handleListAccounts(s.store, s.logger))
	handle("GET /api/v1/accounts/{id}", handleGetAccount(s.store, s.logger))
	handle("GET /api/v1/accounts/{id}/payments", handleListAccountPayments(s.store, s.logger))
	handle("GET /api/v1/accounts/{id}/trust", handleListTrust(s.store, s.logger))
	handle("PUT /api/v1/trust", handleDeclareTrust(s.store, s.logger))

	// SSE payment streams
	handle("GET /api/v1/events", handleStreamPayments(s.events, s.store, s.closing, s.logger))
	handle("GET /api/v1/accounts/{id}/events", handleStreamPayments(s.events, s.store, s.closing, s.logger))

	// Health check endpoint
	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.server.RegisterOnShutdown(s.closeStreams)

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"metrics", s.metrics != nil,
		"async_payments", s.starter != nil,
		"events", s.events != nil,
		"payment_cache", s.payments != nil,
		"idempotency", s.idempotency != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.closeStreams()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
