package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Payment Metrics
	paymentsTotal        *prometheus.CounterVec
	paymentDuration      *prometheus.HistogramVec
	paymentAmount        *prometheus.HistogramVec
	pathsExamined        *prometheus.HistogramVec
	commitConflictsTotal prometheus.Counter
	notificationsTotal   *prometheus.CounterVec

	// Graph Metrics
	graphNodes      *prometheus.GaugeVec
	graphEdges      *prometheus.GaugeVec
	graphBuildTotal *prometheus.CounterVec

	// Workflow Metrics
	payWorkflowDuration        *prometheus.HistogramVec
	payWorkflowExecutionsTotal *prometheus.CounterVec
	payActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpInFlight        *prometheus.GaugeVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Cache Metrics
	cacheLookupsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Payment Metrics
		paymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_total",
				Help: "Total number of payment attempts by outcome",
			},
			[]string{"outcome"},
		),
		paymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_duration_seconds",
				Help:    "Duration of a payment from validation to terminal state",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"outcome"},
		),
		paymentAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_allocated_amount",
				Help:    "Amount allocated across routes per routing run",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000},
			},
			[]string{"operation"},
		),
		pathsExamined: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routing_paths_examined",
				Help:    "Number of candidate paths read by the allocator per routing run",
				Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation"},
		),
		commitConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "settlement_commit_conflicts_total",
				Help: "Total number of settlement commits aborted because capacity was consumed",
			},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_notifications_total",
				Help: "Total number of recipient notifications by status",
			},
			[]string{"status"},
		),

		// Graph Metrics
		graphNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trust_graph_nodes",
				Help: "Number of nodes in the most recently built trust graph",
			},
			[]string{"operation"},
		),
		graphEdges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trust_graph_edges",
				Help: "Number of edges in the most recently built trust graph",
			},
			[]string{"operation"},
		),
		graphBuildTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_graph_builds_total",
				Help: "Total number of trust graph builds",
			},
			[]string{"operation"},
		),

		// Workflow Metrics
		payWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pay_workflow_duration_seconds",
				Help:    "Duration of pay workflow execution in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		payWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pay_workflow_executions_total",
				Help: "Total number of pay workflow executions",
			},
			[]string{"status"},
		),
		payActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pay_activity_duration_seconds",
				Help:    "Duration of pay workflow activities in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		httpInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Requests being served, including open event streams",
			},
			[]string{"handler"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),

		// Cache Metrics
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Total number of Redis cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
	}
}

// Payment metric helpers

// RecordPayment records a payment reaching a terminal outcome
// ("completed", "validation", "capacity", "conflict", "ledger").
func (m *Metrics) RecordPayment(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(outcome).Inc()
	m.paymentDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordAllocation records one allocator run.
func (m *Metrics) RecordAllocation(operation string, examined int, total float64) {
	if m == nil {
		return
	}
	m.pathsExamined.WithLabelValues(operation).Observe(float64(examined))
	m.paymentAmount.WithLabelValues(operation).Observe(total)
}

// RecordCommitConflict records a settlement commit that lost a race.
func (m *Metrics) RecordCommitConflict() {
	if m == nil {
		return
	}
	m.commitConflictsTotal.Inc()
}

// RecordNotification records a recipient notification attempt.
func (m *Metrics) RecordNotification(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

// Graph metric helpers

// RecordGraphBuild records the size of a freshly built graph.
func (m *Metrics) RecordGraphBuild(operation string, nodes, edges int) {
	if m == nil {
		return
	}
	m.graphBuildTotal.WithLabelValues(operation).Inc()
	m.graphNodes.WithLabelValues(operation).Set(float64(nodes))
	m.graphEdges.WithLabelValues(operation).Set(float64(edges))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	if m == nil {
		return
	}
	m.payWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.payWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	if m == nil {
		return
	}
	m.payActivityDuration.WithLabelValues(activity, errStatus(err)).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// TrackInFlight counts a request to handler as in flight until the
// returned func is called.
func (m *Metrics) TrackInFlight(handler string) func() {
	if m == nil {
		return func() {}
	}
	g := m.httpInFlight.WithLabelValues(handler)
	g.Inc()
	return g.Dec
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Cache metric helpers

// RecordCacheLookup records a lookup in cache ("payment", "idempotency")
// with result "hit", "miss" or "error".
func (m *Metrics) RecordCacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
