package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value gathers reg and returns the counter or gauge value of the series
// of family name whose labels include every pair in labels.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, metric := range f.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue series
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("no series %s %v", name, labels)
	return 0
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPayment("completed", 0.1)
		m.RecordAllocation("pay", 3, 5)
		m.RecordCommitConflict()
		m.RecordNotification("success")
		m.RecordGraphBuild("pay", 3, 2)
		m.RecordWorkflowDuration("completed", 1)
		m.RecordActivityDuration("SettlePayment", 0.1, nil)
		m.RecordDBQuery("select", "payments", 0.01, errors.New("boom"))
		m.RecordHTTPRequest("/health", http.MethodGet, 200, 0.01)
		m.RecordNATSPublish("payments.bob", "success", 0.01)
		m.RecordCacheLookup("payment", "hit")
		m.TrackInFlight("/api/v1/events")()
	})
}

func TestRecordCacheLookup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCacheLookup("payment", "hit")
	m.RecordCacheLookup("payment", "hit")
	m.RecordCacheLookup("idempotency", "miss")

	assert.Equal(t, 2.0, value(t, reg, "cache_lookups_total", map[string]string{"cache": "payment", "result": "hit"}))
	assert.Equal(t, 1.0, value(t, reg, "cache_lookups_total", map[string]string{"cache": "idempotency", "result": "miss"}))
}

func TestRecordPayment(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPayment("completed", 0.2)
	m.RecordPayment("completed", 0.3)
	m.RecordPayment("capacity", 0.1)

	assert.Equal(t, 2.0, value(t, reg, "payments_total", map[string]string{"outcome": "completed"}))
	assert.Equal(t, 1.0, value(t, reg, "payments_total", map[string]string{"outcome": "capacity"}))
}

func TestRecordCommitConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordCommitConflict()
	assert.Equal(t, 1.0, value(t, reg, "settlement_commit_conflicts_total", nil))
}

func TestRecordGraphBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordGraphBuild("snapshot", 4, 7)
	assert.Equal(t, 4.0, value(t, reg, "trust_graph_nodes", map[string]string{"operation": "snapshot"}))
	assert.Equal(t, 7.0, value(t, reg, "trust_graph_edges", map[string]string{"operation": "snapshot"}))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := HTTPMetricsMiddleware(m, "/api/v1/payments")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 1.0, value(t, reg, "http_requests_total", map[string]string{
		"handler": "/api/v1/payments", "method": http.MethodPost, "status": "4xx",
	}))
}

func TestHTTPMetricsMiddleware_InFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	labels := map[string]string{"handler": "/api/v1/events"}

	var during float64
	h := HTTPMetricsMiddleware(m, "/api/v1/events")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = value(t, reg, "http_requests_in_flight", labels)
		w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	assert.Equal(t, 1.0, during)
	assert.Equal(t, 0.0, value(t, reg, "http_requests_in_flight", labels))
	assert.Equal(t, 1.0, value(t, reg, "http_requests_total", map[string]string{
		"handler": "/api/v1/events", "method": http.MethodGet, "status": "2xx",
	}))
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(201))
	assert.Equal(t, "3xx", statusCodeToString(304))
	assert.Equal(t, "4xx", statusCodeToString(409))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
