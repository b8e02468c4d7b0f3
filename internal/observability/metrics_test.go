package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecisionCounter(t *testing.T) {
	m := NewMetrics()
	m.Decision("allowed")
	m.Decision("allowed")
	m.Decision("denied")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `gatewarden_decisions_total{outcome="allowed"} 2`) {
		t.Fatalf("allowed counter missing:\n%s", body)
	}
	if !strings.Contains(body, `gatewarden_decisions_total{outcome="denied"} 1`) {
		t.Fatalf("denied counter missing:\n%s", body)
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, metricsReq)

	if !strings.Contains(metricsRec.Body.String(), `code="418"`) {
		t.Fatalf("request status not recorded:\n%s", metricsRec.Body.String())
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Decision("allowed")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if m.Middleware(next) == nil {
		t.Fatal("nil metrics middleware should pass through")
	}
}
