package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveFanOut("manager", 3, 1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "pawdesk_role_fanout_batches_total") {
		t.Fatalf("expected body to contain pawdesk_role_fanout_batches_total, got: %s", body)
	}
	if !strings.Contains(body, `pawdesk_role_fanout_users_total{outcome="succeeded",role="manager"} 3`) {
		t.Fatalf("expected succeeded counter, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequests(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	expose := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(expose, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(expose.Body.String(), "pawdesk_http_requests_total") {
		t.Fatalf("expected request counter in exposition, got: %s", expose.Body.String())
	}
}
