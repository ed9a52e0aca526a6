package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNilMetrics_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests()
	m.ObserveCycle(time.Second)
	m.IncRelayCall("upsert", "ok")
	m.SetCameras(3)
}

func TestRelayCalls_labelled(t *testing.T) {
	m := New()
	m.IncRelayCall("upsert", "ok")
	m.IncRelayCall("upsert", "ok")
	m.IncRelayCall("remove", "error")

	body := scrape(t, m)
	if !strings.Contains(body, `cb_relay_calls_total{op="upsert",outcome="ok"} 2`) {
		t.Errorf("missing upsert ok count:\n%s", body)
	}
	if !strings.Contains(body, `cb_relay_calls_total{op="remove",outcome="error"} 1`) {
		t.Errorf("missing remove error count:\n%s", body)
	}
}

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	for _, p := range []string{"/ok", "/bad", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	body := scrape(t, m)
	if !strings.Contains(body, "cb_http_requests_total 3") {
		t.Errorf("expected 3 requests:\n%s", body)
	}
	if !strings.Contains(body, "cb_http_errors_total 1") {
		t.Errorf("expected 1 error:\n%s", body)
	}
}

func TestHandler_runs_gauge_update(t *testing.T) {
	m := New()
	called := false
	rec := httptest.NewRecorder()
	m.Handler(func() {
		called = true
		m.SetPublicRooms(2)
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !called {
		t.Error("updateGauges not called")
	}
	if !strings.Contains(rec.Body.String(), "cb_public_rooms 2") {
		t.Errorf("scrape missing gauge value:\n%s", rec.Body.String())
	}
}

func TestObserveCycle(t *testing.T) {
	m := New()
	m.ObserveCycle(300 * time.Millisecond)
	body := scrape(t, m)
	if !strings.Contains(body, "cb_discovery_cycles_total 1") {
		t.Errorf("cycle not counted:\n%s", body)
	}
	if !strings.Contains(body, "cb_discovery_cycle_duration_seconds_count 1") {
		t.Errorf("duration not observed:\n%s", body)
	}
}
