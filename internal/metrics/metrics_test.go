package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsEndpointExposesCounters(t *testing.T) {
	m := New()
	m.Submission("zones", true, 8.5)
	m.Submission("zones", false, 3)
	m.FailOpen()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/ping/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping/7")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`escuela_submissions_total{mode="zones",outcome="passed"} 1`,
		`escuela_submissions_total{mode="zones",outcome="failed"} 1`,
		`escuela_submissions_fail_open_total 1`,
		`http_requests_total{route="/ping/{id}",status="418"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Submission("model", true, 10)
	m.FailOpen()
	m.NotificationDropped()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
