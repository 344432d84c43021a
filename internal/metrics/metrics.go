package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	submissions       *prometheus.CounterVec
	scores            *prometheus.HistogramVec
	failOpen          prometheus.Counter
	notifyDropped     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escuela_submissions_total",
			Help: "Graded submissions by grading mode and pass/fail outcome.",
		}, []string{"mode", "outcome"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escuela_submission_score",
			Help:    "Distribution of final scores on the 0-10 scale.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}, []string{"mode"}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escuela_submissions_fail_open_total",
			Help: "Submissions marked complete without a score after a grading error.",
		}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escuela_notifications_dropped_total",
			Help: "Teacher notifications rejected by a full or closed queue.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.submissions,
		m.scores,
		m.failOpen,
		m.notifyDropped,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Submission records a graded attempt.
func (m *Metrics) Submission(mode string, passed bool, score float64) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.submissions.WithLabelValues(mode, outcome).Inc()
	m.scores.WithLabelValues(mode).Observe(score)
}

func (m *Metrics) FailOpen() {
	if m == nil {
		return
	}
	m.failOpen.Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}
