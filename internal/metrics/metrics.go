// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetops_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_transitions_total",
			Help: "Lifecycle transitions attempted, by event and result.",
		},
		[]string{"event", "result"},
	)
	transitionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetops_transition_duration_seconds",
			Help:    "Lifecycle transition latency in seconds, lock wait included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)
	syncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_status_syncs_total",
			Help: "Vehicle status synchronizations, by verdict and result.",
		},
		[]string{"verdict", "result"},
	)
	documentAlerts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetops_document_alerts",
			Help: "Documents needing attention at the last scan, by level.",
		},
		[]string{"level"},
	)

	registerOnce sync.Once
)

// Register adds every instrument to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpLatency, transitions, transitionLatency, syncs, documentAlerts)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency labelled by the mux route template.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(lrw.statusCode)).Inc()
		httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveTransition records one orchestrator call.
func ObserveTransition(event, result string, d time.Duration) {
	transitions.WithLabelValues(event, result).Inc()
	transitionLatency.WithLabelValues(event).Observe(d.Seconds())
}

// IncSync records one synchronizer pass.
func IncSync(verdict, result string) {
	syncs.WithLabelValues(verdict, result).Inc()
}

// SetDocumentAlerts publishes the alert count of one level.
func SetDocumentAlerts(level string, n int) {
	documentAlerts.WithLabelValues(level).Set(float64(n))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
