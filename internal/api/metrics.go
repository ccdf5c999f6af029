package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploadsTotal    prometheus.Counter
	exportsTotal    *prometheus.CounterVec
	queueEnqueued   *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetea_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetea_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetea_api_uploaded_files_total",
			Help: "Total files received by the import endpoint.",
		}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetea_api_exports_total",
			Help: "Total exports started, by mode.",
		}, []string{"mode"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetea_queue_exports_enqueued_total",
			Help: "Total export tasks enqueued for the worker.",
		}, []string{"queue"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.uploadsTotal,
		m.exportsTotal,
		m.queueEnqueued,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses ids so label cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case path == "/healthz" || path == "/metrics":
		return path
	case len(parts) < 2 || parts[0] != "v1":
		return "unmatched"
	}

	switch parts[1] {
	case "session", "selection", "settings", "view":
		if len(parts) == 2 {
			return path
		}
	case "items":
		switch len(parts) {
		case 2:
			return "/v1/items"
		case 3:
			return "/v1/items/{id}"
		case 4:
			if parts[3] == "preview" || parts[3] == "convert" {
				return "/v1/items/{id}/" + parts[3]
			}
		}
	case "exports":
		switch {
		case len(parts) == 2:
			return "/v1/exports"
		case len(parts) == 3 && parts[2] == "async":
			return "/v1/exports/async"
		case len(parts) == 3:
			return "/v1/exports/{id}"
		}
	case "versions":
		switch {
		case len(parts) == 2:
			return "/v1/versions"
		case len(parts) == 3 && parts[2] == "latest":
			return "/v1/versions/latest"
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
