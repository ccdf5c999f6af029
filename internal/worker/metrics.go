package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	exportsTotal         *prometheus.CounterVec
	exportDuration       *prometheus.HistogramVec
	activeExports        prometheus.Gauge
	itemsPackedTotal     prometheus.Counter
	itemsSkippedTotal    prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	bytesInTotal         prometheus.Counter
	bytesOutTotal        prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetea_worker_exports_total",
			Help: "Total export tasks by final status.",
		}, []string{"status"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetea_worker_export_duration_seconds",
			Help:    "Processing duration for each export task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeExports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagetea_worker_active_exports",
			Help: "Current number of exports being packed.",
		}),
		itemsPackedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetea_worker_items_packed_total",
			Help: "Total converted items written into export bundles.",
		}),
		itemsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetea_worker_items_skipped_total",
			Help: "Total items left out of export bundles.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetea_worker_pixels_processed_total",
			Help: "Total output pixels across packed items.",
		}),
		bytesInTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetea_worker_bytes_in_total",
			Help: "Total source bytes of packed items.",
		}),
		bytesOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetea_worker_bytes_out_total",
			Help: "Total converted bytes of packed items.",
		}),
	}

	registry.MustRegister(
		m.exportsTotal,
		m.exportDuration,
		m.activeExports,
		m.itemsPackedTotal,
		m.itemsSkippedTotal,
		m.pixelsProcessedTotal,
		m.bytesInTotal,
		m.bytesOutTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
