// metrics.go - Prometheus collectors and the /metrics handler.

// Package metrics defines the Prometheus collectors. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quickdrop"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	objectsServed *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	uploadBytes   prometheus.Counter

	gcRuns           *prometheus.CounterVec
	gcScanned        prometheus.Counter
	gcDeleted        prometheus.Counter
	gcDeleteFailures prometheus.Counter
	gcDuration       prometheus.Histogram
	breakerState     prometheus.Gauge
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by status code.",
		}, []string{"code"}),
		objectsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "objects_served_total",
			Help: "Object lookups answered, by representation.",
		}, []string{"kind"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploads_total",
			Help: "Uploads by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "upload_bytes_total",
			Help: "Payload bytes written by successful uploads.",
		}),
		gcRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_runs_total",
			Help: "Collector runs by result.",
		}, []string{"result"}),
		gcScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_objects_scanned_total",
			Help: "Objects listed by the collector.",
		}),
		gcDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_objects_deleted_total",
			Help: "Expired objects deleted by the collector.",
		}),
		gcDeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_delete_failures_total",
			Help: "Expired objects the collector failed to delete.",
		}),
		gcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "gc_run_duration_seconds",
			Help:    "Collector run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "storage_breaker_open",
			Help: "1 while the storage circuit breaker is open.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.objectsServed, m.uploads, m.uploadBytes,
		m.gcRuns, m.gcScanned, m.gcDeleted, m.gcDeleteFailures, m.gcDuration,
		m.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordServed counts one answered lookup: raw, viewer or challenge.
func (m *Metrics) RecordServed(kind string) {
	if m == nil {
		return
	}
	m.objectsServed.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordUpload(bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.uploads.WithLabelValues("error").Inc()
		return
	}
	m.uploads.WithLabelValues("ok").Inc()
	m.uploadBytes.Add(float64(bytes))
}

// RecordGC records one collector run. result is ok, error or skipped.
func (m *Metrics) RecordGC(result string, scanned, deleted, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.gcRuns.WithLabelValues(result).Inc()
	m.gcScanned.Add(float64(scanned))
	m.gcDeleted.Add(float64(deleted))
	m.gcDeleteFailures.Add(float64(failed))
	if result != "skipped" {
		m.gcDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerState.Set(1)
	} else {
		m.breakerState.Set(0)
	}
}

// Serve runs a standalone metrics listener, for the collector binary.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
