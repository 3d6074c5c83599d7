// Package metrics collects Prometheus metrics for the HTTP layer, storage
// accounting and the object store.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloudkeeper"

type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	storageAdded   prometheus.Counter
	storageRemoved prometheus.Counter
	reconcileDrift prometheus.Histogram
	reconcileRuns  *prometheus.CounterVec

	objectStoreOps      *prometheus.CounterVec
	objectStoreDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storageAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_added_total",
			Help:      "Bytes added to user storage counters by uploads and duplicates.",
		}),
		storageRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_removed_total",
			Help:      "Bytes removed from user storage counters by deletes.",
		}),
		reconcileDrift: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "reconcile_drift_bytes",
			Help:      "Absolute counter drift corrected per reconciled user.",
			Buckets:   prometheus.ExponentialBuckets(1, 16, 8),
		}),
		reconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "reconcile_total",
			Help:      "Per-user reconciliations by outcome (clean, corrected, error).",
		}, []string{"outcome"}),
		objectStoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Object store operations by operation and status.",
		}, []string{"operation", "status"}),
		objectStoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "objectstore",
			Name:      "operation_duration_seconds",
			Help:      "Object store operation latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) StorageAdded(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.storageAdded.Add(float64(bytes))
}

func (m *Metrics) StorageRemoved(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.storageRemoved.Add(float64(bytes))
}

// Reconciled records one user reconciliation; err takes precedence over drift.
func (m *Metrics) Reconciled(drift int64, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.reconcileRuns.WithLabelValues("error").Inc()
	case drift == 0:
		m.reconcileRuns.WithLabelValues("clean").Inc()
	default:
		m.reconcileRuns.WithLabelValues("corrected").Inc()
		if drift < 0 {
			drift = -drift
		}
		m.reconcileDrift.Observe(float64(drift))
	}
}

func (m *Metrics) ObserveObjectStore(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.objectStoreOps.WithLabelValues(op, status).Inc()
	m.objectStoreDuration.WithLabelValues(op).Observe(d.Seconds())
}
