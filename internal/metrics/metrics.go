// Package metrics exports dispatch outcomes to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts operations by result and tracks their latency. It
// satisfies engine.MetricsRecorder.
type Recorder struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	lockConflicts prometheus.Counter
	retries       prometheus.Counter
}

// NewRecorder builds a recorder on its own registry, together with the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plenum",
			Name:      "operations_total",
			Help:      "Operations by name and result.",
		}, []string{"operation", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plenum",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plenum",
			Name:      "lock_conflicts_total",
			Help:      "Dispatches that failed with an optimistic lock conflict.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plenum",
			Name:      "dispatch_retries_total",
			Help:      "Dispatches repeated after a lock conflict.",
		}),
	}
	r.registry.MustRegister(
		r.operations,
		r.durations,
		r.lockConflicts,
		r.retries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records an operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// LockConflict counts one conflicting dispatch.
func (r *Recorder) LockConflict() { r.lockConflicts.Inc() }

// Retry counts one repeated dispatch.
func (r *Recorder) Retry() { r.retries.Inc() }

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
