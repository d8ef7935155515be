// Package metrics provides Prometheus metrics for the rubric sync engine.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// API client
	apiRequests        *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	apiRetries         prometheus.Counter
	apiInFlight        prometheus.Gauge

	// Quota
	quotaRemaining prometheus.Gauge
	quotaAvailable prometheus.Gauge
	quotaObserved  prometheus.Gauge

	// Parallel controller
	controllerRunning prometheus.Gauge
	taskSettlements   *prometheus.CounterVec

	// Ops HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge

	// Pipeline
	pipelineRuns    *prometheus.CounterVec
	pipelineRecords *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager atomic.Pointer[Manager] //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry atomic.Pointer[prometheus.Registry] //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	Init()
}

// Init replaces the global manager with one built from opts on a fresh
// private registry. Values recorded before the call are discarded.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	m := NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry.Store(registry)
	globalManager.Store(m)
}

// RefreshInterval returns how often system gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.Load().refreshInterval
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rubricsync",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one declaration per collector
	auto := promauto.With(m.registry)

	m.apiRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "api_requests_total",
		Help:        "Requests issued to the grading platform by endpoint kind, method and status",
		ConstLabels: m.customLabels,
	}, []string{"kind", "method", "status_code"})

	m.apiRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Name:        "api_request_duration_milliseconds",
		Help:        "Latency of platform requests in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"kind", "method"})

	m.apiRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "api_retries_total",
		Help:        "Backoff retries after transient platform errors",
		ConstLabels: m.customLabels,
	})

	m.apiInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "api_in_flight_requests",
		Help:        "Requests currently awaiting a response",
		ConstLabels: m.customLabels,
	})

	m.quotaRemaining = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "quota_remaining",
		Help:        "Locally tracked remaining request budget",
		ConstLabels: m.customLabels,
	})

	m.quotaAvailable = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "quota_available",
		Help:        "Estimated budget including linear recovery",
		ConstLabels: m.customLabels,
	})

	m.quotaObserved = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "quota_observed_max",
		Help:        "Largest remaining budget reported by the platform",
		ConstLabels: m.customLabels,
	})

	m.controllerRunning = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "controller_running_tasks",
		Help:        "Tasks currently dispatched by the parallel controller",
		ConstLabels: m.customLabels,
	})

	m.taskSettlements = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "task_settlements_total",
		Help:        "Task settlements by result (success, failed, retried)",
		ConstLabels: m.customLabels,
	}, []string{"result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "http_requests_total",
		Help:        "Requests served by the ops endpoint",
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Name:        "http_request_duration_milliseconds",
		Help:        "Latency of ops endpoint requests in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method"})

	m.memoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "system_memory_bytes",
		Help:        "Heap bytes allocated by the process",
		ConstLabels: m.customLabels,
	})

	m.goroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "system_goroutines",
		Help:        "Number of live goroutines",
		ConstLabels: m.customLabels,
	})

	m.pipelineRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "pipeline_runs_total",
		Help:        "Reconciliation runs by terminal status",
		ConstLabels: m.customLabels,
	}, []string{"status"})

	m.pipelineRecords = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "pipeline_records_total",
		Help:        "Records and updates by final state (updated, skipped, failed)",
		ConstLabels: m.customLabels,
	}, []string{"state"})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Name:        "stage_duration_milliseconds",
		Help:        "Wall time spent in each pipeline stage",
		Buckets:     []float64{10, 100, 500, 1000, 5000, 15000, 60000, 300000},
		ConstLabels: m.customLabels,
	}, []string{"stage"})
}

// RecordAPIRequest counts a finished platform request.
func RecordAPIRequest(kind, method, statusCode string) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.apiRequests.WithLabelValues(kind, method, statusCode).Inc()
}

// RecordAPIRequestDuration records request latency in milliseconds.
func RecordAPIRequestDuration(kind, method string, latencyMs float64) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.apiRequestDuration.WithLabelValues(kind, method).Observe(latencyMs)
}

// RecordAPIRetry increments the backoff retry counter.
func RecordAPIRetry() {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.apiRetries.Inc()
}

// UpdateAPIInFlight sets the number of outstanding requests.
func UpdateAPIInFlight(count int) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.apiInFlight.Set(float64(count))
}

// UpdateQuota publishes the tracker state.
func UpdateQuota(remaining, available, observedMax float64) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.quotaRemaining.Set(remaining)
	m.quotaAvailable.Set(available)
	m.quotaObserved.Set(observedMax)
}

// UpdateControllerRunning sets the number of dispatched controller tasks.
func UpdateControllerRunning(count int) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.controllerRunning.Set(float64(count))
}

// RecordTaskSettlement counts a controller settlement.
func RecordTaskSettlement(result string) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.taskSettlements.WithLabelValues(result).Inc()
}

// RecordPipelineRun counts a finished reconciliation run.
func RecordPipelineRun(status string) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.pipelineRuns.WithLabelValues(status).Inc()
}

// RecordPipelineRecords adds n to the given record state.
func RecordPipelineRecords(state string, n int) {
	m := globalManager.Load()
	if !m.enabled || n <= 0 {
		return
	}
	m.pipelineRecords.WithLabelValues(state).Add(float64(n))
}

// RecordStageDuration records how long a pipeline stage ran.
func RecordStageDuration(stage string, d time.Duration) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

// RecordHTTPRequest counts a request served by the ops endpoint.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records ops request latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method string, latencyMs float64) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.httpRequestDuration.WithLabelValues(endpoint, method).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.memoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	m := globalManager.Load()
	if !m.enabled {
		return
	}
	m.goroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry.Load()
}
