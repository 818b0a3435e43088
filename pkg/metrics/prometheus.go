// Package metrics provides Prometheus metrics for the watchq service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Delivery paths for RecordEventDelivered.
const (
	PathDirect   = "direct"
	PathBuffered = "buffered"
)

// Manager manages all Prometheus metrics for the watchq service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Adapter metrics
	eventsReceived   prometheus.Counter
	eventsDelivered  *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	eventsDiscarded  prometheus.Counter
	bufferedEvents   prometheus.Gauge
	waiters          prometheus.Gauge
	activeAdapters   prometheus.Gauge
	subscriptions    *prometheus.CounterVec
	terminations     *prometheus.CounterVec
	pullWaitDuration prometheus.Histogram

	// Worker metrics
	eventsProcessed         prometheus.Counter
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	streamClients       prometheus.Gauge

	errorRateByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "watchq",
		subsystem:        "adapter",
		histogramBuckets: prometheus.DefBuckets,
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

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsReceived = auto.NewCounter(m.counterOpts("events_received_total",
		"Total number of events pushed by sources while an adapter was active"))
	m.eventsDelivered = auto.NewCounterVec(m.counterOpts("events_delivered_total",
		"Total number of events handed to consumers, by delivery path"), []string{"path"})
	m.eventsDropped = auto.NewCounter(m.counterOpts("events_dropped_total",
		"Total number of buffered events dropped by the ignore overflow policy"))
	m.eventsDiscarded = auto.NewCounter(m.counterOpts("events_discarded_total",
		"Total number of events discarded by termination, buffered or arriving late"))
	m.bufferedEvents = auto.NewGauge(m.gaugeOpts("buffered_events",
		"Number of events currently buffered across all adapters"))
	m.waiters = auto.NewGauge(m.gaugeOpts("waiters",
		"Number of pulls currently parked across all adapters"))
	m.activeAdapters = auto.NewGauge(m.gaugeOpts("active_adapters",
		"Number of adapters that have not terminated"))
	m.subscriptions = auto.NewCounterVec(m.counterOpts("subscriptions_total",
		"Total number of source subscriptions, by outcome"), []string{"outcome"})
	m.terminations = auto.NewCounterVec(m.counterOpts("terminations_total",
		"Total number of adapter terminations, by reason"), []string{"reason"})
	m.pullWaitDuration = auto.NewHistogram(m.histogramOpts("pull_wait_milliseconds",
		"Time a pull spent parked before being resolved, in milliseconds"))

	m.eventsProcessed = auto.NewCounter(m.counterOpts("events_processed_total",
		"Total number of events handled successfully by workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Histogram of worker handler latency in milliseconds"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total",
		"Total number of handler errors seen by workers"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"Histogram of HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})
	m.streamClients = auto.NewGauge(m.gaugeOpts("stream_clients",
		"Number of connected event stream clients"))

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Total number of errors by component and type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes",
		"Current heap allocation in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines",
		"Current number of goroutines"))
}

// Adapter Metrics Functions.

// RecordEventReceived increments the received events counter.
func RecordEventReceived() {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsReceived.Inc()
}

// RecordEventDelivered increments the delivered counter for a delivery path.
func RecordEventDelivered(path string) {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsDelivered.WithLabelValues(path).Inc()
}

// RecordEventDropped increments the overflow drop counter.
func RecordEventDropped() {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsDropped.Inc()
}

// RecordEventsDiscarded adds n events dropped because their adapter was terminated.
func RecordEventsDiscarded(n int) {
	if !globalManager.enabled || n <= 0 {
		return
	}
	globalManager.eventsDiscarded.Add(float64(n))
}

// AddBufferedEvents adjusts the buffered events gauge by delta.
func AddBufferedEvents(delta int) {
	if !globalManager.enabled {
		return
	}
	globalManager.bufferedEvents.Add(float64(delta))
}

// AddWaiters adjusts the parked pulls gauge by delta.
func AddWaiters(delta int) {
	if !globalManager.enabled {
		return
	}
	globalManager.waiters.Add(float64(delta))
}

// AddActiveAdapters adjusts the active adapters gauge by delta.
func AddActiveAdapters(delta int) {
	if !globalManager.enabled {
		return
	}
	globalManager.activeAdapters.Add(float64(delta))
}

// RecordSubscription records a subscription attempt outcome ("opened" or "failed").
func RecordSubscription(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.subscriptions.WithLabelValues(outcome).Inc()
}

// RecordTermination records an adapter termination by reason.
func RecordTermination(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.terminations.WithLabelValues(reason).Inc()
}

// RecordPullWait records how long a parked pull waited, in milliseconds.
func RecordPullWait(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.pullWaitDuration.Observe(latencyMs)
}

// Worker Metrics Functions.

// RecordEventProcessed increments the events processed counter.
func RecordEventProcessed() {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsProcessed.Inc()
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if !globalManager.enabled {
		return
	}
	globalManager.workerErrors.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// AddStreamClients adjusts the connected stream clients gauge by delta.
func AddStreamClients(delta int) {
	if !globalManager.enabled {
		return
	}
	globalManager.streamClients.Add(float64(delta))
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RefreshInterval returns how often periodic gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
