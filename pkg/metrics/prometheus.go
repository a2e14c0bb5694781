// Package metrics provides Prometheus metrics for the race event pipeline.
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

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Ingest & Detection Metrics
	updatesReceived  *prometheus.CounterVec
	updatesRejected  *prometheus.CounterVec
	eventsDetected   *prometheus.CounterVec
	eventsSuppressed *prometheus.CounterVec
	detectLatency    prometheus.Histogram

	// Batching Window Metrics
	windowMerges       *prometheus.CounterVec
	windowReplacements *prometheus.CounterVec
	windowForceFlushes prometheus.Counter
	windowPending      prometheus.Gauge

	// Scheduler Metrics
	schedulerEnqueues    *prometheus.CounterVec
	schedulerRejects     *prometheus.CounterVec
	schedulerDrops       *prometheus.CounterVec
	lateDispatches       *prometheus.CounterVec
	schedulerDepth       prometheus.Gauge
	schedulerCapacity    prometheus.Gauge
	schedulerUtilization prometheus.Gauge

	// Enrichment & Publication Metrics
	enrichmentLatency  prometheus.Histogram
	enrichmentTimeouts prometheus.Counter
	dispatchLatency    prometheus.Histogram
	eventsPublished    *prometheus.CounterVec
	publishErrors      prometheus.Counter
	sequenceViolations prometheus.Counter
	sinkRateLimited    *prometheus.CounterVec

	// Broadcast Metrics
	broadcastClients     prometheus.Gauge
	broadcastClientDrops prometheus.Counter

	// Snapshot Store Metrics
	activeSessions        prometheus.Gauge
	driversTracked        prometheus.Gauge
	storeShardCount       prometheus.Gauge
	storeSessionsPerShard *prometheus.GaugeVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "stint",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // metric inventory is long by nature
	auto := promauto.With(m.registry)

	m.updatesReceived = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "updates_received_total",
		Help:      "Raw feed updates accepted by the delta detector",
	}, []string{"kind"})

	m.updatesRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "updates_rejected_total",
		Help:      "Raw feed updates rejected before detection",
	}, []string{"kind", "reason"})

	m.eventsDetected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_detected_total",
		Help:      "Race events emitted by the delta detector",
	}, []string{"kind"})

	m.eventsSuppressed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_suppressed_total",
		Help:      "Updates that changed state without justifying an event",
	}, []string{"kind"})

	m.detectLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "detect_latency_milliseconds",
		Help:      "Histogram of delta detection latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.windowMerges = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "window_merges_total",
		Help:      "Events merged into a pending event of the same dedup key",
	}, []string{"kind"})

	m.windowReplacements = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "window_replacements_total",
		Help:      "Pending events superseded by a more significant arrival",
	}, []string{"kind"})

	m.windowForceFlushes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "window_force_flushes_total",
		Help:      "Pending events flushed early by a critical arrival",
	})

	m.windowPending = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "window_pending",
		Help:      "Events currently held in the batching window",
	})

	m.schedulerEnqueues = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_enqueues_total",
		Help:      "Events accepted by the priority scheduler",
	}, []string{"tier"})

	m.schedulerRejects = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_rejects_total",
		Help:      "Events refused by the scheduler",
	}, []string{"reason"})

	m.schedulerDrops = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_drops_total",
		Help:      "Expired low-tier events shed under the drop policy",
	}, []string{"tier"})

	m.lateDispatches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "late_dispatches_total",
		Help:      "Events dispatched after their latency budget elapsed",
	}, []string{"tier"})

	m.schedulerDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_depth",
		Help:      "Events currently queued in the scheduler",
	})

	m.schedulerCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_capacity",
		Help:      "Maximum scheduler queue size",
	})

	m.schedulerUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_utilization",
		Help:      "Scheduler queue utilization ratio",
	})

	m.enrichmentLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "enrichment_latency_milliseconds",
		Help:      "Histogram of historical context call latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.enrichmentTimeouts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "enrichment_timeouts_total",
		Help:      "Historical context calls abandoned on timeout or error",
	})

	m.dispatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dispatch_latency_milliseconds",
		Help:      "Histogram of enrich-and-publish latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.eventsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_published_total",
		Help:      "Enriched events handed to the sink",
	}, []string{"tier"})

	m.publishErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_errors_total",
		Help:      "Sink publish failures",
	})

	m.sequenceViolations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sequence_violations_total",
		Help:      "Sequence number collisions caught at dispatch (logic bugs)",
	})

	m.sinkRateLimited = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_rate_limited_total",
		Help:      "Events shed by the rate-limited sink wrapper",
	}, []string{"tier"})

	m.broadcastClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcast_clients",
		Help:      "Connected WebSocket subscribers",
	})

	m.broadcastClientDrops = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcast_client_drops_total",
		Help:      "Subscribers disconnected for not keeping up",
	})

	m.activeSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_sessions",
		Help:      "Open sessions in the snapshot store",
	})

	m.driversTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "drivers_tracked",
		Help:      "Driver snapshots held across all sessions",
	})

	m.storeShardCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_shard_count",
		Help:      "Snapshot store shard count",
	})

	m.storeSessionsPerShard = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_sessions_per_shard",
		Help:      "Sessions held per snapshot store shard",
	}, []string{"shard"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Histogram of HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_component_total",
		Help:      "Errors by component and type",
	}, []string{"component", "error_type"})

	m.errorRateByType = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_type_total",
		Help:      "Errors by type and severity",
	}, []string{"error_type", "severity"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_endpoint_total",
		Help:      "HTTP errors by endpoint, method and type",
	}, []string{"endpoint", "method", "error_type"})

	m.errorLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "error_latency_milliseconds",
		Help:      "Latency of operations that ended in an error",
		Buckets:   m.histogramBuckets,
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_bytes",
		Help:      "Allocated heap bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutines",
		Help:      "Live goroutine count",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_milliseconds",
		Help:      "Histogram of average GC pause time in milliseconds",
		Buckets:   m.histogramBuckets,
	})
}

// Ingest & Detection Metrics Functions.

// RecordUpdateReceived counts an accepted raw update.
func RecordUpdateReceived(kind string) {
	globalManager.updatesReceived.WithLabelValues(kind).Inc()
}

// RecordUpdateRejected counts a rejected raw update.
func RecordUpdateRejected(kind, reason string) {
	globalManager.updatesRejected.WithLabelValues(kind, reason).Inc()
}

// RecordEventDetected counts a detected race event.
func RecordEventDetected(kind string) {
	globalManager.eventsDetected.WithLabelValues(kind).Inc()
}

// RecordEventSuppressed counts an update absorbed without an event.
func RecordEventSuppressed(kind string) {
	globalManager.eventsSuppressed.WithLabelValues(kind).Inc()
}

// RecordDetectLatency records delta detection latency.
func RecordDetectLatency(latencyMs float64) {
	globalManager.detectLatency.Observe(latencyMs)
}

// Batching Window Metrics Functions.

// RecordWindowMerge counts a merge into a pending event.
func RecordWindowMerge(kind string) {
	globalManager.windowMerges.WithLabelValues(kind).Inc()
}

// RecordWindowReplace counts a pending event being superseded.
func RecordWindowReplace(kind string) {
	globalManager.windowReplacements.WithLabelValues(kind).Inc()
}

// RecordWindowForceFlush counts a critical-arrival force flush.
func RecordWindowForceFlush() {
	globalManager.windowForceFlushes.Inc()
}

// UpdateWindowPending sets the number of batched events held.
func UpdateWindowPending(n int) {
	globalManager.windowPending.Set(float64(n))
}

// Scheduler Metrics Functions.

// RecordSchedulerEnqueue counts an accepted scheduled event.
func RecordSchedulerEnqueue(tier string) {
	globalManager.schedulerEnqueues.WithLabelValues(tier).Inc()
}

// RecordSchedulerReject counts a refused event.
func RecordSchedulerReject(reason string) {
	globalManager.schedulerRejects.WithLabelValues(reason).Inc()
}

// RecordSchedulerDrop counts a shed low-tier event.
func RecordSchedulerDrop(tier string) {
	globalManager.schedulerDrops.WithLabelValues(tier).Inc()
}

// RecordLateDispatch counts an event dispatched past its deadline.
func RecordLateDispatch(tier string) {
	globalManager.lateDispatches.WithLabelValues(tier).Inc()
}

// UpdateSchedulerDepth sets the current queue depth.
func UpdateSchedulerDepth(n int) {
	globalManager.schedulerDepth.Set(float64(n))
}

// UpdateSchedulerCapacity sets the queue capacity.
func UpdateSchedulerCapacity(n int) {
	globalManager.schedulerCapacity.Set(float64(n))
}

// UpdateSchedulerUtilization sets the queue utilization ratio.
func UpdateSchedulerUtilization(ratio float64) {
	globalManager.schedulerUtilization.Set(ratio)
}

// Enrichment & Publication Metrics Functions.

// RecordEnrichmentLatency records historical context call latency.
func RecordEnrichmentLatency(latencyMs float64) {
	globalManager.enrichmentLatency.Observe(latencyMs)
}

// RecordEnrichmentTimeout counts an abandoned historical context call.
func RecordEnrichmentTimeout() {
	globalManager.enrichmentTimeouts.Inc()
}

// RecordDispatchLatency records enrich-and-publish latency.
func RecordDispatchLatency(latencyMs float64) {
	globalManager.dispatchLatency.Observe(latencyMs)
}

// RecordEventPublished counts an event handed to the sink.
func RecordEventPublished(tier string) {
	globalManager.eventsPublished.WithLabelValues(tier).Inc()
}

// RecordPublishError counts a sink publish failure.
func RecordPublishError() {
	globalManager.publishErrors.Inc()
}

// RecordSequenceViolation counts a sequence collision caught at dispatch.
func RecordSequenceViolation() {
	globalManager.sequenceViolations.Inc()
}

// RecordSinkRateLimited counts an event shed by the rate limiter.
func RecordSinkRateLimited(tier string) {
	globalManager.sinkRateLimited.WithLabelValues(tier).Inc()
}

// Broadcast Metrics Functions.

// UpdateBroadcastClients sets the connected subscriber count.
func UpdateBroadcastClients(n int) {
	globalManager.broadcastClients.Set(float64(n))
}

// RecordBroadcastClientDrop counts a slow subscriber disconnect.
func RecordBroadcastClientDrop() {
	globalManager.broadcastClientDrops.Inc()
}

// Snapshot Store Metrics Functions.

// UpdateActiveSessions sets the open session count.
func UpdateActiveSessions(n int) {
	globalManager.activeSessions.Set(float64(n))
}

// UpdateDriversTracked sets the tracked driver count.
func UpdateDriversTracked(n int) {
	globalManager.driversTracked.Set(float64(n))
}

// UpdateStoreShardCount sets the snapshot store shard count.
func UpdateStoreShardCount(n int) {
	globalManager.storeShardCount.Set(float64(n))
}

// UpdateStoreSessionsPerShard sets the sessions held by one shard.
func UpdateStoreSessionsPerShard(shardID string, n int) {
	globalManager.storeSessionsPerShard.WithLabelValues(shardID).Set(float64(n))
}

// HTTP Performance Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that errored.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the live goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
