// Package metrics provides Prometheus metrics for the shotlink pipeline.
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

// Delay buckets in milliseconds; shot to impact delays sit in the hundreds.
var delayBuckets = []float64{50, 100, 200, 300, 400, 450, 500, 550, 600, 700, 800, 1000, 1500, 2000} //nolint:gochecknoglobals // bucket layout

// Manager manages all Prometheus metrics for the shotlink service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Link Metrics - peripheral sessions
	framesReceived   *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	linkConnected    *prometheus.GaugeVec
	linkStale        *prometheus.GaugeVec
	linkRSSI         *prometheus.GaugeVec
	linkReconnects   *prometheus.CounterVec
	linkLost         *prometheus.CounterVec
	replaySuppressed prometheus.Counter

	// Detection Metrics
	impactsEmitted      *prometheus.CounterVec
	candidatesRejected  *prometheus.CounterVec
	candidatesAbandoned *prometheus.CounterVec
	calibrations        *prometheus.CounterVec
	impactMagnitude     prometheus.Histogram

	// Correlation Metrics
	matches          prometheus.Counter
	expired          *prometheus.CounterVec
	matchDelay       prometheus.Histogram
	modelMean        *prometheus.GaugeVec
	modelPersists    prometheus.Counter
	modelPersistErrs prometheus.Counter

	// Clock Metrics
	clockDrift          prometheus.Gauge
	clockQuality        prometheus.Gauge
	clockDriftAlerts    prometheus.Counter
	clockCorrections    prometheus.Counter
	clockCorrectionSize prometheus.Histogram
	clockReferences     prometheus.Gauge

	// Queue Metrics - outcome queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics - outcome publishers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter
	published               *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec

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
		namespace:        "shotlink",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// A disabled manager keeps live collectors on a registry nothing serves.
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	// Initialize metrics
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
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.customLabels}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Link
	m.framesReceived = auto.NewCounterVec(m.counterOpts("frames_received_total", "Frames received from peripherals by peripheral kind"), []string{"kind"})
	m.framesDropped = auto.NewCounterVec(m.counterOpts("frames_dropped_total", "Frames dropped by the codec layer by kind and reason"), []string{"kind", "reason"})
	m.linkConnected = auto.NewGaugeVec(m.gaugeOpts("link_connected", "1 when the peripheral session is connected"), []string{"peripheral"})
	m.linkStale = auto.NewGaugeVec(m.gaugeOpts("link_stale", "1 when the peripheral is connected but silent past the staleness window"), []string{"peripheral"})
	m.linkRSSI = auto.NewGaugeVec(m.gaugeOpts("link_rssi_dbm", "Last reported signal strength"), []string{"peripheral"})
	m.linkReconnects = auto.NewCounterVec(m.counterOpts("link_reconnects_total", "Reconnect attempts per peripheral"), []string{"peripheral"})
	m.linkLost = auto.NewCounterVec(m.counterOpts("link_lost_total", "Sessions that exhausted their retry budget"), []string{"peripheral"})
	m.replaySuppressed = auto.NewCounter(m.counterOpts("timer_replays_suppressed_total", "Timer frames dropped as replays after reconnect"))

	// Detection
	m.impactsEmitted = auto.NewCounterVec(m.counterOpts("impacts_emitted_total", "Impact events emitted by the detector"), []string{"peripheral"})
	m.candidatesRejected = auto.NewCounterVec(m.counterOpts("candidates_rejected_total", "Onset candidates rejected by the detector"), []string{"peripheral", "reason"})
	m.candidatesAbandoned = auto.NewCounterVec(m.counterOpts("candidates_abandoned_total", "Onset candidates flushed when a stream ended"), []string{"peripheral"})
	m.calibrations = auto.NewCounterVec(m.counterOpts("calibrations_total", "Baseline calibrations by outcome"), []string{"peripheral", "outcome"})
	m.impactMagnitude = auto.NewHistogram(m.histogramOpts("impact_peak_g", "Peak deviation of emitted impacts in g", []float64{0.25, 0.5, 1, 2, 4, 8, 16}))

	// Correlation
	m.matches = auto.NewCounter(m.counterOpts("matches_total", "Shot to impact pairs accepted"))
	m.expired = auto.NewCounterVec(m.counterOpts("expired_total", "Events expired unmatched by kind"), []string{"kind"})
	m.matchDelay = auto.NewHistogram(m.histogramOpts("match_delay_milliseconds", "Observed shot to impact delay", delayBuckets))
	m.modelMean = auto.NewGaugeVec(m.gaugeOpts("model_mean_delay_milliseconds", "Running mean delay per timer/sensor pairing"), []string{"pair"})
	m.modelPersists = auto.NewCounter(m.counterOpts("model_persists_total", "Correlation model saves"))
	m.modelPersistErrs = auto.NewCounter(m.counterOpts("model_persist_errors_total", "Correlation model saves that failed"))

	// Clock
	m.clockDrift = auto.NewGauge(m.gaugeOpts("clock_drift_milliseconds", "Current drift against the median reference"))
	m.clockQuality = auto.NewGauge(m.gaugeOpts("clock_quality", "Clock quality band, 0=excellent .. 4=critical"))
	m.clockDriftAlerts = auto.NewCounter(m.counterOpts("clock_drift_alerts_total", "Drift alerts fired"))
	m.clockCorrections = auto.NewCounter(m.counterOpts("clock_corrections_total", "Bounded clock corrections applied"))
	m.clockCorrectionSize = auto.NewHistogram(m.histogramOpts("clock_correction_milliseconds", "Absolute size of applied corrections", []float64{1, 2, 5, 10, 25, 50, 100, 250}))
	m.clockReferences = auto.NewGauge(m.gaugeOpts("clock_references_reachable", "Time references that answered the last check"))

	// Queue
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the outcome queue (backlog indicator)"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum capacity of the outcome queue"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Outcome queue utilization (0.0 to 1.0)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Outcomes enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Outcomes dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Outcomes rejected by the queue"))

	// Worker
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Number of outcome publisher workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Time to publish one outcome", m.histogramBuckets))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Outcome publish failures"))
	m.published = auto.NewCounterVec(m.counterOpts("published_total", "Outcomes published per sink"), []string{"sink"})

	// HTTP
	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "Status API requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "Status API request duration", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	// Errors
	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component and type"), []string{"component", "error_type"})

	// System
	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Link Metrics Functions.

// RecordFrameReceived counts a raw frame from a peripheral of the given kind.
func RecordFrameReceived(kind string) {
	globalManager.framesReceived.WithLabelValues(kind).Inc()
}

// RecordFrameDropped counts a frame rejected by the codec layer.
func RecordFrameDropped(kind, reason string) {
	globalManager.framesDropped.WithLabelValues(kind, reason).Inc()
}

// UpdateLinkConnected sets the connected gauge for a peripheral.
func UpdateLinkConnected(peripheral string, connected bool) {
	globalManager.linkConnected.WithLabelValues(peripheral).Set(boolGauge(connected))
}

// UpdateLinkStale sets the stale gauge for a peripheral.
func UpdateLinkStale(peripheral string, stale bool) {
	globalManager.linkStale.WithLabelValues(peripheral).Set(boolGauge(stale))
}

// UpdateLinkRSSI records the latest signal strength for a peripheral.
func UpdateLinkRSSI(peripheral string, rssi int) {
	globalManager.linkRSSI.WithLabelValues(peripheral).Set(float64(rssi))
}

// RecordLinkReconnect counts one reconnect attempt.
func RecordLinkReconnect(peripheral string) {
	globalManager.linkReconnects.WithLabelValues(peripheral).Inc()
}

// RecordLinkLost counts a session whose retry budget ran out.
func RecordLinkLost(peripheral string) {
	globalManager.linkLost.WithLabelValues(peripheral).Inc()
}

// RecordReplaySuppressed counts a timer frame dropped as a replay.
func RecordReplaySuppressed() {
	globalManager.replaySuppressed.Inc()
}

// Detection Metrics Functions.

// RecordImpactEmitted counts an emitted impact and observes its magnitude.
func RecordImpactEmitted(peripheral string, peakG float64) {
	globalManager.impactsEmitted.WithLabelValues(peripheral).Inc()
	globalManager.impactMagnitude.Observe(peakG)
}

// RecordCandidateRejected counts a rejected onset candidate.
func RecordCandidateRejected(peripheral, reason string) {
	globalManager.candidatesRejected.WithLabelValues(peripheral, reason).Inc()
}

// RecordCandidateAbandoned counts a candidate flushed on stream end.
func RecordCandidateAbandoned(peripheral string) {
	globalManager.candidatesAbandoned.WithLabelValues(peripheral).Inc()
}

// RecordCalibration counts a baseline calibration outcome ("ok", "timeout").
func RecordCalibration(peripheral, outcome string) {
	globalManager.calibrations.WithLabelValues(peripheral, outcome).Inc()
}

// Correlation Metrics Functions.

// RecordMatch counts an accepted pair and observes its delay.
func RecordMatch(delayMs float64) {
	globalManager.matches.Inc()
	globalManager.matchDelay.Observe(delayMs)
}

// RecordExpired counts an event expired unmatched ("shot" or "impact").
func RecordExpired(kind string) {
	globalManager.expired.WithLabelValues(kind).Inc()
}

// UpdateModelMean sets the running mean delay for a pairing.
func UpdateModelMean(pair string, meanMs float64) {
	globalManager.modelMean.WithLabelValues(pair).Set(meanMs)
}

// RecordModelPersist counts a model save attempt.
func RecordModelPersist(err error) {
	if err != nil {
		globalManager.modelPersistErrs.Inc()
		return
	}
	globalManager.modelPersists.Inc()
}

// Clock Metrics Functions.

// UpdateClockDrift sets the current drift in milliseconds.
func UpdateClockDrift(driftMs float64) {
	globalManager.clockDrift.Set(driftMs)
}

// UpdateClockQuality sets the quality band ordinal.
func UpdateClockQuality(level int) {
	globalManager.clockQuality.Set(float64(level))
}

// RecordDriftAlert counts a drift alert.
func RecordDriftAlert() {
	globalManager.clockDriftAlerts.Inc()
}

// RecordClockCorrection counts an applied correction of the given size.
func RecordClockCorrection(amountMs float64) {
	if amountMs < 0 {
		amountMs = -amountMs
	}
	globalManager.clockCorrections.Inc()
	globalManager.clockCorrectionSize.Observe(amountMs)
}

// UpdateReferencesReachable sets how many references answered.
func UpdateReferencesReachable(n int) {
	globalManager.clockReferences.Set(float64(n))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordPublished counts an outcome delivered to a sink.
func RecordPublished(sink string) {
	globalManager.published.WithLabelValues(sink).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
