// Package metrics provides Prometheus metrics for the orbit session and store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the orbit processes.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion
	bootstrapsApplied *prometheus.CounterVec
	bootstrapsDropped *prometheus.CounterVec
	deltasApplied     prometheus.Counter
	deltasRejected    *prometheus.CounterVec
	malformedPayloads *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	transportFailures *prometheus.CounterVec

	// Orbit state
	lapResets    prometheus.Counter
	registrySize prometheus.Gauge
	usedSlots    prometheus.Gauge
	lapNumber    prometheus.Gauge

	// Submission
	submissions       *prometheus.CounterVec
	submissionLatency prometheus.Histogram

	// Push channel
	pushReconnects  prometheus.Counter
	pushSubscribers prometheus.Gauge

	// Store
	storeRecords   prometheus.Gauge
	storeConflicts prometheus.Counter
	storeDuplicate prometheus.Counter

	// Queue
	queueCapacity    prometheus.Gauge
	queueSize        *prometheus.GaugeVec
	queueEnqueued    *prometheus.CounterVec
	queueRejected    *prometheus.CounterVec
	workerProcessing *prometheus.HistogramVec
	workerErrors     *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegisterer(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "orbit",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.bootstrapsApplied = m.counterVec("bootstraps_applied_total",
		"Bootstrap payloads applied to the working set", "source")
	m.bootstrapsDropped = m.counterVec("bootstraps_dropped_total",
		"Bootstrap payloads dropped before application", "reason")
	m.deltasApplied = m.counter("deltas_applied_total",
		"Single-record deltas appended to the registry")
	m.deltasRejected = m.counterVec("deltas_rejected_total",
		"Single-record deltas rejected", "reason")
	m.malformedPayloads = m.counterVec("malformed_payloads_total",
		"Push payloads that matched neither bootstrap nor delta shape", "channel")
	m.fetchLatency = m.histogram("fetch_latency_milliseconds",
		"Latency of full-history fetches against the store")
	m.transportFailures = m.counterVec("transport_failures_total",
		"Fetch, push and geolocation failures", "source")

	m.lapResets = m.counter("lap_resets_total",
		"Times the registry was reset because a new lap started")
	m.registrySize = m.gauge("registry_entries",
		"Ring entries currently rendered")
	m.usedSlots = m.gauge("used_slots",
		"Slots occupied in the current lap, pending slot included")
	m.lapNumber = m.gauge("lap_number",
		"1-based index of the lap currently shown")

	m.submissions = m.counterVec("submissions_total",
		"Submission attempts by outcome", "outcome")
	m.submissionLatency = m.histogram("submission_latency_milliseconds",
		"Latency of submitRecord round trips")

	m.pushReconnects = m.counter("push_reconnects_total",
		"Push channel reconnect attempts")
	m.pushSubscribers = m.gauge("push_subscribers",
		"Push channel subscribers connected to the store")

	m.storeRecords = m.gauge("store_records",
		"Contribution records persisted by the store")
	m.storeConflicts = m.counter("store_conflicts_total",
		"Submissions rejected because the slot was taken in the current lap")
	m.storeDuplicate = m.counter("store_duplicates_total",
		"Submissions acknowledged as duplicates of an already stored record")

	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueSize = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "queue_size", Help: "Items waiting in the queue",
	}, []string{"queue"})
	m.queueEnqueued = m.counterVec("queue_enqueued_total", "Items enqueued", "queue")
	m.queueRejected = m.counterVec("queue_rejected_total", "Items rejected by the queue", "queue", "reason")
	m.workerProcessing = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "worker_processing_milliseconds", Help: "Time spent handling one queued item",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
	}, []string{"worker"})
	m.workerErrors = m.counterVec("worker_errors_total", "Handler errors per worker", "worker")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"HTTP errors by endpoint and error type", "endpoint", "method", "error_type")
}

// Ingestion.

// RecordBootstrapApplied counts a bootstrap applied from source (poll, push, cache).
func RecordBootstrapApplied(source string) {
	globalManager.bootstrapsApplied.WithLabelValues(source).Inc()
}

// RecordBootstrapDropped counts a bootstrap dropped for reason (stale, invalid).
func RecordBootstrapDropped(reason string) {
	globalManager.bootstrapsDropped.WithLabelValues(reason).Inc()
}

// RecordDeltaApplied counts an applied delta.
func RecordDeltaApplied() { globalManager.deltasApplied.Inc() }

// RecordDeltaRejected counts a rejected delta.
func RecordDeltaRejected(reason string) {
	globalManager.deltasRejected.WithLabelValues(reason).Inc()
}

// RecordMalformedPayload counts a payload dropped by the discriminator.
func RecordMalformedPayload(channel string) {
	globalManager.malformedPayloads.WithLabelValues(channel).Inc()
}

// RecordFetchLatency records a full-history fetch latency.
func RecordFetchLatency(latencyMs float64) { globalManager.fetchLatency.Observe(latencyMs) }

// RecordTransportFailure counts a transport failure by source.
func RecordTransportFailure(source string) {
	globalManager.transportFailures.WithLabelValues(source).Inc()
}

// Orbit state.

// RecordLapReset counts a visual lap reset.
func RecordLapReset() { globalManager.lapResets.Inc() }

// UpdateRegistrySize sets the number of rendered ring entries.
func UpdateRegistrySize(n int) { globalManager.registrySize.Set(float64(n)) }

// UpdateUsedSlots sets the number of occupied slots.
func UpdateUsedSlots(n int) { globalManager.usedSlots.Set(float64(n)) }

// UpdateLapNumber sets the current lap index.
func UpdateLapNumber(n int) { globalManager.lapNumber.Set(float64(n)) }

// Submission.

// RecordSubmission counts a submission attempt by outcome.
func RecordSubmission(outcome string) {
	globalManager.submissions.WithLabelValues(outcome).Inc()
}

// RecordSubmissionLatency records a submitRecord round trip.
func RecordSubmissionLatency(latencyMs float64) {
	globalManager.submissionLatency.Observe(latencyMs)
}

// Push channel.

// RecordPushReconnect counts a reconnect attempt.
func RecordPushReconnect() { globalManager.pushReconnects.Inc() }

// UpdatePushSubscribers sets the number of live subscribers on the hub.
func UpdatePushSubscribers(n int) { globalManager.pushSubscribers.Set(float64(n)) }

// Store.

// UpdateStoreRecords sets the number of persisted records.
func UpdateStoreRecords(n int) { globalManager.storeRecords.Set(float64(n)) }

// RecordStoreConflict counts a slot race lost at the store.
func RecordStoreConflict() { globalManager.storeConflicts.Inc() }

// RecordStoreDuplicate counts an idempotent resubmission.
func RecordStoreDuplicate() { globalManager.storeDuplicate.Inc() }

// Queue and worker.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueSize sets the current size of the named queue.
func UpdateQueueSize(queue string, size int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
}

// RecordQueueEnqueue counts an accepted item.
func RecordQueueEnqueue(queue string) { globalManager.queueEnqueued.WithLabelValues(queue).Inc() }

// RecordQueueRejected counts a rejected item.
func RecordQueueRejected(queue, reason string) {
	globalManager.queueRejected.WithLabelValues(queue, reason).Inc()
}

// RecordWorkerProcessing records the time a worker spent on one item.
func RecordWorkerProcessing(worker string, latencyMs float64) {
	globalManager.workerProcessing.WithLabelValues(worker).Observe(latencyMs)
}

// RecordWorkerError counts a handler error.
func RecordWorkerError(worker string) { globalManager.workerErrors.WithLabelValues(worker).Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
