// Package metrics provides Prometheus metrics for the rollcall attendance service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcome label values.
const (
	OutcomeNoFace     = "no_face"
	OutcomeUnknown    = "unknown"
	OutcomeRecorded   = "recorded"
	OutcomeSuppressed = "suppressed"
	OutcomeError      = "error"
)

// Latency buckets in milliseconds; extraction against a remote model
// server sits in the hundreds.
var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000} //nolint:gochecknoglobals // bucket table

// Distance buckets cover normalised embeddings (0..2).
var distanceBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.7, 0.8, 1, 1.5, 2} //nolint:gochecknoglobals // bucket table

// Manager manages all Prometheus metrics for the attendance service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    prometheus.Labels
	registry       prometheus.Registerer

	// Polling loop
	ticks          *prometheus.CounterVec
	loopRunning    prometheus.Gauge
	extractLatency prometheus.Histogram
	matchDistance  prometheus.Histogram

	// Attendance decisions
	attendanceRecorded   prometheus.Counter
	attendanceSuppressed prometheus.Counter

	// Enrollment
	enrollments        prometheus.Counter
	enrollmentCaptures *prometheus.CounterVec

	// Roster index
	rosterEmployees       prometheus.Gauge
	rosterReferences      prometheus.Gauge
	rosterRebuildDuration prometheus.Histogram

	// Store
	storeLatency  *prometheus.HistogramVec
	storageErrors *prometheus.CounterVec

	// Status bus
	statusQueueSize     prometheus.Gauge
	statusQueueCapacity prometheus.Gauge
	statusDropped       prometheus.Counter

	// Camera
	cameraFrames *prometheus.CounterVec
	cameraErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
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
		namespace:      "rollcall",
		subsystem:      "attendance",
		latencyBuckets: defaultLatencyBuckets,
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.ticks = m.counterVec("ticks_total", "Polling loop ticks by outcome", "outcome")
	m.loopRunning = m.gauge("loop_running", "1 while a polling loop is active")
	m.extractLatency = m.histogram("extract_latency_ms", "Frame acquisition plus embedding extraction latency in milliseconds", m.latencyBuckets)
	m.matchDistance = m.histogram("match_distance", "Distance of the nearest roster embedding per detected face", distanceBuckets)

	m.attendanceRecorded = m.counter("records_total", "Attendance records written")
	m.attendanceSuppressed = m.counter("suppressed_total", "Matches suppressed by the cooldown window")

	m.enrollments = m.counter("enrollments_total", "Enrollment sessions committed")
	m.enrollmentCaptures = m.counterVec("enrollment_captures_total", "Enrollment captures by result", "result")

	m.rosterEmployees = m.gauge("roster_employees", "Employees in the active matcher snapshot")
	m.rosterReferences = m.gauge("roster_references", "Reference embeddings in the active matcher snapshot")
	m.rosterRebuildDuration = m.histogram("roster_rebuild_duration_ms", "Matcher rebuild time in milliseconds", m.latencyBuckets)

	m.storeLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_latency_ms",
		Help:        "Roster store operation latency in milliseconds",
		ConstLabels: m.constLabels,
		Buckets:     m.latencyBuckets,
	}, []string{"op"})
	m.storageErrors = m.counterVec("storage_errors_total", "Roster store failures by operation", "op")

	m.statusQueueSize = m.gauge("status_queue_size", "Statuses buffered on the status bus")
	m.statusQueueCapacity = m.gauge("status_queue_capacity", "Capacity of the status bus")
	m.statusDropped = m.counter("status_dropped_total", "Statuses dropped because the bus was full")

	m.cameraFrames = m.counterVec("camera_frames_total", "Frames fetched per facing", "facing")
	m.cameraErrors = m.counterVec("camera_errors_total", "Frame fetch failures per facing", "facing")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request duration in seconds",
		ConstLabels: m.constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
}

// RecordTick counts one polling tick with its outcome label.
func RecordTick(outcome string) {
	globalManager.ticks.WithLabelValues(outcome).Inc()
}

// UpdateLoopRunning flips the loop_running gauge.
func UpdateLoopRunning(running bool) {
	if running {
		globalManager.loopRunning.Set(1)
		return
	}
	globalManager.loopRunning.Set(0)
}

// RecordExtractLatency records frame+extract latency.
func RecordExtractLatency(latencyMs float64) {
	globalManager.extractLatency.Observe(latencyMs)
}

// RecordMatchDistance records the nearest distance of a detected face.
func RecordMatchDistance(distance float64) {
	globalManager.matchDistance.Observe(distance)
}

func RecordAttendanceRecorded() {
	globalManager.attendanceRecorded.Inc()
}

func RecordAttendanceSuppressed() {
	globalManager.attendanceSuppressed.Inc()
}

func RecordEnrollment() {
	globalManager.enrollments.Inc()
}

// RecordEnrollmentCapture counts a capture; result is "ok" or "no_face".
func RecordEnrollmentCapture(result string) {
	globalManager.enrollmentCaptures.WithLabelValues(result).Inc()
}

// UpdateRosterSize publishes the size of the active matcher snapshot.
func UpdateRosterSize(employees, references int) {
	globalManager.rosterEmployees.Set(float64(employees))
	globalManager.rosterReferences.Set(float64(references))
}

func RecordRosterRebuild(latencyMs float64) {
	globalManager.rosterRebuildDuration.Observe(latencyMs)
}

// RecordStoreLatency records a store call by operation name.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

func RecordStorageError(op string) {
	globalManager.storageErrors.WithLabelValues(op).Inc()
}

func UpdateStatusQueueSize(size int) {
	globalManager.statusQueueSize.Set(float64(size))
}

func UpdateStatusQueueCapacity(capacity int) {
	globalManager.statusQueueCapacity.Set(float64(capacity))
}

func RecordStatusDropped() {
	globalManager.statusDropped.Inc()
}

func RecordCameraFrame(facing string) {
	globalManager.cameraFrames.WithLabelValues(facing).Inc()
}

func RecordCameraError(facing string) {
	globalManager.cameraErrors.WithLabelValues(facing).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error for a specific component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom registry used for metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
