package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	PassesTotal    *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StaleDiscarded prometheus.Counter
	InFlight       prometheus.Gauge

	// Library metrics
	LibraryLoads   *prometheus.CounterVec
	LibraryFetches *prometheus.CounterVec
	LibraryBytes   prometheus.Counter
	LibrariesReady prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for the state API
type MetricsSnapshot struct {
	Passes    int64 `json:"passes"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Stale     int64 `json:"stale"`
}

// NewMetrics creates a metrics collector backed by its own registry, so that
// several collectors can coexist in one process (tests, embedded use).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vizhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vizhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		PassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vizhost_pipeline_passes_total",
				Help: "Pipeline passes by outcome status and dimension",
			},
			[]string{"status", "dimension"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vizhost_pipeline_stage_duration_seconds",
				Help:    "Duration of each pipeline stage",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 15},
			},
			[]string{"stage"},
		),
		StaleDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vizhost_pipeline_stale_discarded_total",
				Help: "Passes whose effects were discarded because a newer pass reached execution",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vizhost_pipeline_in_flight",
				Help: "Pipeline passes currently between arrival and settlement",
			},
		),

		LibraryLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vizhost_library_loads_total",
				Help: "EnsureLoaded calls by library id and result (hit, shared, fetched, failed)",
			},
			[]string{"library", "result"},
		),
		LibraryFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vizhost_library_fetches_total",
				Help: "Underlying resource fetches by scheme and status",
			},
			[]string{"scheme", "status"},
		),
		LibraryBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vizhost_library_bytes_total",
				Help: "Bytes of library source fetched",
			},
		),
		LibrariesReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vizhost_libraries_resident",
				Help: "Number of resident library handles",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vizhost_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vizhost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Recording methods are no-ops on a nil *Metrics.

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPass records a settled pipeline pass
func (m *Metrics) RecordPass(status, dimension string) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(status, dimension).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Passes++
	switch status {
	case "succeeded", "noop":
		m.snapshot.Succeeded++
	case "failed", "rejected":
		m.snapshot.Failed++
	case "stale":
		m.snapshot.Stale++
		m.StaleDiscarded.Inc()
	}
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// PassStarted counts a pass entering the pipeline
func (m *Metrics) PassStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// PassFinished counts a pass leaving the pipeline
func (m *Metrics) PassFinished() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// RecordLibraryLoad records the result of an EnsureLoaded call
func (m *Metrics) RecordLibraryLoad(library, result string) {
	if m == nil {
		return
	}
	m.LibraryLoads.WithLabelValues(library, result).Inc()
}

// RecordFetch records an underlying resource fetch
func (m *Metrics) RecordFetch(scheme, status string, size int) {
	if m == nil {
		return
	}
	m.LibraryFetches.WithLabelValues(scheme, status).Inc()
	if size > 0 {
		m.LibraryBytes.Add(float64(size))
	}
}

// SetLibrariesResident sets the number of resident library handles
func (m *Metrics) SetLibrariesResident(count int) {
	if m == nil {
		return
	}
	m.LibrariesReady.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns current pass counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
