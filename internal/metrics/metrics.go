// Package metrics provides Prometheus-based metrics collection for
// vulnhawk. Collectors live on a private registry so tests can create
// isolated instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "vulnhawk"

	subsystemScan   = "scan"
	subsystemModule = "module"
	subsystemAPI    = "api"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	activeScans   prometheus.Gauge
	findingsTotal *prometheus.CounterVec
	assetsTotal   prometheus.Counter

	moduleRuns     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "total",
				Help:      "Total number of scans by profile and final status",
			},
			[]string{"profile", "status"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "duration_seconds",
				Help:      "Duration of scan runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"profile"},
		),
		activeScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "active",
				Help:      "Number of scans currently running",
			},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "findings_total",
				Help:      "Total findings recorded by severity and novelty",
			},
			[]string{"severity", "novelty"},
		),
		assetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "assets_discovered_total",
				Help:      "Total newly discovered assets",
			},
		),
		moduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemModule,
				Name:      "runs_total",
				Help:      "Total module executions by module and status",
			},
			[]string{"module", "status"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemModule,
				Name:      "duration_seconds",
				Help:      "Duration of module executions in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"module"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemAPI,
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemAPI,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.scansTotal, m.scanDuration, m.activeScans,
		m.findingsTotal, m.assetsTotal,
		m.moduleRuns, m.moduleDuration,
		m.httpRequests, m.httpDuration,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// ScanStarted marks a scan as running.
func (m *Metrics) ScanStarted() {
	m.activeScans.Inc()
}

// ScanFinished records a scan's terminal status and duration.
func (m *Metrics) ScanFinished(profile, status string, duration time.Duration) {
	m.activeScans.Dec()
	m.scansTotal.WithLabelValues(profile, status).Inc()
	m.scanDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

// ModuleFinished records one module execution.
func (m *Metrics) ModuleFinished(module, status string, duration time.Duration) {
	m.moduleRuns.WithLabelValues(module, status).Inc()
	m.moduleDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// FindingRecorded counts one observed finding. Novelty is "new" or
// "recurring".
func (m *Metrics) FindingRecorded(severity, novelty string) {
	m.findingsTotal.WithLabelValues(severity, novelty).Inc()
}

// AssetDiscovered counts one newly discovered asset.
func (m *Metrics) AssetDiscovered() {
	m.assetsTotal.Inc()
}

// HTTPRequest records one API request.
func (m *Metrics) HTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
