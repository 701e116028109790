package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/endstate/pkg/engine"
)

// Metrics provides Prometheus metrics for endstate runs. It implements
// engine.MetricsRecorder.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRunFailed *prometheus.GaugeVec

	// Install metrics
	installsStarted  *prometheus.CounterVec
	installsFinished *prometheus.CounterVec
	installDuration  *prometheus.HistogramVec
	workersActive    prometheus.Gauge

	// Plan metrics
	planActions *prometheus.GaugeVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance; every recorder method checks for nil collectors.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of completed runs",
			},
			[]string{"command", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),
		lastRunFailed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_failed_actions",
				Help:      "Number of failed actions in the most recent run",
			},
			[]string{"command"},
		),

		installsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_started_total",
				Help:      "Total number of install attempts",
			},
			[]string{"driver"},
		),
		installsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_finished_total",
				Help:      "Total number of finished installs by outcome",
			},
			[]string{"driver", "outcome"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of driver install calls in seconds",
				Buckets:   buckets,
			},
			[]string{"driver"},
		),
		workersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_active",
				Help:      "Current number of parallel installs in flight",
			},
		),

		planActions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plan_actions",
				Help:      "Actions in the most recent plan by type and status",
			},
			[]string{"type", "status"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.lastRunFailed,
		m.installsStarted,
		m.installsFinished,
		m.installDuration,
		m.workersActive,
		m.planActions,
		m.errorsByCode,
	)

	return m, nil
}

// Run Metrics

// RecordRun records a finished run.
func (m *Metrics) RecordRun(command string, failed int, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	outcome := "success"
	if failed > 0 {
		outcome = "partial"
	}
	m.runsCompleted.WithLabelValues(command, outcome).Inc()
	m.runDuration.WithLabelValues(command).Observe(duration.Seconds())
	m.lastRunFailed.WithLabelValues(command).Set(float64(failed))
}

// Install Metrics

// InstallStarted counts an install attempt.
func (m *Metrics) InstallStarted(driver string) {
	if m.installsStarted == nil {
		return
	}
	m.installsStarted.WithLabelValues(driver).Inc()
}

// InstallFinished records the outcome and duration of an install.
func (m *Metrics) InstallFinished(driver string, success bool, duration time.Duration) {
	if m.installsFinished == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.installsFinished.WithLabelValues(driver, outcome).Inc()
	m.installDuration.WithLabelValues(driver).Observe(duration.Seconds())
}

// WorkersActive sets the number of parallel installs in flight.
func (m *Metrics) WorkersActive(n int) {
	if m.workersActive == nil {
		return
	}
	m.workersActive.Set(float64(n))
}

// Plan Metrics

// RecordPlan sets the action gauges from plan.
func (m *Metrics) RecordPlan(plan *engine.Plan) {
	if m.planActions == nil || plan == nil {
		return
	}
	m.planActions.Reset()
	for _, a := range plan.Actions {
		m.planActions.WithLabelValues(string(a.Type), string(a.Status)).Inc()
	}
}

// Error Metrics

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in Prometheus text format to the
// configured textfile path. It is a no-op when metrics are disabled or no
// path is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
