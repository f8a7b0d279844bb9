package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for OpenLander.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Attempt metrics
	attemptsExecuted *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	backoffDuration  *prometheus.HistogramVec

	// Classification metrics
	classifications *prometheus.CounterVec

	// Remediation metrics
	fixesApplied *prometheus.CounterVec
	fixesGated   *prometheus.CounterVec

	// Region metrics
	regionResolutions   *prometheus.CounterVec
	regionReResolutions *prometheus.CounterVec

	// Health probe metrics
	probesExecuted *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns     prometheus.Gauge
	runsBackingOff prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of deployment runs started",
			},
			[]string{"environment"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of deployment runs completed",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of deployment runs in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),

		// Attempt metrics
		attemptsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_executed_total",
				Help:      "Total number of apply attempts executed",
			},
			[]string{"status", "error_kind"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Duration of apply attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"region", "tier"},
		),
		backoffDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backoff_duration_seconds",
				Help:      "Duration of backoff sleeps between attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"error_kind"},
		),

		// Classification metrics
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Total number of diagnostic classifications by error kind",
			},
			[]string{"kind", "rule_id"},
		),

		// Remediation metrics
		fixesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fixes_applied_total",
				Help:      "Total number of autonomous fixes applied",
			},
			[]string{"rule_id", "verification"},
		),
		fixesGated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fixes_gated_total",
				Help:      "Total number of fixes withheld for human review",
			},
			[]string{"rule_id", "risk"},
		),

		// Region metrics
		regionResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "region_resolutions_total",
				Help:      "Total number of region resolutions by outcome",
			},
			[]string{"region", "tier"},
		),
		regionReResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "region_re_resolutions_total",
				Help:      "Total number of mid-run re-resolutions after quota failures",
			},
			[]string{"excluded_region"},
		),

		// Health probe metrics
		probesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_executed_total",
				Help:      "Total number of health probes executed",
			},
			[]string{"type", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of health probes in seconds",
				Buckets:   buckets,
			},
			[]string{"service"},
		),

		// Provider metrics
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"provider", "operation"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active deployment runs",
			},
		),
		runsBackingOff: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_backing_off",
				Help:      "Current number of runs sleeping before a retry",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.attemptsExecuted,
		m.attemptDuration,
		m.backoffDuration,
		m.classifications,
		m.fixesApplied,
		m.fixesGated,
		m.regionResolutions,
		m.regionReResolutions,
		m.probesExecuted,
		m.probeDuration,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
		m.runsBackingOff,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(environment string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(environment).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its final state and duration.
func (m *Metrics) RecordRunCompleted(state string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(state).Inc()
	m.runDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Attempt Metrics

// RecordAttempt records one apply attempt. errorKind is empty for
// successful attempts.
func (m *Metrics) RecordAttempt(status, errorKind, region, tier string, duration time.Duration) {
	if m.attemptsExecuted == nil {
		return
	}
	m.attemptsExecuted.WithLabelValues(status, errorKind).Inc()
	m.attemptDuration.WithLabelValues(region, tier).Observe(duration.Seconds())
}

// RecordBackoff records a backoff sleep scheduled after a failed attempt.
func (m *Metrics) RecordBackoff(errorKind string, duration time.Duration) {
	if m.backoffDuration == nil {
		return
	}
	m.backoffDuration.WithLabelValues(errorKind).Observe(duration.Seconds())
}

// Classification Metrics

// RecordClassification records a diagnostic classification result.
func (m *Metrics) RecordClassification(kind, ruleID string) {
	if m.classifications == nil {
		return
	}
	m.classifications.WithLabelValues(kind, ruleID).Inc()
}

// Remediation Metrics

// RecordFixApplied records an autonomous fix and its verification verdict.
func (m *Metrics) RecordFixApplied(ruleID, verification string) {
	if m.fixesApplied == nil {
		return
	}
	m.fixesApplied.WithLabelValues(ruleID, verification).Inc()
}

// RecordFixGated records a fix withheld because its risk exceeded the
// autonomous ceiling.
func (m *Metrics) RecordFixGated(ruleID, risk string) {
	if m.fixesGated == nil {
		return
	}
	m.fixesGated.WithLabelValues(ruleID, risk).Inc()
}

// Region Metrics

// RecordRegionResolution records the region and tier a resolution chose.
func (m *Metrics) RecordRegionResolution(region, tier string) {
	if m.regionResolutions == nil {
		return
	}
	m.regionResolutions.WithLabelValues(region, tier).Inc()
}

// RecordRegionReResolution records a mid-run re-resolution that excluded
// a quota-exhausted region.
func (m *Metrics) RecordRegionReResolution(excludedRegion string) {
	if m.regionReResolutions == nil {
		return
	}
	m.regionReResolutions.WithLabelValues(excludedRegion).Inc()
}

// Health Probe Metrics

// RecordProbe records a health probe execution.
func (m *Metrics) RecordProbe(probeType, result, service string, duration time.Duration) {
	if m.probesExecuted == nil {
		return
	}
	m.probesExecuted.WithLabelValues(probeType, result).Inc()
	m.probeDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// IncRunsBackingOff marks one more run as sleeping before a retry.
func (m *Metrics) IncRunsBackingOff() {
	if m.runsBackingOff == nil {
		return
	}
	m.runsBackingOff.Inc()
}

// DecRunsBackingOff marks one run as done sleeping.
func (m *Metrics) DecRunsBackingOff() {
	if m.runsBackingOff == nil {
		return
	}
	m.runsBackingOff.Dec()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
